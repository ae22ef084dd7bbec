package collector

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)")
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// DecodeTransfers turns ERC-20 Transfer logs into events that involve target
// as sender or receiver. Logs that are not well-formed transfers, or were
// removed by a reorg, are skipped and counted in the second return value.
func DecodeTransfers(logs []ethtypes.Log, target common.Address) ([]types.TransferEvent, int) {
	var (
		events  []types.TransferEvent
		skipped int
	)

	for i := range logs {
		log := &logs[i]
		if !isTransferLog(log) {
			skipped++
			continue
		}

		from := common.BytesToAddress(log.Topics[1].Bytes())
		to := common.BytesToAddress(log.Topics[2].Bytes())
		if from != target && to != target {
			continue
		}

		events = append(events, types.TransferEvent{
			TxHash:      log.TxHash.Hex(),
			LogIndex:    log.Index,
			BlockNumber: log.BlockNumber,
			From:        lowerHex(from),
			To:          lowerHex(to),
			Value:       new(big.Int).SetBytes(log.Data[:32]),
		})
	}

	return events, skipped
}

func isTransferLog(log *ethtypes.Log) bool {
	return !log.Removed &&
		len(log.Topics) == 3 &&
		log.Topics[0] == TransferTopic &&
		log.TxHash != (common.Hash{}) &&
		len(log.Data) >= 32
}

func lowerHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
