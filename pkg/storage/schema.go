package storage

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Key prefixes for different data types
const (
	prefixEvents = "/data/events/"
	prefixTxMeta = "/data/txmeta/"
	prefixDaily  = "/data/daily/"

	prefixTxTime = "/index/txtime/"
)

// Metadata keys
const (
	keyEventCount = "/meta/ec"
)

// EventKey returns the key of a transfer event.
// Format: /data/events/{block}/{txhash}/{logindex}
// Block and log index are zero-padded so keys sort by block.
func EventKey(block uint64, txHash string, logIndex uint) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s/%010d", prefixEvents, block, txHash, logIndex))
}

// EventKeyPrefix returns the prefix of all event keys
func EventKeyPrefix() []byte {
	return []byte(prefixEvents)
}

// ParseEventKey returns the block number and tx hash of an event key
func ParseEventKey(key []byte) (uint64, string, error) {
	keyStr := string(key)
	if !strings.HasPrefix(keyStr, prefixEvents) {
		return 0, "", fmt.Errorf("invalid event key prefix: %s", keyStr)
	}

	segments := strings.Split(strings.TrimPrefix(keyStr, prefixEvents), "/")
	if len(segments) != 3 {
		return 0, "", fmt.Errorf("invalid event key format: %s", keyStr)
	}

	block, err := strconv.ParseUint(segments[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid event key block: %w", err)
	}
	return block, segments[1], nil
}

// TxMetaKey returns the key of transaction metadata.
// Format: /data/txmeta/{txhash}
func TxMetaKey(txHash string) []byte {
	return []byte(prefixTxMeta + txHash)
}

// TxTimeIndexKey orders transactions by block time.
// Format: /index/txtime/{unix seconds}/{txhash}
func TxTimeIndexKey(unix int64, txHash string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", prefixTxTime, unix, txHash))
}

// TxTimeIndexKeyPrefix returns the prefix of the block time index
func TxTimeIndexKeyPrefix() []byte {
	return []byte(prefixTxTime)
}

// ParseTxTimeIndexKey returns the unix seconds of a block time index key
func ParseTxTimeIndexKey(key []byte) (int64, error) {
	keyStr := string(key)
	if !strings.HasPrefix(keyStr, prefixTxTime) {
		return 0, fmt.Errorf("invalid tx time key prefix: %s", keyStr)
	}

	seconds, _, ok := strings.Cut(strings.TrimPrefix(keyStr, prefixTxTime), "/")
	if !ok {
		return 0, fmt.Errorf("invalid tx time key format: %s", keyStr)
	}
	unix, err := strconv.ParseInt(seconds, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid tx time key: %w", err)
	}
	return unix, nil
}

// DailyMetricKey returns the key of one day of metrics.
// Format: /data/daily/{YYYY-MM-DD}
func DailyMetricKey(date string) []byte {
	return []byte(prefixDaily + date)
}

// DailyMetricKeyPrefix returns the prefix of all daily metric keys
func DailyMetricKeyPrefix() []byte {
	return []byte(prefixDaily)
}

// EventCountKey returns the key of the stored event counter
func EventCountKey() []byte {
	return []byte(keyEventCount)
}

// EncodeUint64 encodes uint64 to bytes in big-endian format
func EncodeUint64(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// DecodeUint64 decodes bytes to uint64 in big-endian format
func DecodeUint64(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid uint64 data length: %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// incrementPrefix returns a prefix that is one greater than the input.
// Used for creating upper bounds in range scans.
func incrementPrefix(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	result := make([]byte, len(prefix))
	copy(result, prefix)
	for i := len(result) - 1; i >= 0; i-- {
		if result[i] < 0xff {
			result[i]++
			return result
		}
		result[i] = 0
	}
	return append(result, 0)
}
