package client

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RPG812/debridge-token-analytics/pkg/retry"
	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

var (
	testTopic    = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	testContract = common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	testTxHash   = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcHandler answers one JSON-RPC method call. A non-zero status short-circuits
// with a bare HTTP error.
type rpcHandler func(method string, params json.RawMessage) (result interface{}, rpcErr *rpcError, status int)

func newRPCServer(t *testing.T, handler rpcHandler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		result, rpcErr, status := handler(req.Method, req.Params)
		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fastRetry() retry.Policy {
	return retry.Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newTestClient(t *testing.T, endpoints ...string) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), &Config{
		Endpoints: endpoints,
		Timeout:   time.Second,
		Contract:  testContract,
		Topic:     testTopic,
		Retry:     fastRetry(),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func chainIDOr(method string, fn rpcHandler) rpcHandler {
	return func(m string, params json.RawMessage) (interface{}, *rpcError, int) {
		if m == "eth_chainId" {
			return "0x1", nil, 0
		}
		if fn == nil || (method != "" && m != method) {
			return nil, &rpcError{Code: -32601, Message: "method not found"}, 0
		}
		return fn(m, params)
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(context.Background(), nil)
	assert.Error(t, err)

	_, err = NewClient(context.Background(), &Config{Topic: testTopic})
	assert.Error(t, err)

	_, err = NewClient(context.Background(), &Config{Endpoints: []string{"http://localhost:1"}})
	assert.Error(t, err)
}

func TestGetLatestBlockNumber(t *testing.T) {
	srv := newRPCServer(t, chainIDOr("eth_blockNumber", func(string, json.RawMessage) (interface{}, *rpcError, int) {
		return "0x1234", nil, 0
	}))

	c := newTestClient(t, srv.URL)
	head, err := c.GetLatestBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1234), head)
}

func TestGetLogs_FiltersByContractAndTopic(t *testing.T) {
	var seen map[string]interface{}
	log := ethtypes.Log{
		Address:     testContract,
		Topics:      []common.Hash{testTopic, {}, {}},
		Data:        common.LeftPadBytes(big.NewInt(5).Bytes(), 32),
		BlockNumber: 95,
		TxHash:      common.HexToHash(testTxHash),
		Index:       3,
	}

	srv := newRPCServer(t, chainIDOr("eth_getLogs", func(_ string, params json.RawMessage) (interface{}, *rpcError, int) {
		var args []map[string]interface{}
		_ = json.Unmarshal(params, &args)
		seen = args[0]
		return []ethtypes.Log{log}, nil, 0
	}))

	c := newTestClient(t, srv.URL)
	logs, err := c.GetLogs(context.Background(), types.BlockRange{From: 90, To: 99})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, uint(3), logs[0].Index)

	assert.Equal(t, "0x5a", seen["fromBlock"])
	assert.Equal(t, "0x63", seen["toBlock"])
	assert.Contains(t, seen["address"], strings.ToLower(testContract.Hex()))
}

func TestGetLogs_RateLimitNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := newRPCServer(t, chainIDOr("eth_getLogs", func(string, json.RawMessage) (interface{}, *rpcError, int) {
		calls.Add(1)
		return nil, nil, http.StatusTooManyRequests
	}))

	c := newTestClient(t, srv.URL)
	_, err := c.GetLogs(context.Background(), types.BlockRange{From: 1, To: 2})

	assert.ErrorIs(t, err, types.ErrRateLimited)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetLogs_TransientErrorRetried(t *testing.T) {
	var calls atomic.Int32
	srv := newRPCServer(t, chainIDOr("eth_getLogs", func(string, json.RawMessage) (interface{}, *rpcError, int) {
		if calls.Add(1) < 3 {
			return nil, &rpcError{Code: -32000, Message: "header not found"}, 0
		}
		return []ethtypes.Log{}, nil, 0
	}))

	c := newTestClient(t, srv.URL)
	logs, err := c.GetLogs(context.Background(), types.BlockRange{From: 1, To: 2})

	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFallback_PrefersHealthyEndpoint(t *testing.T) {
	var primaryCalls, secondaryCalls atomic.Int32
	primary := newRPCServer(t, chainIDOr("eth_blockNumber", func(string, json.RawMessage) (interface{}, *rpcError, int) {
		primaryCalls.Add(1)
		return nil, nil, http.StatusServiceUnavailable
	}))
	secondary := newRPCServer(t, chainIDOr("eth_blockNumber", func(string, json.RawMessage) (interface{}, *rpcError, int) {
		secondaryCalls.Add(1)
		return "0x10", nil, 0
	}))

	c := newTestClient(t, primary.URL, secondary.URL)

	for i := 0; i < 3; i++ {
		head, err := c.GetLatestBlockNumber(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(16), head)
	}

	// the failing primary is only tried until the secondary takes over
	assert.Equal(t, int32(1), primaryCalls.Load())
	assert.Equal(t, int32(3), secondaryCalls.Load())
}

func TestGetLogs_ThrottledEndpointKeepsRateLimitAcrossFallback(t *testing.T) {
	var primaryCalls, secondaryCalls atomic.Int32
	primary := newRPCServer(t, chainIDOr("eth_getLogs", func(string, json.RawMessage) (interface{}, *rpcError, int) {
		primaryCalls.Add(1)
		return nil, nil, http.StatusTooManyRequests
	}))
	secondary := newRPCServer(t, chainIDOr("eth_getLogs", func(string, json.RawMessage) (interface{}, *rpcError, int) {
		secondaryCalls.Add(1)
		return nil, nil, http.StatusBadGateway
	}))

	c := newTestClient(t, primary.URL, secondary.URL)
	_, err := c.GetLogs(context.Background(), types.BlockRange{From: 1, To: 2})

	assert.ErrorIs(t, err, types.ErrRateLimited)
	assert.Equal(t, int32(1), primaryCalls.Load(), "rate limit is not retried")
	assert.Equal(t, int32(1), secondaryCalls.Load())
}

func TestGetTransactionReceipt(t *testing.T) {
	receipt := &ethtypes.Receipt{
		Status:            ethtypes.ReceiptStatusSuccessful,
		CumulativeGasUsed: 100000,
		Logs:              []*ethtypes.Log{},
		TxHash:            common.HexToHash(testTxHash),
		GasUsed:           51234,
		EffectiveGasPrice: big.NewInt(12_000_000_000),
		BlockNumber:       big.NewInt(19_000_000),
	}
	srv := newRPCServer(t, chainIDOr("eth_getTransactionReceipt", func(string, json.RawMessage) (interface{}, *rpcError, int) {
		return receipt, nil, 0
	}))

	c := newTestClient(t, srv.URL)
	got, err := c.GetTransactionReceipt(context.Background(), testTxHash)
	require.NoError(t, err)

	assert.Equal(t, uint64(19_000_000), got.BlockNumber)
	assert.Equal(t, uint64(51234), got.GasUsed)
	assert.Equal(t, "12000000000", got.EffectiveGasPrice.String())
}

func TestGetTransactionReceipt_InvalidHash(t *testing.T) {
	srv := newRPCServer(t, chainIDOr("", nil))
	c := newTestClient(t, srv.URL)

	_, err := c.GetTransactionReceipt(context.Background(), "0x1234")
	assert.Error(t, err)
}

func TestGetBlockTimestamp(t *testing.T) {
	header := &ethtypes.Header{
		Difficulty: big.NewInt(0),
		Number:     big.NewInt(19_000_000),
		Time:       1_700_000_000,
		Extra:      []byte{},
	}
	var requested string
	srv := newRPCServer(t, chainIDOr("eth_getBlockByNumber", func(_ string, params json.RawMessage) (interface{}, *rpcError, int) {
		var args []interface{}
		_ = json.Unmarshal(params, &args)
		requested, _ = args[0].(string)
		return header, nil, 0
	}))

	c := newTestClient(t, srv.URL)
	ts, err := c.GetBlockTimestamp(context.Background(), 19_000_000)
	require.NoError(t, err)

	assert.Equal(t, hexutil.EncodeUint64(19_000_000), requested)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), ts)
}

func TestIsRateLimit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", types.ErrRateLimited, true},
		{"http 429", rpc.HTTPError{StatusCode: http.StatusTooManyRequests, Status: "429 Too Many Requests"}, true},
		{"http 500", rpc.HTTPError{StatusCode: http.StatusInternalServerError, Status: "500"}, false},
		{"message", errors.New("Your app has exceeded its compute units per second capacity"), true},
		{"infura result cap", errors.New("query returned more than 10000 results"), true},
		{"deadline", context.DeadlineExceeded, false},
		{"other", errors.New("header not found"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimit(tt.err))
		})
	}
}

func TestEndpointName_HidesKeys(t *testing.T) {
	assert.Equal(t, "mainnet.infura.io", endpointName("https://mainnet.infura.io/v3/secret-key"))
	assert.Equal(t, "endpoint", endpointName("not a url"))
}
