package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

// JSON-RPC error codes providers use for throttling.
// -32005 is also Infura's "query returned more than 10000 results",
// which calls for the same reaction: a smaller block step.
var rateLimitCodes = map[int]bool{
	-32005: true,
	-32029: true,
	429:    true,
}

var rateLimitMarkers = []string{
	"rate limit",
	"rate-limit",
	"too many requests",
	"limit exceeded",
	"query returned more than",
	"capacity",
}

// IsRateLimit reports whether err means the provider throttled the request
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, types.ErrRateLimited) {
		return true
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		return true
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rateLimitCodes[rpcErr.ErrorCode()] {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// classify tags provider throttling with types.ErrRateLimited so callers
// can branch with errors.Is
func classify(method string, err error) error {
	if err == nil {
		return nil
	}
	if IsRateLimit(err) && !errors.Is(err, types.ErrRateLimited) {
		return fmt.Errorf("%s: %w: %v", method, types.ErrRateLimited, err)
	}
	return fmt.Errorf("%s: %w", method, err)
}
