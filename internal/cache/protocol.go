package cache

import "errors"

// Line-delimited JSON protocol for the cache daemon over a Unix domain socket.
// Each request gets exactly one response; a connection may carry many.

const (
	OpGet         = "get"
	OpSet         = "set"
	OpDelete      = "delete"
	OpExists      = "exists"
	OpClear       = "clear"
	OpClearPrefix = "clear_prefix"
	OpStats       = "stats"
)

type Request struct {
	Op    string `json:"op"`
	Key   string `json:"key,omitempty"`
	Value []byte `json:"value,omitempty"`
	// TTLMillis of zero stores the entry without expiry.
	TTLMillis int64 `json:"ttl_ms,omitempty"`
}

type Response struct {
	OK bool `json:"ok"`
	// Found carries the boolean result of get, delete and exists.
	Found bool   `json:"found,omitempty"`
	Value []byte `json:"value,omitempty"`
	Count int    `json:"count,omitempty"`
	Stats *Stats `json:"stats,omitempty"`
	Error string `json:"error,omitempty"`
	// Code names the sentinel error behind Error, if any.
	Code string `json:"code,omitempty"`
}

// protocolSentinels are the errors whose identity survives the socket.
var protocolSentinels = []error{
	ErrInvalidTTL,
	ErrNamespaceClearUnsupported,
	ErrStatsUnsupported,
	ErrClosed,
}

func errorCode(err error) string {
	for _, sentinel := range protocolSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ""
}
