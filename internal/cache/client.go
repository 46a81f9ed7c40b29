package cache

import (
	"fmt"
	"net"
	"time"

	json "github.com/goccy/go-json"
)

const dialTimeout = 500 * time.Millisecond

// Client is a Backend served by a cache daemon over a Unix socket. It dials
// once per request, so it holds no connection state and is safe for concurrent
// use.
type Client struct {
	socketPath string
}

var _ interface {
	Backend
	PrefixClearer
	StatsReporter
} = (*Client)(nil)

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Ping checks that the daemon accepts connections.
func (c *Client) Ping() error {
	conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (c *Client) do(req Request) (Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout)
	if err != nil {
		return Response{}, fmt.Errorf("cache client %s: %w", req.Op, err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(&req); err != nil {
		return Response{}, fmt.Errorf("cache client %s: %w", req.Op, err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("cache client %s: %w", req.Op, err)
	}
	if !resp.OK {
		return resp, &RemoteError{Msg: resp.Error, Code: resp.Code}
	}
	return resp, nil
}

// RemoteError is a failure reported by the daemon. It unwraps to the matching
// local sentinel, so errors.Is(err, ErrInvalidTTL) works across the socket.
type RemoteError struct {
	Msg  string
	Code string
}

func (e *RemoteError) Error() string { return "cache daemon: " + e.Msg }

func (e *RemoteError) Unwrap() error {
	for _, sentinel := range protocolSentinels {
		if e.Code == sentinel.Error() {
			return sentinel
		}
	}
	return nil
}

func (c *Client) Get(key string) ([]byte, bool, error) {
	resp, err := c.do(Request{Op: OpGet, Key: key})
	if err != nil {
		return nil, false, err
	}
	if !resp.Found {
		return nil, false, nil
	}
	return append([]byte{}, resp.Value...), true, nil
}

func (c *Client) Set(key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("set %q: %w", key, ErrInvalidTTL)
	}
	ms := ttl.Milliseconds()
	if ttl > 0 && ms == 0 {
		// Sub-millisecond ttls must not turn into "never expires".
		ms = 1
	}
	_, err := c.do(Request{Op: OpSet, Key: key, Value: value, TTLMillis: ms})
	return err
}

func (c *Client) Delete(key string) (bool, error) {
	resp, err := c.do(Request{Op: OpDelete, Key: key})
	return resp.Found, err
}

func (c *Client) Exists(key string) (bool, error) {
	resp, err := c.do(Request{Op: OpExists, Key: key})
	return resp.Found, err
}

func (c *Client) Clear() error {
	_, err := c.do(Request{Op: OpClear})
	return err
}

func (c *Client) ClearPrefix(prefix string) (int, error) {
	resp, err := c.do(Request{Op: OpClearPrefix, Key: prefix})
	return resp.Count, err
}

func (c *Client) Stats() (Stats, error) {
	resp, err := c.do(Request{Op: OpStats})
	if err != nil {
		return Stats{}, err
	}
	if resp.Stats == nil {
		return Stats{}, nil
	}
	return *resp.Stats, nil
}
