package cache

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/apex/log"
	json "github.com/goccy/go-json"
)

// Server exposes a Backend to other processes over a stream listener,
// normally a Unix socket. See protocol.go for the wire format.
type Server struct {
	backend Backend
	logger  log.Interface

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer serves backend. A nil logger falls back to the apex default.
func NewServer(backend Backend, logger log.Interface) *Server {
	if logger == nil {
		logger = log.Log
	}
	return &Server{
		backend: backend,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until ctx is cancelled. On return the listener and
// every open connection are closed and all handlers have exited.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	done := make(chan struct{})
	var watcher sync.WaitGroup
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		select {
		case <-ctx.Done():
			_ = l.Close()
		case <-done:
		}
	}()
	defer func() {
		close(done)
		watcher.Wait()
		s.closeConns()
		s.wg.Wait()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.WithError(err).Warn("accept failed")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				_ = conn.Close()
			}()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		resp := s.dispatch(req)
		if !resp.OK {
			s.logger.WithFields(log.Fields{"op": req.Op, "key": req.Key}).
				WithField("error", resp.Error).Debug("cache request failed")
		}
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	switch req.Op {
	case OpGet:
		v, found, err := s.backend.Get(req.Key)
		if err != nil {
			return failure(err)
		}
		return Response{OK: true, Found: found, Value: v}
	case OpSet:
		ttl := time.Duration(req.TTLMillis) * time.Millisecond
		if err := s.backend.Set(req.Key, req.Value, ttl); err != nil {
			return failure(err)
		}
		return Response{OK: true}
	case OpDelete:
		deleted, err := s.backend.Delete(req.Key)
		if err != nil {
			return failure(err)
		}
		return Response{OK: true, Found: deleted}
	case OpExists:
		ok, err := s.backend.Exists(req.Key)
		if err != nil {
			return failure(err)
		}
		return Response{OK: true, Found: ok}
	case OpClear:
		if err := s.backend.Clear(); err != nil {
			return failure(err)
		}
		return Response{OK: true}
	case OpClearPrefix:
		pc, ok := s.backend.(PrefixClearer)
		if !ok {
			return failure(ErrNamespaceClearUnsupported)
		}
		n, err := pc.ClearPrefix(req.Key)
		if err != nil {
			return failure(err)
		}
		return Response{OK: true, Count: n}
	case OpStats:
		sr, ok := s.backend.(StatsReporter)
		if !ok {
			return failure(ErrStatsUnsupported)
		}
		st, err := sr.Stats()
		if err != nil {
			return failure(err)
		}
		return Response{OK: true, Stats: &st}
	default:
		return Response{OK: false, Error: "unknown op " + req.Op}
	}
}

func failure(err error) Response {
	return Response{OK: false, Error: err.Error(), Code: errorCode(err)}
}
