package cache

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Func is a computation whose result can be memoized.
type Func[R any] func(ctx context.Context, args Args) (R, error)

type memoConfig struct {
	ttl          time.Duration
	hasTTL       bool
	keyPrefix    string
	singleFlight bool
}

// MemoOption configures a memoized computation.
type MemoOption func(*memoConfig)

// WithTTL overrides the manager's default ttl for memoized results.
func WithTTL(ttl time.Duration) MemoOption {
	return func(c *memoConfig) {
		c.ttl = ttl
		c.hasTTL = true
	}
}

// WithMemoKeyPrefix replaces the function's qualified name as the identity part
// of derived keys.
func WithMemoKeyPrefix(prefix string) MemoOption {
	return func(c *memoConfig) {
		c.keyPrefix = prefix
	}
}

// WithSingleFlight makes concurrent misses on the same key share one call of
// the computation. Without it two callers racing on a cold key may both run
// the computation.
func WithSingleFlight() MemoOption {
	return func(c *memoConfig) {
		c.singleFlight = true
	}
}

// Memoize wraps fn so that a call whose arguments were seen within the ttl
// window returns the stored result without running fn.
//
// On a miss fn runs exactly once, outside any cache lock. Its error is
// returned unchanged and nothing is stored. Arguments that cannot be encoded
// fail the call with ErrUnencodableArgument before fn runs.
//
// A negative ttl makes every call fail with ErrInvalidTTL. With the default
// JSON codec a result type that does not survive a round trip (see JSONCodec)
// makes every call fail with ErrUnencodableResult; when R is an interface the
// concrete result is checked instead and a lossy one is returned unstored.
// With WithSingleFlight a caller whose context ends stops waiting while the
// shared computation runs on for the others.
func Memoize[R any](m *Manager, fn Func[R], opts ...MemoOption) Func[R] {
	return memoize(m, fn, funcName(fn), opts)
}

// Cached is the untyped form of Memoize. A hit returns a value of the same
// concrete type the computation produced.
func (m *Manager) Cached(fn Func[any], opts ...MemoOption) Func[any] {
	return memoize(m, fn, funcName(fn), opts)
}

// Cached0 memoizes a computation without arguments.
func Cached0[R any](m *Manager, fn func(context.Context) (R, error), opts ...MemoOption) func(context.Context) (R, error) {
	wrapped := memoize(m, func(ctx context.Context, _ Args) (R, error) {
		return fn(ctx)
	}, funcName(fn), opts)
	return func(ctx context.Context) (R, error) {
		return wrapped(ctx, Args{})
	}
}

// Cached1 memoizes a one-argument computation.
func Cached1[A, R any](m *Manager, fn func(context.Context, A) (R, error), opts ...MemoOption) func(context.Context, A) (R, error) {
	wrapped := memoize(m, func(ctx context.Context, args Args) (R, error) {
		return fn(ctx, argAs[A](args.Positional[0]))
	}, funcName(fn), opts)
	return func(ctx context.Context, a A) (R, error) {
		return wrapped(ctx, Args{Positional: []any{a}})
	}
}

// Cached2 memoizes a two-argument computation.
func Cached2[A, B, R any](m *Manager, fn func(context.Context, A, B) (R, error), opts ...MemoOption) func(context.Context, A, B) (R, error) {
	wrapped := memoize(m, func(ctx context.Context, args Args) (R, error) {
		return fn(ctx, argAs[A](args.Positional[0]), argAs[B](args.Positional[1]))
	}, funcName(fn), opts)
	return func(ctx context.Context, a A, b B) (R, error) {
		return wrapped(ctx, Args{Positional: []any{a, b}})
	}
}

func memoize[R any](m *Manager, fn Func[R], name string, opts []MemoOption) Func[R] {
	cfg := memoConfig{keyPrefix: name}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.hasTTL {
		cfg.ttl = m.defaultTTL
	}
	if cfg.ttl < 0 {
		return failing[R](fmt.Errorf("memoize %s: %w", cfg.keyPrefix, ErrInvalidTTL))
	}

	resultType := reflect.TypeFor[R]()
	dynamic := resultType.Kind() == reflect.Interface
	_, isJSON := m.codec.(JSONCodec)
	if isJSON && !dynamic {
		if err := checkJSONRoundTrip(resultType); err != nil {
			return failing[R](fmt.Errorf("memoize %s: %w", cfg.keyPrefix, err))
		}
	}

	var (
		group singleflight.Group
		types sync.Map // type name -> reflect.Type of dynamic results
	)

	store := func(key string, out R) error {
		if !dynamic {
			return m.SetWithTTL(key, out, cfg.ttl)
		}
		env := dynamicResult{}
		if t := reflect.TypeOf(out); t != nil {
			if isJSON {
				if err := checkJSONRoundTrip(t); err != nil {
					return err
				}
			}
			raw, err := m.codec.Marshal(out)
			if err != nil {
				return err
			}
			env.Type, env.Value = t.String(), raw
			types.Store(env.Type, t)
		}
		return m.SetWithTTL(key, env, cfg.ttl)
	}

	load := func(key string) (R, bool, error) {
		var zero R
		if !dynamic {
			var cached R
			found, err := m.Get(key, &cached)
			return cached, found, err
		}
		var env dynamicResult
		found, err := m.Get(key, &env)
		if err != nil || !found {
			return zero, false, err
		}
		if env.Type == "" {
			return zero, true, nil
		}
		t, ok := types.Load(env.Type)
		if !ok {
			// Written by another wrapper or process; the concrete type is unknown here.
			return zero, false, nil
		}
		ptr := reflect.New(t.(reflect.Type))
		if err := m.codec.Unmarshal(env.Value, ptr.Interface()); err != nil {
			return zero, false, err
		}
		out, ok := ptr.Elem().Interface().(R)
		return out, ok, nil
	}

	compute := func(ctx context.Context, key string, args Args) (R, error) {
		out, err := fn(ctx, args)
		if err != nil {
			var zero R
			return zero, err
		}
		if err := store(key, out); err != nil {
			m.logger.WithError(err).WithField("key", key).Warn("memoized result not stored")
		}
		return out, nil
	}

	return func(ctx context.Context, args Args) (R, error) {
		var zero R

		key, err := DeriveKey(cfg.keyPrefix, args)
		if err != nil {
			return zero, err
		}

		cached, found, err := load(key)
		switch {
		case err != nil:
			m.logger.WithError(err).WithField("key", key).Warn("memo lookup failed, recomputing")
		case found:
			m.logger.WithField("key", key).Debug("memo hit")
			return cached, nil
		}
		m.logger.WithField("key", key).Debug("memo miss")

		if !cfg.singleFlight {
			return compute(ctx, key, args)
		}
		// The shared call outlives any single caller; each caller still
		// stops waiting when its own context ends.
		ch := group.DoChan(key, func() (any, error) {
			return compute(context.WithoutCancel(ctx), key, args)
		})
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case res := <-ch:
			if res.Err != nil || res.Val == nil {
				return zero, res.Err
			}
			return res.Val.(R), nil
		}
	}
}

// dynamicResult is the stored form of a result whose static type is an
// interface. Type names the concrete type so a hit decodes into it.
type dynamicResult struct {
	Type  string `json:"type,omitempty"`
	Value []byte `json:"value,omitempty"`
}

func failing[R any](err error) Func[R] {
	return func(context.Context, Args) (R, error) {
		var zero R
		return zero, err
	}
}

// funcName returns the qualified name of fn, e.g. "pkg/path.Type.Method".
func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return "anonymous"
	}
	if f := runtime.FuncForPC(v.Pointer()); f != nil {
		return f.Name()
	}
	return "anonymous"
}

// argAs converts a positional argument back to its static type; a nil
// interface argument becomes the zero value.
func argAs[A any](v any) A {
	a, _ := v.(A)
	return a
}
