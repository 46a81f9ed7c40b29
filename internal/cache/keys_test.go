package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X, Y   int
	hidden string
}

type userID int

func (u userID) CacheKey() string { return "user-" + string(rune('0'+u)) }

func derive(t *testing.T, args Args) string {
	t.Helper()
	key, err := DeriveKey("fn", args)
	require.NoError(t, err)
	return key
}

func pos(values ...any) Args { return Args{Positional: values} }

func TestDeriveKey_Format(t *testing.T) {
	key := derive(t, pos(1, 2))
	assert.True(t, strings.HasPrefix(key, "fn:"))
	assert.Len(t, key, len("fn:")+32)
	assert.Equal(t, key, derive(t, pos(1, 2)), "derivation is deterministic")
}

func TestDeriveKey_Equivalences(t *testing.T) {
	when := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		a, b Args
	}{
		{"integer widths", pos(int8(5), uint64(5)), pos(5, int32(5))},
		{"integral float", pos(2.0), pos(2)},
		{"named order", Args{Named: map[string]any{"a": 1, "b": 2}}, Args{Named: map[string]any{"b": 2, "a": 1}}},
		{"map order", pos(map[string]int{"x": 1, "y": 2}), pos(map[string]int{"y": 2, "x": 1})},
		{"pointer deref", pos(&point{X: 1}), pos(point{X: 1})},
		{"unexported fields ignored", pos(point{X: 1, hidden: "a"}), pos(point{X: 1, hidden: "b"})},
		{"time zone", pos(when), pos(when.In(time.FixedZone("x", 3600)))},
		{"nil forms", pos(nil), pos((*point)(nil))},
		{"keyer", pos(userID(3)), pos(userID(3))},
		{"empty", Args{}, Args{Positional: []any{}, Named: map[string]any{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, derive(t, tt.a), derive(t, tt.b))
		})
	}
}

func TestDeriveKey_Distinctions(t *testing.T) {
	tests := []struct {
		name string
		a, b Args
	}{
		{"values", pos(1), pos(2)},
		{"positional order", pos(1, 2), pos(2, 1)},
		{"number vs string", pos(1), pos("1")},
		{"string boundaries", pos("ab", "c"), pos("a", "bc")},
		{"list boundaries", pos([]int{1, 2}, []int{3}), pos([]int{1}, []int{2, 3})},
		{"positional vs named", pos(1), Args{Named: map[string]any{"x": 1}}},
		{"named names", Args{Named: map[string]any{"x": 1}}, Args{Named: map[string]any{"y": 1}}},
		{"bool vs int", pos(true), pos(1)},
		{"fractional floats", pos(0.1), pos(0.2)},
		{"nil vs empty slice", pos([]int(nil)), pos([]int{})},
		{"bytes vs string", pos([]byte("a")), pos("a")},
		{"struct types", pos(point{X: 1}), pos(struct{ X, Y int }{X: 1})},
		{"keyer vs plain int", pos(userID(3)), pos(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, derive(t, tt.a), derive(t, tt.b))
		})
	}
}

func TestDeriveKey_IdentitySeparatesFunctions(t *testing.T) {
	a, err := DeriveKey("pkg.f", pos(1))
	require.NoError(t, err)
	b, err := DeriveKey("pkg.g", pos(1))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDeriveKey_RejectsUnencodable(t *testing.T) {
	type withFunc struct{ F func() }
	type node struct{ Next *node }
	loop := &node{}
	loop.Next = loop

	tests := []struct {
		name string
		args Args
		path string
	}{
		{"func", pos(func() {}), "positional argument 0"},
		{"channel", pos(1, make(chan int)), "positional argument 1"},
		{"complex", Args{Named: map[string]any{"z": complex(1, 2)}}, `argument "z"`},
		{"nested func", pos(withFunc{F: func() {}}), "field F"},
		{"cycle", pos(loop), "nesting deeper"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeriveKey("fn", tt.args)
			require.ErrorIs(t, err, ErrUnencodableArgument)
			assert.Contains(t, err.Error(), tt.path)
		})
	}
}
