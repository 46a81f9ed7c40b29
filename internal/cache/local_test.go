package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLocal(t *testing.T, maxSize int, opts ...LocalOption) *LocalBackend {
	t.Helper()
	b, err := NewLocalBackend(maxSize, opts...)
	require.NoError(t, err)
	return b
}

func mustGet(t *testing.T, b Backend, key string) (string, bool) {
	t.Helper()
	v, found, err := b.Get(key)
	require.NoError(t, err)
	return string(v), found
}

func TestNewLocalBackend_RejectsNonPositiveCapacity(t *testing.T) {
	for _, size := range []int{0, -1} {
		_, err := NewLocalBackend(size)
		assert.ErrorIs(t, err, ErrInvalidCapacity, "size %d", size)
	}
}

func TestLocalBackend_SetGetDelete(t *testing.T) {
	b := newLocal(t, 10)

	require.NoError(t, b.Set("k1", []byte("v1"), 0))
	v, found := mustGet(t, b, "k1")
	assert.True(t, found)
	assert.Equal(t, "v1", v)

	deleted, err := b.Delete("k1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, found = mustGet(t, b, "k1")
	assert.False(t, found)

	deleted, err = b.Delete("k1")
	require.NoError(t, err)
	assert.False(t, deleted, "deleting a missing key is a no-op")
}

func TestLocalBackend_MissingKey(t *testing.T) {
	b := newLocal(t, 10)

	v, found, err := b.Get("nonexistent")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, v)

	ok, err := b.Exists("nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalBackend_Exists(t *testing.T) {
	b := newLocal(t, 10)

	ok, _ := b.Exists("k1")
	assert.False(t, ok)
	require.NoError(t, b.Set("k1", []byte("v1"), 0))
	ok, _ = b.Exists("k1")
	assert.True(t, ok)
	_, _ = b.Delete("k1")
	ok, _ = b.Exists("k1")
	assert.False(t, ok)
}

func TestLocalBackend_Clear(t *testing.T) {
	b := newLocal(t, 10)
	require.NoError(t, b.Set("k1", []byte("v1"), 0))
	require.NoError(t, b.Set("k2", []byte("v2"), 0))

	require.NoError(t, b.Clear())

	_, found := mustGet(t, b, "k1")
	assert.False(t, found)
	_, found = mustGet(t, b, "k2")
	assert.False(t, found)
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Keys())
}

func TestLocalBackend_OverwriteReplacesValueAndTTL(t *testing.T) {
	clock := newFakeClock()
	b := newLocal(t, 10, WithClock(clock.Now))

	require.NoError(t, b.Set("k", []byte("old"), time.Second))
	require.NoError(t, b.Set("k", []byte("new"), 0))
	clock.Advance(time.Hour)

	v, found := mustGet(t, b, "k")
	assert.True(t, found, "overwrite without ttl must drop the old expiry")
	assert.Equal(t, "new", v)
	assert.Equal(t, 1, b.Len())
}

func TestLocalBackend_ValuesAreCopied(t *testing.T) {
	b := newLocal(t, 10)
	in := []byte("abc")
	require.NoError(t, b.Set("k", in, 0))
	in[0] = 'X'

	out, _, _ := b.Get("k")
	assert.Equal(t, "abc", string(out))
	out[0] = 'Y'

	again, _ := mustGet(t, b, "k")
	assert.Equal(t, "abc", again)
}

func TestLocalBackend_RejectsNegativeTTL(t *testing.T) {
	b := newLocal(t, 10)
	err := b.Set("k", []byte("v"), -time.Second)
	assert.ErrorIs(t, err, ErrInvalidTTL)
	assert.Equal(t, 0, b.Len())
}

func TestLocalBackend_LazyExpiry(t *testing.T) {
	clock := newFakeClock()
	b := newLocal(t, 10, WithClock(clock.Now))

	require.NoError(t, b.Set("k", []byte("v"), time.Second))
	_, found := mustGet(t, b, "k")
	assert.True(t, found)

	clock.Advance(999 * time.Millisecond)
	_, found = mustGet(t, b, "k")
	assert.True(t, found, "entry is live strictly before its deadline")

	clock.Advance(time.Millisecond)
	assert.Equal(t, 1, b.Len(), "nothing sweeps expired entries in the background")
	_, found = mustGet(t, b, "k")
	assert.False(t, found, "entry is dead at its deadline")
	assert.Equal(t, 0, b.Len(), "discovery removes the entry")

	st, _ := b.Stats()
	assert.Equal(t, uint64(1), st.Expirations)
}

func TestLocalBackend_ExistsAppliesLazyExpiry(t *testing.T) {
	clock := newFakeClock()
	b := newLocal(t, 10, WithClock(clock.Now))

	require.NoError(t, b.Set("k", []byte("v"), time.Second))
	clock.Advance(2 * time.Second)

	ok, err := b.Exists("k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())
}

func TestLocalBackend_TTLExpirationRealClock(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps for over a second")
	}
	b := newLocal(t, 10)

	require.NoError(t, b.Set("k1", []byte("v1"), time.Second))
	v, found := mustGet(t, b, "k1")
	require.True(t, found)
	assert.Equal(t, "v1", v)

	time.Sleep(1100 * time.Millisecond)

	_, found = mustGet(t, b, "k1")
	assert.False(t, found)
}

func TestLocalBackend_CapacityEvictsOneOfFirstThree(t *testing.T) {
	b := newLocal(t, 3)
	for i, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, b.Set(k, []byte{byte('1' + i)}, 0))
	}

	assert.Equal(t, 3, b.Len())
	v, found := mustGet(t, b, "d")
	assert.True(t, found)
	assert.Equal(t, "4", v)

	present := 0
	for _, k := range []string{"a", "b", "c"} {
		if _, found := mustGet(t, b, k); found {
			present++
		}
	}
	assert.Equal(t, 2, present)
}

func TestLocalBackend_LRUEviction(t *testing.T) {
	b := newLocal(t, 2)

	require.NoError(t, b.Set("a", []byte("A"), 0))
	require.NoError(t, b.Set("b", []byte("B"), 0))

	// Touch a so b becomes LRU.
	_, found := mustGet(t, b, "a")
	require.True(t, found)

	require.NoError(t, b.Set("c", []byte("C"), 0))

	_, found = mustGet(t, b, "b")
	assert.False(t, found, "expected b to be evicted")
	_, found = mustGet(t, b, "a")
	assert.True(t, found)
	_, found = mustGet(t, b, "c")
	assert.True(t, found)
}

func TestLocalBackend_OverwriteRefreshesRecency(t *testing.T) {
	b := newLocal(t, 2)
	require.NoError(t, b.Set("a", []byte("1"), 0))
	require.NoError(t, b.Set("b", []byte("2"), 0))
	require.NoError(t, b.Set("a", []byte("3"), 0))
	require.NoError(t, b.Set("c", []byte("4"), 0))

	assert.Equal(t, []string{"c", "a"}, b.Keys())
}

func TestLocalBackend_ExistsDoesNotRefreshRecency(t *testing.T) {
	b := newLocal(t, 3)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, b.Set(k, []byte(k), 0))
	}

	ok, _ := b.Exists("a")
	require.True(t, ok)
	require.NoError(t, b.Set("d", []byte("d"), 0))

	ok, _ = b.Exists("a")
	assert.False(t, ok, "exists is a peek, so a stayed least recently used")
	assert.Equal(t, []string{"d", "c", "b"}, b.Keys())
}

func TestLocalBackend_EvictionTiesFollowInsertionOrder(t *testing.T) {
	const capacity = 5
	b := newLocal(t, capacity)

	for i := 0; i < capacity; i++ {
		require.NoError(t, b.Set(fmt.Sprintf("k%d", i), nil, 0))
	}
	for i := capacity; i < 2*capacity; i++ {
		require.NoError(t, b.Set(fmt.Sprintf("k%d", i), nil, 0))

		evicted := fmt.Sprintf("k%d", i-capacity)
		ok, _ := b.Exists(evicted)
		assert.False(t, ok, "untouched keys leave in insertion order: %s", evicted)
		for j := i - capacity + 1; j <= i; j++ {
			ok, _ := b.Exists(fmt.Sprintf("k%d", j))
			assert.True(t, ok, "k%d should survive", j)
		}
	}
}

func TestLocalBackend_ExpiredTailCountsAsExpiration(t *testing.T) {
	clock := newFakeClock()
	b := newLocal(t, 2, WithClock(clock.Now))

	require.NoError(t, b.Set("short", nil, time.Second))
	require.NoError(t, b.Set("long", nil, 0))
	clock.Advance(2 * time.Second)
	require.NoError(t, b.Set("new", nil, 0))

	st, _ := b.Stats()
	assert.Equal(t, uint64(0), st.Evictions)
	assert.Equal(t, uint64(1), st.Expirations)
	assert.Equal(t, []string{"new", "long"}, b.Keys())
}

func TestLocalBackend_ClearPrefix(t *testing.T) {
	b := newLocal(t, 10)
	for _, k := range []string{"a:1", "a:2", "ab:1", "b:1"} {
		require.NoError(t, b.Set(k, nil, 0))
	}

	n, err := b.ClearPrefix("a:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"ab:1", "b:1"}, b.Keys())
}

func TestLocalBackend_Stats(t *testing.T) {
	b := newLocal(t, 1)
	require.NoError(t, b.Set("a", nil, 0))
	_, _ = mustGet(t, b, "a")
	_, _ = mustGet(t, b, "missing")
	require.NoError(t, b.Set("b", nil, 0))

	st, err := b.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{Hits: 1, Misses: 1, Sets: 2, Evictions: 1, Entries: 1, Capacity: 1}, st)
}

func TestLocalBackend_ConcurrentAccessRespectsCapacity(t *testing.T) {
	const capacity = 16
	b := newLocal(t, capacity)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k%d", (w*31+i)%64)
				switch i % 4 {
				case 0, 1:
					_ = b.Set(key, []byte(key), 0)
				case 2:
					if v, found, _ := b.Get(key); found {
						assert.Equal(t, key, string(v))
					}
				case 3:
					_, _ = b.Exists(key)
				}
				assert.LessOrEqual(t, b.Len(), capacity)
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, b.Len(), capacity)
	assert.Len(t, b.Keys(), b.Len(), "map and recency list stay in step")
}
