package state

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionPutKeepsOrder(t *testing.T) {
	s := NewSession(time.Unix(0, 0))
	s.Put("documentIds", `{"id":1}`)
	s.Put("fullName", "иванов иван иванович")
	s.Put("documentIds", `{"id":2}`)

	require.Len(t, s.Fields, 2)
	assert.Equal(t, "documentIds", s.Fields[0].Name)
	v, ok := s.Value("documentIds")
	assert.True(t, ok)
	assert.Equal(t, `{"id":2}`, v)
	_, ok = s.Value("phone")
	assert.False(t, ok)
	assert.Equal(t, map[string]string{"documentIds": `{"id":2}`, "fullName": "иванов иван иванович"}, s.Snapshot())
}

func TestSessionTempRoundTrip(t *testing.T) {
	s := NewSession(time.Now())
	require.NoError(t, s.SetTemp("ids", map[string]int{"receipt": 7}))

	var got map[string]int
	ok, err := s.Temp("ids", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7, got["receipt"])

	ok, err = s.Temp("missing", &got)
	assert.NoError(t, err)
	assert.False(t, ok)

	s.TempData["broken"] = json.RawMessage(`{`)
	_, err = s.Temp("broken", &got)
	assert.Error(t, err)
}

func TestMemoryStoreIsolatesCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, ok, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	s := NewSession(time.Now())
	s.State = "awaiting_document"
	s.Put("a", "1")
	require.NoError(t, store.Set(ctx, 1, s))
	s.Put("b", "2")

	got, ok, err := store.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Fields, 1)

	n, err := store.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.Clear(ctx, 1))
	_, ok, _ = store.Get(ctx, 1)
	assert.False(t, ok)
	assert.ErrorIs(t, store.Set(ctx, 2, nil), ErrNilSession)
}

func TestLockerSerializesSameKey(t *testing.T) {
	l := NewLocker()
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, 42)
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, l.Len())
}

func TestLockerDifferentKeysAndCancel(t *testing.T) {
	l := NewLocker()
	unlockA, err := l.Lock(context.Background(), 1)
	require.NoError(t, err)
	unlockB, err := l.Lock(context.Background(), 2)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlockA()
	unlockA()
	unlockB()
	assert.Equal(t, 0, l.Len())
}
