package subscriber

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAllocatesUniqueIDs(t *testing.T) {
	r := NewRegistry()

	a := r.Register(0)
	b := r.Register(5)

	assert.Equal(t, uint64(1), a.ID)
	assert.Equal(t, uint64(2), b.ID)
	assert.Equal(t, uint64(5), b.RegisteredAtTick)
	assert.Equal(t, 2, r.Count())
}

func TestAuthorize(t *testing.T) {
	r := NewRegistry()
	s := r.Register(0)

	require.NoError(t, r.Authorize(s.ID))
	assert.ErrorIs(t, r.Authorize(0), ErrUnknownSubscriber)
	assert.ErrorIs(t, r.Authorize(42), ErrUnknownSubscriber)
}

func TestCursorOnlyMovesForward(t *testing.T) {
	r := NewRegistry()
	s := r.Register(0)

	c, err := r.Cursor(s.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c)

	require.NoError(t, r.Advance(s.ID, 7))
	require.NoError(t, r.Advance(s.ID, 3))

	c, err = r.Cursor(s.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), c)

	assert.ErrorIs(t, r.Advance(99, 1), ErrUnknownSubscriber)
	_, err = r.Cursor(99)
	assert.ErrorIs(t, err, ErrUnknownSubscriber)
}

func TestConcurrentRegisterNeverReusesIDs(t *testing.T) {
	r := NewRegistry()
	const n = 100

	ids := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- r.Register(0).ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		assert.False(t, seen[id], "id %d issued twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)

	list := r.List()
	require.Len(t, list, n)
	assert.Equal(t, uint64(1), list[0].ID)
	assert.Equal(t, uint64(n), list[n-1].ID)
}
