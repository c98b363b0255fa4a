package pool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/tinyws/pool"
)

func TestBytePoolGetPut(t *testing.T) {
	p := pool.NewBytePool(64)
	assert.Equal(t, 64, p.Size())

	a := p.Get()
	b := p.Get()
	require.Len(t, a, 64)
	require.Len(t, b, 64)
	assert.EqualValues(t, 2, p.Stats().InUse)
	assert.GreaterOrEqual(t, p.Stats().Allocated, uint64(2))

	p.Put(a[:10])
	p.Put(b)
	st := p.Stats()
	assert.EqualValues(t, 0, st.InUse)
	assert.EqualValues(t, 2, st.Gets)
	assert.EqualValues(t, 2, st.Puts)

	// a shortened buffer comes back at full length
	assert.Len(t, p.Get(), 64)
}

func TestBytePoolDropsForeignBuffers(t *testing.T) {
	p := pool.NewBytePool(32)
	p.Put(make([]byte, 16))
	p.Put(make([]byte, 32, 48))
	assert.Zero(t, p.Stats().Puts)
}

func TestBytePoolRejectsBadSize(t *testing.T) {
	assert.Panics(t, func() { pool.NewBytePool(0) })
}

func TestSyncPoolCountsCreations(t *testing.T) {
	created := 0
	sp := pool.NewSyncPool(func() []int { return make([]int, 0, 4) }, func() { created++ })
	v := sp.Get()
	assert.Equal(t, 4, cap(v))
	assert.Equal(t, 1, created)
}
