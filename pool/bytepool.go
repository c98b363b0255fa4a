// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import "sync/atomic"

// Stats is a snapshot of BytePool counters.
type Stats struct {
	Size      int    `json:"size"`
	Allocated uint64 `json:"allocated"`
	Gets      uint64 `json:"gets"`
	Puts      uint64 `json:"puts"`
	InUse     int64  `json:"in_use"`
}

// BytePool hands out byte slices of one fixed size.
type BytePool struct {
	size  int
	pool  *SyncPool[*[]byte]
	alloc atomic.Uint64
	gets  atomic.Uint64
	puts  atomic.Uint64
}

// NewBytePool creates a pool of size-byte buffers. size must be positive.
func NewBytePool(size int) *BytePool {
	if size <= 0 {
		panic("pool: buffer size must be positive")
	}
	b := &BytePool{size: size}
	b.pool = NewSyncPool(func() *[]byte {
		buf := make([]byte, size)
		return &buf
	}, func() { b.alloc.Add(1) })
	return b
}

// Size returns the length of every buffer handed out.
func (b *BytePool) Size() int {
	return b.size
}

// Get returns a buffer of length Size. Its contents are undefined.
func (b *BytePool) Get() []byte {
	b.gets.Add(1)
	return *b.pool.Get()
}

// Put returns buf to the pool. Buffers of a foreign size are dropped.
func (b *BytePool) Put(buf []byte) {
	if cap(buf) != b.size {
		return
	}
	b.puts.Add(1)
	buf = buf[:b.size]
	b.pool.Put(&buf)
}

// Stats returns the current counters.
func (b *BytePool) Stats() Stats {
	gets, puts := b.gets.Load(), b.puts.Load()
	return Stats{
		Size:      b.size,
		Allocated: b.alloc.Load(),
		Gets:      gets,
		Puts:      puts,
		InUse:     int64(gets) - int64(puts),
	}
}
