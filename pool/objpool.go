// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import "sync"

// ObjectPool is a generic object pool.
type ObjectPool[T any] interface {
	Get() T
	Put(T)
}

// SyncPool wraps sync.Pool for typed usage. The creator runs only when the
// pool is empty, and onNew is told about it.
type SyncPool[T any] struct {
	pool  sync.Pool
	onNew func()
}

// NewSyncPool creates a SyncPool backed by creator.
func NewSyncPool[T any](creator func() T, onNew func()) *SyncPool[T] {
	sp := &SyncPool[T]{onNew: onNew}
	sp.pool.New = func() any {
		if sp.onNew != nil {
			sp.onNew()
		}
		return creator()
	}
	return sp
}

func (sp *SyncPool[T]) Get() T {
	return sp.pool.Get().(T)
}

func (sp *SyncPool[T]) Put(obj T) {
	sp.pool.Put(obj)
}

var _ ObjectPool[int] = (*SyncPool[int])(nil)
