// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "sync"

// Buffer size classes. Sector reads are almost always <= 64KiB, single-unit
// files and whole-table reads run larger; three classes keep the pool from
// wasting memory rounding small reads up to a single large size.
const (
	bufferSmall  = 4 << 10  // 4KiB: one default-size sector
	bufferMedium = 64 << 10 // 64KiB: a handful of sectors or a small table
	bufferLarge  = 1 << 20  // 1MiB: single-unit files, big tables
)

// BufferPoolStats reports cumulative hit/miss counts since the pool was
// created, for callers that want to size their own workloads.
type BufferPoolStats struct {
	Hits   uint64
	Misses uint64
}

// HitRate returns Hits / (Hits + Misses), or 0 if nothing has been
// requested yet.
func (s BufferPoolStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// BufferPool hands out byte slices sized to the smallest class that fits a
// request, tracking hit/miss counts for callers that want visibility into
// allocation pressure. Buffers are zeroed before being pooled so a reused
// buffer never leaks a previous file's plaintext.
type BufferPool struct {
	mu     sync.Mutex
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
	hits   uint64
	misses uint64
}

// NewBufferPool constructs an empty pool. The zero value is also usable;
// NewBufferPool exists for symmetry with the rest of the package's
// constructor-function convention.
func NewBufferPool() *BufferPool {
	p := &BufferPool{}
	p.small.New = func() any { return make([]byte, 0, bufferSmall) }
	p.medium.New = func() any { return make([]byte, 0, bufferMedium) }
	p.large.New = func() any { return make([]byte, 0, bufferLarge) }
	return p
}

func (p *BufferPool) classFor(n int) (*sync.Pool, int) {
	switch {
	case n <= bufferSmall:
		return &p.small, bufferSmall
	case n <= bufferMedium:
		return &p.medium, bufferMedium
	default:
		return &p.large, bufferLarge
	}
}

// Get returns a buffer with at least n bytes of capacity and length n.
func (p *BufferPool) Get(n int) []byte {
	pool, class := p.classFor(n)

	p.mu.Lock()
	if n <= class {
		p.hits++
	} else {
		p.misses++
	}
	p.mu.Unlock()

	buf, _ := pool.Get().([]byte)
	if cap(buf) < n {
		buf = make([]byte, n)
		return buf
	}
	return buf[:n]
}

// Put returns buf to the pool, zeroing it first. Buffers whose capacity
// doesn't match one of the three classes exactly are discarded rather than
// pooled, since they came from an oversized Get that fell back to a fresh
// allocation.
func (p *BufferPool) Put(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	switch cap(buf) {
	case bufferSmall:
		p.small.Put(buf[:0])
	case bufferMedium:
		p.medium.Put(buf[:0])
	case bufferLarge:
		p.large.Put(buf[:0])
	}
}

// Stats returns a snapshot of the pool's cumulative hit/miss counters.
func (p *BufferPool) Stats() BufferPoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return BufferPoolStats{Hits: p.hits, Misses: p.misses}
}
