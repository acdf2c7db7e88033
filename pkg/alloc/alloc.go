// Package alloc provides the fixed-size block pool for frame buffers
// described in spec.md §2 and §9's "block/region allocator" design note.
//
// It is built directly on the standard library: one sync.Pool per
// page-rounded size class, handing out plain byte slices. There is no
// paged arena, buffers are not addressed by index, and there is no
// explicit reclaim call; buffers that a sync.Pool drops are left to the
// garbage collector.
package alloc

import "sync"

// BlockSize is the nominal page granularity blocks are allocated in.
const BlockSize = 4096

// Pool is a thread-safe pool of reusable byte buffers, grouped by size
// class so that repeated frame-sized allocations do not thrash the
// garbage collector during variable-bitrate periods.
type Pool struct {
	mu      sync.Mutex
	buckets map[int]*sync.Pool
}

// NewPool creates an empty block pool.
func NewPool() *Pool {
	return &Pool{buckets: make(map[int]*sync.Pool)}
}

// roundUp rounds n up to the next multiple of BlockSize.
func roundUp(n int) int {
	if n <= 0 {
		return BlockSize
	}
	return ((n + BlockSize - 1) / BlockSize) * BlockSize
}

func (p *Pool) bucket(size int) *sync.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[size]
	if !ok {
		sz := size
		b = &sync.Pool{New: func() interface{} {
			buf := make([]byte, sz)
			return &buf
		}}
		p.buckets[size] = b
	}
	return b
}

// Get returns a buffer of at least n bytes, sized to a page-rounded
// bucket so later Puts of similarly sized buffers are reused.
func (p *Pool) Get(n int) []byte {
	size := roundUp(n)
	buf := p.bucket(size).Get().(*[]byte)
	return (*buf)[:n]
}

// Put returns a buffer to its size-class bucket for reuse. The caller
// must not touch buf after calling Put.
func (p *Pool) Put(buf []byte) {
	size := cap(buf)
	full := buf[:size]
	p.bucket(size).Put(&full)
}
