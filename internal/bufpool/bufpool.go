// Package bufpool implements a shared fixed-size byte-buffer pool built on
// sync.Pool, grounded on the teacher's bufioReaderPool/copyBufPool sync.Pool
// usage (types_server.go). The pool has no upper bound and no mutex of its
// own: sync.Pool supplies the interior synchronization and decides how many
// idle buffers it retains. Its one user is connloop's panic-recovery stack
// buffer; the HTTP/1.1 parser and serializer do not draw from it.
package bufpool

import "sync"

// Pool hands out and reclaims fixed-size byte slices. A sync.Pool already
// gives interior synchronization for free; Pool only adds the fixed-size
// reset the teacher's pools also rely on (a buffer returned at the wrong
// size is discarded rather than pooled, to avoid unbounded growth).
type Pool struct {
	size int
	pool sync.Pool
}

// New returns a Pool whose Get always returns a buffer of exactly size
// bytes (len == cap == size).
func New(size int) *Pool {
	p := &Pool{size: size}
	p.pool.New = func() interface{} {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Get returns a buffer exclusively owned by the caller until Put.
func (p *Pool) Get() []byte {
	b := p.pool.Get().(*[]byte)
	return *b
}

// Put returns buf to the pool. A buffer whose capacity no longer matches
// the pool's size (e.g. grown by append) is dropped instead of pooled.
func (p *Pool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	buf = buf[:p.size]
	p.pool.Put(&buf)
}
