// Package token provides reference-counted handles naming the
// physical location a block was written to at a point in time.
package token

import (
	"sync/atomic"

	"github.com/mit-pdos/go-serializer/common"
)

// A Token denotes one block's physical location. Tokens are immutable
// once minted; a new write produces a new token rather than mutating
// an existing one. The handle itself performs no I/O. Multiple owners
// (cache, index, in-flight writes, a read-ahead consumer) may hold
// the same token concurrently.
type Token struct {
	id      common.BlockID
	off     uint64
	refs    int32
	reclaim func(*Token)
}

// MkToken mints a token with a single reference. reclaim, if non-nil,
// runs exactly once when the last reference is released; the engine
// uses it to return off to its allocator. Reclamation is at the
// engine's discretion and need not be immediate.
func MkToken(id common.BlockID, off uint64, reclaim func(*Token)) *Token {
	return &Token{
		id:      id,
		off:     off,
		refs:    1,
		reclaim: reclaim,
	}
}

func (t *Token) ID() common.BlockID {
	return t.id
}

// Offset is the physical block offset the token denotes. Only the
// engine that minted the token may interpret it.
func (t *Token) Offset() uint64 {
	return t.off
}

// Ref takes an additional reference and returns t. Safe from any
// goroutine.
func (t *Token) Ref() *Token {
	if atomic.AddInt32(&t.refs, 1) <= 1 {
		panic("token: ref of a released token")
	}
	return t
}

// Release drops one reference. Releasing the last reference lets the
// engine reclaim the underlying physical block. Safe from any
// goroutine.
func (t *Token) Release() {
	n := atomic.AddInt32(&t.refs, -1)
	if n < 0 {
		panic("token: over-released")
	}
	if n == 0 && t.reclaim != nil {
		t.reclaim(t)
	}
}
