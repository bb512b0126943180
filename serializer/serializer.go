// Package serializer defines the contract between a buffer cache and
// a block storage engine: buffer allocation, block reads and writes
// in blocking and non-blocking forms, and atomic batched updates of
// the logical index mapping each block id to its current physical
// location, recency and delete bit.
//
// The index stores three pieces of information for each id:
//
//  1. a token for a data block on disk (which may be absent),
//  2. a recency timestamp,
//  3. a boolean delete bit.
//
// Serializer is implemented by concrete engines (memser) and by
// checking wrappers (checkser). DoWrite and the blocking helpers are
// layered on top of the interface and are common to every
// implementation.
package serializer

import (
	"github.com/mit-pdos/go-serializer/account"
	"github.com/mit-pdos/go-serializer/common"
	"github.com/mit-pdos/go-serializer/token"
)

// An IOCallback is invoked exactly once when a block read or write
// completes, on the instance's home context. err is nil on success;
// an I/O failure surfaces through the same channel and is never
// retried at this layer.
type IOCallback func(err error)

// A WriteLaunchedCallback fires once an update's block write has been
// issued and its token is known, before the write completes.
type WriteLaunchedCallback func(tok *token.Token)

// IndexWriteOp requests an atomic change to some of the index fields
// of one block id. A Set flag left false leaves that field unchanged;
// SetToken with a nil Token detaches the id from any physical block.
type IndexWriteOp struct {
	ID common.BlockID

	SetToken bool
	Token    *token.Token

	SetRecency bool
	Recency    common.Recency

	SetDelete bool
	Delete    bool
}

func TokenOp(id common.BlockID, tok *token.Token) IndexWriteOp {
	return IndexWriteOp{ID: id, SetToken: true, Token: tok}
}

func RecencyOp(id common.BlockID, recency common.Recency) IndexWriteOp {
	return IndexWriteOp{ID: id, SetRecency: true, Recency: recency}
}

// DeleteOp detaches id from any physical block and sets its delete
// bit.
func DeleteOp(id common.BlockID) IndexWriteOp {
	return IndexWriteOp{ID: id, SetToken: true, Token: nil, SetDelete: true, Delete: true}
}

// A ReadAheadCallback receives blocks the engine read speculatively.
// Returning true transfers ownership of buf and tok to the callee;
// returning false returns both to the engine for reuse. Correctness
// must never depend on offers firing.
type ReadAheadCallback interface {
	OfferReadAhead(id common.BlockID, buf []byte, tok *token.Token, recency common.Recency) bool
}

// Serializer is the contract implemented by storage engines.
//
// Except for Malloc, Clone, Free and MakeAccount, operations must be
// invoked from the instance's home context, and callbacks are
// delivered there.
type Serializer interface {
	// Buffers passed to BlockRead and BlockWrite must be obtained
	// from Malloc or Clone. Safe from any goroutine.
	Malloc() []byte
	Clone(buf []byte) []byte
	Free(buf []byte)

	// MakeAccount allocates an I/O account for the underlying disk
	// with the given priority; outstandingLimit of account.Unlimited
	// means no cap. Safe from any goroutine. Close the account to
	// free it.
	MakeAccount(priority int, outstandingLimit int) *account.Account

	// At most one read-ahead callback is active at a time;
	// registering a second one is an error.
	RegisterReadAhead(cb ReadAheadCallback)
	UnregisterReadAhead(cb ReadAheadCallback)

	// BlockRead reads the block tok denotes into buf and invokes cb
	// when the read completes. buf belongs to the engine until cb
	// fires.
	BlockRead(tok *token.Token, buf []byte, acct *account.Account, cb IOCallback)

	// MaxBlockID returns an id such that every id ever assigned is
	// less than it. It never decreases. Ids below it may be unused
	// or deleted; IndexRead(MaxBlockID()-1) is not guaranteed to be
	// non-nil.
	MaxBlockID() common.BlockID

	// GetRecency returns common.InvalidRecency for ids never
	// written.
	GetRecency(id common.BlockID) common.Recency

	GetDeleteBit(id common.BlockID) bool

	// IndexRead returns a new reference to the committed token for
	// id, or nil if the id has no physical block. The caller owns
	// the returned reference.
	IndexRead(id common.BlockID) *token.Token

	// IndexWrite applies ops as one atomic batch: a reader observes
	// either none or all of its effects, never a partial subset. It
	// must only be called after every block write the batch
	// references has completed. Concurrent calls on one instance
	// are serialized by the caller.
	IndexWrite(ops []IndexWriteOp, acct *account.Account) error

	// BlockWrite issues a write of buf and returns its token
	// immediately; the token is valid before the write completes
	// but is not published to the index. cb fires exactly once on
	// completion. id == common.NullBlockID allocates a fresh id,
	// discoverable through MaxBlockID as soon as BlockWrite
	// returns.
	BlockWrite(buf []byte, id common.BlockID, acct *account.Account, cb IOCallback) *token.Token

	// BlockSequenceID computes the content marker for buf. It is
	// derived from the buffer's current contents and is not stored
	// by the index.
	BlockSequenceID(id common.BlockID, buf []byte) common.BlockSeqID

	// BlockSize is constant for the life of the instance.
	BlockSize() uint64
}
