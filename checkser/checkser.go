// Package checkser wraps a serializer and cross-validates its
// answers against independently tracked shadow state: a fingerprint
// per minted token and a mirror of every committed index field. A
// mismatch means the wrapped engine broke the serializer contract and
// is treated as fatal, not as a recoverable fault.
package checkser

import (
	"sync"

	"github.com/cespare/xxhash"
	"github.com/zeebo/errs"

	"github.com/mit-pdos/go-serializer/account"
	"github.com/mit-pdos/go-serializer/common"
	"github.com/mit-pdos/go-serializer/serializer"
	"github.com/mit-pdos/go-serializer/token"
	"github.com/mit-pdos/go-serializer/util"
)

var Error = errs.Class("checkser")

// idState mirrors the committed index fields for one block id.
type idState struct {
	crc     uint64 // fingerprint of the data the id's token names
	hasData bool
	recency common.Recency
	deleted bool
}

type Serializer struct {
	inner serializer.Serializer

	mu     sync.Mutex
	tokens map[*token.Token]uint64 // fingerprint per minted token
	index  map[common.BlockID]idState
	maxID  common.BlockID // largest MaxBlockID observed
	shim   *raShim
}

var _ serializer.Serializer = (*Serializer)(nil)

// Wrap decorates inner with semantic checking. The wrapper only
// validates ids written through it; pre-existing state passes
// through unchecked.
func Wrap(inner serializer.Serializer) *Serializer {
	return &Serializer{
		inner:  inner,
		tokens: make(map[*token.Token]uint64),
		index:  make(map[common.BlockID]idState),
	}
}

func fingerprint(buf []byte) uint64 {
	return xxhash.Sum64(buf)
}

func (s *Serializer) Malloc() []byte          { return s.inner.Malloc() }
func (s *Serializer) Clone(buf []byte) []byte { return s.inner.Clone(buf) }
func (s *Serializer) Free(buf []byte)         { s.inner.Free(buf) }

func (s *Serializer) MakeAccount(priority int, outstandingLimit int) *account.Account {
	return s.inner.MakeAccount(priority, outstandingLimit)
}

func (s *Serializer) BlockSize() uint64 {
	return s.inner.BlockSize()
}

// BlockSequenceID also checks that the engine's computation is
// deterministic for unchanged contents.
func (s *Serializer) BlockSequenceID(id common.BlockID, buf []byte) common.BlockSeqID {
	seq := s.inner.BlockSequenceID(id, buf)
	again := s.inner.BlockSequenceID(id, buf)
	if seq != again {
		panic(Error.New("sequence id unstable for id %d: %d vs %d", id, seq, again))
	}
	return seq
}

// raShim validates offered read-ahead buffers before forwarding them.
type raShim struct {
	s  *Serializer
	cb serializer.ReadAheadCallback
}

func (r *raShim) OfferReadAhead(id common.BlockID, buf []byte, tok *token.Token, recency common.Recency) bool {
	r.s.mu.Lock()
	crc, known := r.s.tokens[tok]
	r.s.mu.Unlock()
	if known && crc != fingerprint(buf) {
		panic(Error.New("read-ahead offer for id %d does not match its token's data", id))
	}
	return r.cb.OfferReadAhead(id, buf, tok, recency)
}

func (s *Serializer) RegisterReadAhead(cb serializer.ReadAheadCallback) {
	shim := &raShim{s: s, cb: cb}
	s.mu.Lock()
	if s.shim != nil {
		panic("checkser: a read-ahead callback is already registered")
	}
	s.shim = shim
	s.mu.Unlock()
	s.inner.RegisterReadAhead(shim)
}

func (s *Serializer) UnregisterReadAhead(cb serializer.ReadAheadCallback) {
	s.mu.Lock()
	shim := s.shim
	if shim == nil || shim.cb != cb {
		panic("checkser: unregistering a callback that is not registered")
	}
	s.shim = nil
	s.mu.Unlock()
	s.inner.UnregisterReadAhead(shim)
}

// BlockWrite records the buffer's fingerprint for the returned token
// and verifies that a write under a fresh id advances MaxBlockID.
func (s *Serializer) BlockWrite(buf []byte, id common.BlockID, acct *account.Account, cb serializer.IOCallback) *token.Token {
	crc := fingerprint(buf)
	tok := s.inner.BlockWrite(buf, id, acct, cb)
	if max := s.inner.MaxBlockID(); max <= tok.ID() {
		panic(Error.New("max block id %d does not cover freshly written id %d", max, tok.ID()))
	}
	s.mu.Lock()
	s.tokens[tok] = crc
	s.mu.Unlock()
	return tok
}

// BlockRead verifies, on completion, that the bytes read match the
// fingerprint recorded when the token's block was written.
func (s *Serializer) BlockRead(tok *token.Token, buf []byte, acct *account.Account, cb serializer.IOCallback) {
	s.inner.BlockRead(tok, buf, acct, func(err error) {
		if err == nil {
			s.mu.Lock()
			crc, known := s.tokens[tok]
			s.mu.Unlock()
			if known && crc != fingerprint(buf) {
				panic(Error.New("read of id %d returned data that was never written there", tok.ID()))
			}
		}
		cb(err)
	})
}

func (s *Serializer) MaxBlockID() common.BlockID {
	max := s.inner.MaxBlockID()
	s.mu.Lock()
	if max < s.maxID {
		panic(Error.New("max block id decreased from %d to %d", s.maxID, max))
	}
	s.maxID = max
	s.mu.Unlock()
	return max
}

func (s *Serializer) GetRecency(id common.BlockID) common.Recency {
	recency := s.inner.GetRecency(id)
	s.mu.Lock()
	st, known := s.index[id]
	s.mu.Unlock()
	if known && recency != st.recency {
		panic(Error.New("recency of id %d is %d, committed %d", id, recency, st.recency))
	}
	return recency
}

func (s *Serializer) GetDeleteBit(id common.BlockID) bool {
	del := s.inner.GetDeleteBit(id)
	s.mu.Lock()
	st, known := s.index[id]
	s.mu.Unlock()
	if known && del != st.deleted {
		panic(Error.New("delete bit of id %d is %v, committed %v", id, del, st.deleted))
	}
	return del
}

func (s *Serializer) IndexRead(id common.BlockID) *token.Token {
	tok := s.inner.IndexRead(id)
	s.mu.Lock()
	st, known := s.index[id]
	var crc uint64
	var minted bool
	if tok != nil {
		crc, minted = s.tokens[tok]
	}
	s.mu.Unlock()
	if known {
		if st.hasData && tok == nil {
			panic(Error.New("index lost the token for id %d", id))
		}
		if !st.hasData && tok != nil {
			panic(Error.New("index returned a token for detached id %d", id))
		}
		if tok != nil && minted && crc != st.crc {
			panic(Error.New("index returned a stale token for id %d", id))
		}
	}
	return tok
}

// IndexWrite forwards the batch and, once it commits, updates the
// mirror and verifies every touched id against the engine.
func (s *Serializer) IndexWrite(ops []serializer.IndexWriteOp, acct *account.Account) error {
	err := s.inner.IndexWrite(ops, acct)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, op := range ops {
		st, known := s.index[op.ID]
		if !known {
			st = idState{recency: s.inner.GetRecency(op.ID)}
		}
		if op.SetToken {
			if op.Token != nil {
				crc, minted := s.tokens[op.Token]
				if !minted {
					panic(Error.New("index write with a token not minted by this serializer (id %d)", op.ID))
				}
				st.crc = crc
				st.hasData = true
			} else {
				st.hasData = false
			}
		}
		if op.SetRecency {
			st.recency = op.Recency
		}
		if op.SetDelete {
			st.deleted = op.Delete
		}
		s.index[op.ID] = st
	}
	s.mu.Unlock()

	for _, op := range ops {
		tok := s.IndexRead(op.ID)
		if tok != nil {
			tok.Release()
		}
		s.GetRecency(op.ID)
		s.GetDeleteBit(op.ID)
	}
	util.DPrintf(3, "checkser: verified %d index ops\n", len(ops))
	return nil
}
