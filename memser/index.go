package memser

import (
	"github.com/tchajed/goose/machine/disk"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-serializer/account"
	"github.com/mit-pdos/go-serializer/common"
	"github.com/mit-pdos/go-serializer/cond"
	"github.com/mit-pdos/go-serializer/serializer"
	"github.com/mit-pdos/go-serializer/token"
	"github.com/mit-pdos/go-serializer/util"
)

func (s *Serializer) MaxBlockID() common.BlockID {
	s.home.Check()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxID
}

func (s *Serializer) GetRecency(id common.BlockID) common.Recency {
	s.home.Check()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return common.InvalidRecency
	}
	return e.recency
}

func (s *Serializer) GetDeleteBit(id common.BlockID) bool {
	s.home.Check()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[id].deleted
}

func (s *Serializer) IndexRead(id common.BlockID) *token.Token {
	s.home.Check()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.tok == nil {
		return nil
	}
	return e.tok.Ref()
}

// IndexWrite stages the batch, makes it durable in the index region,
// and only then publishes it, all-or-nothing, under the instance
// lock. The caller must have waited for every block write the batch
// references.
func (s *Serializer) IndexWrite(ops []serializer.IndexWriteOp, acct *account.Account) error {
	s.home.Check()

	s.mu.Lock()
	staged := make(map[common.BlockID]entry, len(ops))
	stagedMax := s.maxID
	dirty := make(map[uint64]bool)
	for _, op := range ops {
		if op.ID >= MaxBlockIDCap {
			s.mu.Unlock()
			return Error.New("block id %d exceeds index capacity", op.ID)
		}
		e, ok := staged[op.ID]
		if !ok {
			e, ok = s.entries[op.ID]
			if !ok {
				e = entry{recency: common.InvalidRecency}
			}
		}
		if op.SetToken {
			e.tok = op.Token
		}
		if op.SetRecency {
			e.recency = op.Recency
		}
		if op.SetDelete {
			e.deleted = op.Delete
		}
		e.written = true
		staged[op.ID] = e
		if op.ID >= stagedMax {
			stagedMax = op.ID + 1
		}
		dirty[indexBlock(op.ID)] = true
	}
	blks := make(map[uint64][]byte, len(dirty)+1)
	for b := range dirty {
		blks[b] = s.encodeIndexBlock(b, staged)
	}
	hdr := s.encodeHdr(stagedMax)
	s.mu.Unlock()

	// committed means durable: flush the new index state before any
	// reader can observe it
	done := cond.MkCond()
	acct.Submit(func() {
		for b, blk := range blks {
			s.d.Write(b, blk)
		}
		s.d.Write(HDRBLOCK, hdr)
		s.d.Barrier()
		done.Pulse()
	})
	done.Wait()

	s.mu.Lock()
	for id, ne := range staged {
		old := s.entries[id]
		if old.tok != ne.tok {
			if ne.tok != nil {
				ne.tok.Ref()
				s.offOwner[ne.tok.Offset()] = id
			}
			if old.tok != nil {
				delete(s.offOwner, old.tok.Offset())
				old.tok.Release()
			}
		}
		s.entries[id] = ne
	}
	if stagedMax > s.maxID {
		s.maxID = stagedMax
	}
	s.mu.Unlock()

	util.DPrintf(3, "IndexWrite: committed %d ops\n", len(ops))
	return nil
}

func indexBlock(id common.BlockID) uint64 {
	return INDEXSTART + uint64(id)/entriesPerBlock
}

// encodeIndexBlock renders index block b from the committed entries
// overlaid with the staged batch. Assumes the caller holds mu.
func (s *Serializer) encodeIndexBlock(b uint64, staged map[common.BlockID]entry) []byte {
	enc := marshal.NewEnc(disk.BlockSize)
	base := common.BlockID((b - INDEXSTART) * entriesPerBlock)
	for slot := uint64(0); slot < entriesPerBlock; slot++ {
		id := base + common.BlockID(slot)
		e, ok := staged[id]
		if !ok {
			e = s.entries[id]
		}
		var off uint64
		if e.tok != nil {
			off = e.tok.Offset()
		}
		var flags uint64
		if e.written {
			flags |= flagWritten
		}
		if e.deleted {
			flags |= flagDeleted
		}
		enc.PutInt(off)
		enc.PutInt(uint64(e.recency))
		enc.PutInt(flags)
		enc.PutInt(0)
	}
	return enc.Finish()
}

func (s *Serializer) encodeHdr(maxID common.BlockID) []byte {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(magic)
	enc.PutInt(uint64(maxID))
	return enc.Finish()
}
