package memser

import (
	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-serializer/account"
	"github.com/mit-pdos/go-serializer/common"
	"github.com/mit-pdos/go-serializer/serializer"
	"github.com/mit-pdos/go-serializer/token"
	"github.com/mit-pdos/go-serializer/util"
)

// BlockWrite allocates a physical block, returns its token
// immediately, and performs the disk write on a scheduler worker. The
// token is not published to the index; that happens only through an
// explicit IndexWrite.
func (s *Serializer) BlockWrite(buf []byte, id common.BlockID, acct *account.Account, cb serializer.IOCallback) *token.Token {
	s.home.Check()
	if uint64(len(buf)) != disk.BlockSize {
		panic("memser: write buffer is not block-sized")
	}

	s.mu.Lock()
	if id == common.NullBlockID {
		id = s.maxID
		s.maxID += 1
	} else if id >= s.maxID {
		s.maxID = id + 1
	}
	if id >= MaxBlockIDCap {
		s.mu.Unlock()
		panic(Error.New("block id %d exceeds index capacity", id))
	}
	failure := s.failWrite
	s.failWrite = nil
	s.mu.Unlock()

	num := s.falloc.AllocNum()
	if num == 0 {
		panic(Error.New("out of data blocks"))
	}
	off := DATASTART + num - 1
	tok := token.MkToken(id, off, s.reclaim)
	tok.Ref() // held by the in-flight write

	util.DPrintf(5, "BlockWrite: id %d off %d\n", id, off)
	acct.Submit(func() {
		if failure == nil {
			s.d.Write(off, buf)
		}
		s.post(func() {
			cb(failure)
			tok.Release()
		})
	})
	return tok
}

// BlockRead reads the block tok denotes into buf on a scheduler
// worker and delivers cb on the dispatcher. If a read-ahead callback
// is registered, the physically adjacent committed block may be
// offered to it after the explicit read completes.
func (s *Serializer) BlockRead(tok *token.Token, buf []byte, acct *account.Account, cb serializer.IOCallback) {
	s.home.Check()
	if uint64(len(buf)) != disk.BlockSize {
		panic("memser: read buffer is not block-sized")
	}

	s.mu.Lock()
	failure := s.failRead
	s.failRead = nil
	doRA := s.raCb != nil
	s.mu.Unlock()

	tok.Ref() // held by the in-flight read
	acct.Submit(func() {
		if failure == nil {
			blk := s.d.Read(tok.Offset())
			copy(buf, blk)
		}
		var offer func()
		if failure == nil && doRA {
			offer = s.readAhead(tok.Offset() + 1)
		}
		s.post(func() {
			cb(failure)
			tok.Release()
			if offer != nil {
				offer()
			}
		})
	})
}

// readAhead reads the committed block at off, if any, and returns a
// closure that makes the offer on the dispatcher. Runs on a scheduler
// worker.
func (s *Serializer) readAhead(off uint64) func() {
	s.mu.Lock()
	id, ok := s.offOwner[off]
	var ratok *token.Token
	var rarec common.Recency
	if ok {
		e := s.entries[id]
		if e.tok != nil && e.tok.Offset() == off && !e.deleted {
			ratok = e.tok.Ref()
			rarec = e.recency
		}
	}
	s.mu.Unlock()
	if ratok == nil {
		return nil
	}

	rabuf := s.Malloc()
	copy(rabuf, s.d.Read(off))
	util.DPrintf(5, "readAhead: offering id %d off %d\n", id, off)
	return func() {
		s.mu.Lock()
		racb := s.raCb
		s.mu.Unlock()
		if racb == nil || !racb.OfferReadAhead(id, rabuf, ratok, rarec) {
			// declined: ownership stays with the engine
			ratok.Release()
			s.Free(rabuf)
		}
	}
}
