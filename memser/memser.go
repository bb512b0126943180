// Package memser is a primitive-disk serializer engine. It keeps the
// logical index in memory, stores block data on a goose disk, and
// flushes index batches to a reserved region of that disk before they
// become visible, so a recovered instance sees exactly the committed
// index.
//
// The disk layout is: block 0 holds the header, blocks
// [INDEXSTART, DATASTART) hold fixed-size index entry slots, and the
// rest is the data region, managed by a bitmap allocator.
package memser

import (
	"sync"

	"github.com/cespare/xxhash"
	"github.com/tchajed/goose/machine/disk"
	"github.com/tchajed/marshal"
	"github.com/zeebo/errs"

	"github.com/mit-pdos/go-serializer/account"
	"github.com/mit-pdos/go-serializer/alloc"
	"github.com/mit-pdos/go-serializer/common"
	"github.com/mit-pdos/go-serializer/cond"
	"github.com/mit-pdos/go-serializer/home"
	"github.com/mit-pdos/go-serializer/serializer"
	"github.com/mit-pdos/go-serializer/token"
	"github.com/mit-pdos/go-serializer/util"
)

const (
	HDRBLOCK    uint64 = 0
	INDEXSTART  uint64 = 1
	INDEXBLOCKS uint64 = 64
	DATASTART   uint64 = INDEXSTART + INDEXBLOCKS

	entrySz         uint64 = 32
	entriesPerBlock uint64 = disk.BlockSize / entrySz

	// MaxBlockIDCap is the largest id (exclusive) the fixed index
	// region can hold.
	MaxBlockIDCap common.BlockID = common.BlockID(INDEXBLOCKS * entriesPerBlock)

	magic uint64 = 0x7365722d69647831

	flagWritten uint64 = 1 << 0
	flagDeleted uint64 = 1 << 1

	// NWORKERS is the size of the I/O worker pool.
	NWORKERS uint64 = 4
)

var Error = errs.Class("memser")

// entry is one id's committed index state.
type entry struct {
	tok     *token.Token
	recency common.Recency
	deleted bool
	written bool
}

type Serializer struct {
	home  *home.Home
	d     disk.Disk
	sched *account.Scheduler

	mu       *sync.Mutex
	entries  map[common.BlockID]entry
	offOwner map[uint64]common.BlockID // committed physical offset -> id
	maxID    common.BlockID
	raCb     serializer.ReadAheadCallback

	failRead  error
	failWrite error

	falloc *alloc.Alloc // data-region slots; slot n is offset DATASTART+n-1

	comp     chan func()
	compDone *cond.Cond
}

var _ serializer.Serializer = (*Serializer)(nil)

// MkSerializer recovers a serializer from d, or initializes a fresh
// one if d has never been used (an all-zero disk). The calling
// goroutine becomes the instance's home context.
func MkSerializer(d disk.Disk) *Serializer {
	if d.Size() <= DATASTART {
		panic("memser: disk too small")
	}
	s := &Serializer{
		home:     home.Capture(),
		d:        d,
		sched:    account.MkScheduler(NWORKERS),
		mu:       new(sync.Mutex),
		entries:  make(map[common.BlockID]entry),
		offOwner: make(map[uint64]common.BlockID),
		falloc:   alloc.MkMaxAlloc(d.Size() - DATASTART + 1),
		comp:     make(chan func(), 128),
		compDone: cond.MkCond(),
	}
	s.recoverIndex()
	go s.dispatcher()
	return s
}

func (s *Serializer) recoverIndex() {
	hdr := s.d.Read(HDRBLOCK)
	dec := marshal.NewDec(hdr)
	if dec.GetInt() != magic {
		util.DPrintf(1, "MkSerializer: fresh disk (%d blocks)\n", s.d.Size())
		return
	}
	s.maxID = common.BlockID(dec.GetInt())
	for b := uint64(0); b < INDEXBLOCKS; b++ {
		blk := s.d.Read(INDEXSTART + b)
		dec := marshal.NewDec(blk)
		for slot := uint64(0); slot < entriesPerBlock; slot++ {
			off := dec.GetInt()
			recency := common.Recency(dec.GetInt())
			flags := dec.GetInt()
			dec.GetInt() // reserved
			if flags&flagWritten == 0 {
				continue
			}
			id := common.BlockID(b*entriesPerBlock + slot)
			e := entry{
				recency: recency,
				deleted: flags&flagDeleted != 0,
				written: true,
			}
			if off != 0 {
				e.tok = token.MkToken(id, off, s.reclaim)
				s.offOwner[off] = id
				s.falloc.MarkUsed(off - DATASTART + 1)
			}
			s.entries[id] = e
		}
	}
	util.DPrintf(1, "MkSerializer: recovered %d entries, max id %d\n",
		len(s.entries), s.maxID)
}

// dispatcher delivers completion callbacks in completion order. It is
// part of the home context, so callbacks may invoke non-blocking
// home-context operations.
func (s *Serializer) dispatcher() {
	s.home.Adopt()
	for f := range s.comp {
		f()
	}
	s.compDone.Pulse()
}

func (s *Serializer) post(f func()) {
	s.comp <- f
}

// Shutdown stops the worker pool and the completion dispatcher. The
// caller must have waited for its outstanding operations first.
func (s *Serializer) Shutdown() {
	s.sched.Shutdown()
	close(s.comp)
	s.compDone.Wait()
	util.DPrintf(1, "memser: shutdown\n")
}

// reclaim returns a token's physical block to the allocator once its
// last reference is gone.
func (s *Serializer) reclaim(t *token.Token) {
	util.DPrintf(5, "reclaim: id %d off %d\n", t.ID(), t.Offset())
	s.falloc.FreeNum(t.Offset() - DATASTART + 1)
}

var bufPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, disk.BlockSize)
	},
}

func (s *Serializer) Malloc() []byte {
	return bufPool.Get().([]byte)
}

func (s *Serializer) Clone(buf []byte) []byte {
	b := s.Malloc()
	copy(b, buf)
	return b
}

func (s *Serializer) Free(buf []byte) {
	if uint64(len(buf)) != disk.BlockSize {
		panic("memser: freeing a buffer of the wrong size")
	}
	bufPool.Put(buf)
}

func (s *Serializer) MakeAccount(priority int, outstandingLimit int) *account.Account {
	return s.sched.MkAccount(priority, outstandingLimit)
}

func (s *Serializer) RegisterReadAhead(cb serializer.ReadAheadCallback) {
	s.home.Check()
	s.mu.Lock()
	if s.raCb != nil {
		panic("memser: a read-ahead callback is already registered")
	}
	s.raCb = cb
	s.mu.Unlock()
}

func (s *Serializer) UnregisterReadAhead(cb serializer.ReadAheadCallback) {
	s.home.Check()
	s.mu.Lock()
	if s.raCb != cb {
		panic("memser: unregistering a callback that is not registered")
	}
	s.raCb = nil
	s.mu.Unlock()
}

func (s *Serializer) BlockSize() uint64 {
	return disk.BlockSize
}

func (s *Serializer) BlockSequenceID(id common.BlockID, buf []byte) common.BlockSeqID {
	h := xxhash.New()
	enc := marshal.NewEnc(8)
	enc.PutInt(uint64(id))
	h.Write(enc.Finish())
	h.Write(buf)
	return common.BlockSeqID(h.Sum64())
}

// FailNextWrite makes the next issued block write complete with err.
// For tests.
func (s *Serializer) FailNextWrite(err error) {
	s.mu.Lock()
	s.failWrite = err
	s.mu.Unlock()
}

// FailNextRead makes the next issued block read complete with err.
// For tests.
func (s *Serializer) FailNextRead(err error) {
	s.mu.Lock()
	s.failRead = err
	s.mu.Unlock()
}

// Scheduler exposes the I/O scheduler so tests can hold issued
// requests in flight.
func (s *Serializer) Scheduler() *account.Scheduler {
	return s.sched
}
