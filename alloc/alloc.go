// alloc is a bitmap allocator for physical block offsets.
package alloc

import (
	"math/bits"
	"sync"
)

// Alloc uses a bit map to allocate and free numbers. Bit i
// corresponds to number i; number 0 is reserved and never allocated.
type Alloc struct {
	lock   *sync.Mutex // protects bitmap and next
	bitmap []byte
	next   uint64 // first number to try
}

func MkAlloc(bitmap []byte) *Alloc {
	a := &Alloc{
		lock:   new(sync.Mutex),
		bitmap: bitmap,
		next:   0,
	}
	a.MarkUsed(0)
	return a
}

// MkMaxAlloc makes a fresh allocator over the numbers [1, max).
func MkMaxAlloc(max uint64) *Alloc {
	bitmap := make([]byte, max/8)
	return MkAlloc(bitmap)
}

func (a *Alloc) incNext() uint64 {
	a.next = a.next + 1
	if a.next >= uint64(len(a.bitmap))*8 {
		a.next = 0
	}
	return a.next
}

// allocBit finds a free number and marks it used; zero means the
// bitmap is full. Assumes the caller holds the lock.
func (a *Alloc) allocBit() uint64 {
	var num uint64
	start := a.next
	for {
		num = a.incNext()
		bit := num % 8
		if a.bitmap[num/8]&(1<<bit) == 0 {
			a.bitmap[num/8] |= 1 << bit
			break
		}
		if num == start {
			num = 0
			break
		}
	}
	return num
}

func (a *Alloc) freeBit(num uint64) {
	bit := num % 8
	a.bitmap[num/8] &= ^(byte(1) << bit)
}

// AllocNum returns a free number and marks it used. It returns 0 if
// no number is free.
func (a *Alloc) AllocNum() uint64 {
	a.lock.Lock()
	num := a.allocBit()
	a.lock.Unlock()
	return num
}

func (a *Alloc) FreeNum(num uint64) {
	if num == 0 {
		panic("FreeNum")
	}
	a.lock.Lock()
	a.freeBit(num)
	a.lock.Unlock()
}

// MarkUsed records num as allocated, for rebuilding the bitmap from
// an on-disk index.
func (a *Alloc) MarkUsed(num uint64) {
	a.lock.Lock()
	a.bitmap[num/8] |= 1 << (num % 8)
	a.lock.Unlock()
}

func popCnt(b byte) uint64 {
	return uint64(bits.OnesCount8(b))
}

func (a *Alloc) NumFree() uint64 {
	a.lock.Lock()
	var n uint64
	for _, b := range a.bitmap {
		n += 8 - popCnt(b)
	}
	a.lock.Unlock()
	return n
}
