package token

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mit-pdos/go-serializer/common"
)

func TestReclaimOnLastRelease(t *testing.T) {
	assert := assert.New(t)
	var reclaimed int
	tok := MkToken(common.BlockID(7), 42, func(tk *Token) {
		assert.Equal(uint64(42), tk.Offset())
		reclaimed++
	})
	assert.Equal(common.BlockID(7), tok.ID())

	tok.Ref()
	tok.Release()
	assert.Equal(0, reclaimed, "a live reference remains")
	tok.Release()
	assert.Equal(1, reclaimed, "last release reclaims exactly once")
}

func TestOverReleasePanics(t *testing.T) {
	tok := MkToken(common.BlockID(1), 1, nil)
	tok.Release()
	assert.Panics(t, func() { tok.Release() })
}

func TestConcurrentHolders(t *testing.T) {
	var reclaimed int32
	tok := MkToken(common.BlockID(3), 9, func(*Token) {
		reclaimed++
	})
	const holders = 16
	for i := 0; i < holders; i++ {
		tok.Ref()
	}
	var wg sync.WaitGroup
	for i := 0; i < holders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok.Release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(0), reclaimed, "creator still holds a reference")
	tok.Release()
	assert.Equal(t, int32(1), reclaimed)
}
