package cond

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPulseBeforeWait(t *testing.T) {
	c := MkCond()
	assert.False(t, c.Pulsed())
	c.Pulse()
	assert.True(t, c.Pulsed())
	c.Wait()
}

func TestWaitAcrossGoroutines(t *testing.T) {
	c := MkCond()
	var got int
	done := make(chan struct{})
	go func() {
		c.Wait()
		got = 1
		close(done)
	}()
	c.Pulse()
	<-done
	assert.Equal(t, 1, got)
}

func TestDoublePulsePanics(t *testing.T) {
	c := MkCond()
	c.Pulse()
	assert.Panics(t, func() { c.Pulse() })
}
