// Package cond provides a single-shot wait primitive for bridging
// callback-style I/O completion into blocking calls.
//
// A Cond starts out unsignaled. Pulse signals it exactly once; Wait
// parks the calling goroutine until the Cond has been pulsed. Many
// goroutines may Wait on the same Cond.
package cond

import "sync"

type Cond struct {
	once sync.Once
	ch   chan struct{}
}

func MkCond() *Cond {
	return &Cond{ch: make(chan struct{})}
}

// Pulse signals the cond. Pulsing twice panics: a completion callback
// must fire exactly once.
func (c *Cond) Pulse() {
	var first bool
	c.once.Do(func() {
		close(c.ch)
		first = true
	})
	if !first {
		panic("cond: pulsed twice")
	}
}

// Wait blocks until Pulse has been called. Only the calling goroutine
// is parked; everything else keeps running.
func (c *Cond) Wait() {
	<-c.ch
}

// Pulsed reports whether Pulse has been called.
func (c *Cond) Pulsed() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}
