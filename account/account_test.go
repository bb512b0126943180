package account

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriorityOrder(t *testing.T) {
	assert := assert.New(t)
	s := MkScheduler(1)
	defer s.Shutdown()
	low := s.MkAccount(1, Unlimited)
	high := s.MkAccount(10, Unlimited)
	defer low.Close()
	defer high.Close()

	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	s.Pause()
	low.Submit(record("low0"))
	low.Submit(record("low1"))
	high.Submit(record("high0"))
	high.Submit(record("high1"))
	done := MkWaiter()
	low.Submit(done.Finish) // runs after everything above
	s.Resume()
	done.Wait()

	// the held-back queue must drain the high-priority account first
	mu.Lock()
	defer mu.Unlock()
	assert.Equal([]string{"high0", "high1", "low0", "low1"}, order)
}

func TestOutstandingLimit(t *testing.T) {
	assert := assert.New(t)
	s := MkScheduler(4)
	defer s.Shutdown()
	a := s.MkAccount(1, 1)

	var mu sync.Mutex
	var inflight, maxInflight int
	for i := 0; i < 8; i++ {
		a.Submit(func() {
			mu.Lock()
			inflight++
			if inflight > maxInflight {
				maxInflight = inflight
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inflight--
			mu.Unlock()
		})
	}
	a.Close()
	assert.Equal(1, maxInflight, "limit 1 means one request at a time")
}

func TestCloseDrains(t *testing.T) {
	assert := assert.New(t)
	s := MkScheduler(2)
	defer s.Shutdown()
	a := s.MkAccount(1, Unlimited)

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 16; i++ {
		a.Submit(func() {
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}
	a.Close()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(16, ran, "Close returns only after the queue drained")
	assert.Panics(func() { a.Submit(func() {}) })
}

// Waiter is a tiny completion latch for tests.
type Waiter struct {
	ch chan struct{}
}

func MkWaiter() *Waiter {
	return &Waiter{ch: make(chan struct{})}
}

func (w *Waiter) Finish() {
	close(w.ch)
}

func (w *Waiter) Wait() {
	<-w.ch
}
