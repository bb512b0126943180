// Package account schedules physical I/O requests issued under
// competing priority classes against one shared disk.
//
// Each serializer instance owns a Scheduler with a fixed pool of
// worker goroutines. Requests are submitted under an Account; when
// the disk is contended, workers service the highest-priority account
// that has a runnable request. An account's outstanding-request limit
// caps how many of its requests run concurrently, giving per-subsystem
// backpressure (foreground vs. compaction I/O) rather than a global
// cap.
package account

import (
	"sync"

	"github.com/mit-pdos/go-serializer/util"
)

// Unlimited places no cap on an account's concurrently running
// requests.
const Unlimited = 0

// An Account is a scheduling class for I/O requests. Accounts may be
// created and closed from any goroutine, but must not be used
// concurrently with their own Close.
type Account struct {
	sched    *Scheduler
	priority int
	limit    int
	queue    []func()
	running  uint64
	closed   bool
}

type Scheduler struct {
	mu       *sync.Mutex
	condWork *sync.Cond
	condIdle *sync.Cond
	condShut *sync.Cond
	accounts []*Account
	paused   bool
	shutdown bool
	nthread  uint64
}

func MkScheduler(workers uint64) *Scheduler {
	mu := new(sync.Mutex)
	s := &Scheduler{
		mu:       mu,
		condWork: sync.NewCond(mu),
		condIdle: sync.NewCond(mu),
		condShut: sync.NewCond(mu),
	}
	for i := uint64(0); i < workers; i++ {
		go s.worker()
	}
	return s
}

// MkAccount allocates an account with the given priority (higher is
// serviced first) and outstanding-request limit (Unlimited for no
// cap).
func (s *Scheduler) MkAccount(priority int, outstandingLimit int) *Account {
	a := &Account{
		sched:    s,
		priority: priority,
		limit:    outstandingLimit,
	}
	s.mu.Lock()
	s.accounts = append(s.accounts, a)
	s.mu.Unlock()
	return a
}

// pick dequeues a request from the highest-priority account that has
// one queued and is under its limit. Assumes the caller holds mu.
func (s *Scheduler) pick() (*Account, func()) {
	var best *Account
	for _, a := range s.accounts {
		if len(a.queue) == 0 {
			continue
		}
		if a.limit != Unlimited && a.running >= uint64(a.limit) {
			continue
		}
		if best == nil || a.priority > best.priority {
			best = a
		}
	}
	if best == nil {
		return nil, nil
	}
	run := best.queue[0]
	best.queue = best.queue[1:]
	best.running += 1
	return best, run
}

func (s *Scheduler) worker() {
	s.mu.Lock()
	s.nthread += 1
	for !s.shutdown {
		if s.paused {
			s.condWork.Wait()
			continue
		}
		a, run := s.pick()
		if run == nil {
			s.condWork.Wait()
			continue
		}
		s.mu.Unlock()
		run()
		s.mu.Lock()
		a.running -= 1
		// a request finishing may unblock another queued request
		// of the same account
		s.condWork.Broadcast()
		s.condIdle.Broadcast()
	}
	util.DPrintf(1, "account worker: shutdown\n")
	s.nthread -= 1
	s.condShut.Signal()
	s.mu.Unlock()
}

// Pause holds issued requests in the queues without running them;
// tests use it to keep I/O in flight deterministically.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.condWork.Broadcast()
	s.mu.Unlock()
}

// Shutdown stops the workers once they finish their current requests.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.condWork.Broadcast()
	for s.nthread > 0 {
		s.condShut.Wait()
	}
	s.mu.Unlock()
}

// Submit queues run under the account. It never blocks; the request
// runs on a scheduler worker.
func (a *Account) Submit(run func()) {
	s := a.sched
	s.mu.Lock()
	if a.closed {
		panic("account: submit on a closed account")
	}
	a.queue = append(a.queue, run)
	s.condWork.Broadcast()
	s.mu.Unlock()
}

// Close drains the account's queued and running requests and detaches
// it from the scheduler. The account must not be used afterwards.
func (a *Account) Close() {
	s := a.sched
	s.mu.Lock()
	a.closed = true
	for len(a.queue) > 0 || a.running > 0 {
		s.condIdle.Wait()
	}
	for i, other := range s.accounts {
		if other == a {
			s.accounts = append(s.accounts[:i], s.accounts[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}
