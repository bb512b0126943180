// Package home tracks the execution context a serializer instance is
// affine to. Index and block I/O operations must run on the goroutine
// that constructed the instance or on its completion dispatcher;
// Check catches off-context calls in development builds.
package home

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

func gid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// first line is "goroutine <id> [<state>]:"
	fields := bytes.Fields(buf[:n])
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		panic("home: cannot parse goroutine id: " + err.Error())
	}
	return id
}

type Home struct {
	mu      sync.Mutex
	owner   uint64
	adopted map[uint64]bool
}

// Capture records the calling goroutine as the home context.
func Capture() *Home {
	return &Home{
		owner:   gid(),
		adopted: make(map[uint64]bool),
	}
}

// Adopt extends the home context to the calling goroutine. An
// engine's completion dispatcher adopts itself so that completion
// callbacks may invoke home-context operations.
func (h *Home) Adopt() {
	if !checkEnabled {
		return
	}
	h.mu.Lock()
	h.adopted[gid()] = true
	h.mu.Unlock()
}

// Check panics if the calling goroutine is not part of the home
// context. Off-context calls are a programming error, not a
// recoverable fault. Disabled under the release build tag.
func (h *Home) Check() {
	if !checkEnabled {
		return
	}
	g := gid()
	if g == h.owner {
		return
	}
	h.mu.Lock()
	ok := h.adopted[g]
	h.mu.Unlock()
	if !ok {
		panic("home: operation invoked off the home context")
	}
}
