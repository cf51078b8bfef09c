// Package sim is a simulated rig: instantaneous axes, a focus drive, a camera
// rendering a synthetic field, a vision matcher that knows the rig's true
// geometry, and an amplifier and pressure controller driven by a simple cell
// model.
//
// Every motion command and every frame capture counts as one operation on a
// shared Faults counter, which can make exactly one of them fail.
package sim

import (
	"errors"
	"sync"
)

// ErrInjected is returned by the operation selected with Faults.FailAt.
var ErrInjected = errors.New("sim: injected failure")

// Faults counts operations across devices and injects a single failure.
type Faults struct {
	mu     sync.Mutex
	ops    int
	failAt int
}

// FailAt makes the n-th operation from now fail (1-based). Zero disables.
func (f *Faults) FailAt(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n <= 0 {
		f.failAt = 0
		return
	}
	f.failAt = f.ops + n
}

// Ops returns the number of operations counted so far.
func (f *Faults) Ops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ops
}

func (f *Faults) tick() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops++
	if f.failAt != 0 && f.ops == f.failAt {
		f.failAt = 0
		return ErrInjected
	}
	return nil
}
