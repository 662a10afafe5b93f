// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package arbiter provides the single-holder mutex and inter-command
// pacing delay every Modbus bus access must honor.
package arbiter

import (
	"log/slog"
	"sync"
	"time"
)

// Arbiter serializes bus access and enforces a minimum quiet time
// between any two transactions on the line.
type Arbiter struct {
	mu              sync.Mutex
	interCmdDelay   time.Duration
	stopped         bool
	stoppedHeldOnce sync.Once
}

// New returns an Arbiter that paces released holders by delay.
func New(delay time.Duration) *Arbiter {
	return &Arbiter{interCmdDelay: delay}
}

// SetInterCmdDelay updates the pacing delay applied after future holds.
// Safe to call concurrently with Do.
func (a *Arbiter) SetInterCmdDelay(delay time.Duration) {
	a.mu.Lock()
	a.interCmdDelay = delay
	a.mu.Unlock()
}

// Do runs fn while holding the single bus token, then sleeps the
// configured inter-command delay before releasing it. fn's return value
// (ok or error) does not change the pacing: the delay is paid on every
// attempt, successful or not.
//
// Acquisition is unbounded-blocking. After Stop, Do blocks forever,
// since Stop keeps the token held. Do is not reentrant: calling Do
// from within fn deadlocks.
func (a *Arbiter) Do(fn func() error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		slog.Error("arbiter: Do called after Stop")
		panic("arbiter: bus access after permanent stop")
	}

	err := fn()
	time.Sleep(a.interCmdDelay)
	return err
}

// Stop permanently acquires the arbiter, guaranteeing no further bus
// access. It returns once the token is held; later calls are no-ops.
func (a *Arbiter) Stop() {
	a.stoppedHeldOnce.Do(func() {
		a.mu.Lock()
		a.stopped = true
	})
}
