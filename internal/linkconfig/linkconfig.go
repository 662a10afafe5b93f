// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package linkconfig holds the persisted serial-link parameters and the
// actual/next pair that lets the control surface stage changes without
// disturbing a running link.
package linkconfig

import (
	"errors"
	"sync"
	"time"

	"github.com/trackle-iot/modbus-gateway/internal/bus"
	"github.com/trackle-iot/modbus-gateway/internal/codec"
)

// Config is one link configuration snapshot.
type Config struct {
	BaudRate           int
	InterCmdDelayMs    uint16
	ReadPeriodS        uint8
	DataBits           int
	Parity             bus.Parity
	StopBits           bus.StopBits
	WordOrder          codec.WordOrder
	KnownRegistersCount int
	FwVersion          string
}

// Default returns the bring-up default: 9600 8N1, 50ms pacing, 1s read
// period, empty catalog.
func Default() Config {
	return Config{
		BaudRate:        9600,
		InterCmdDelayMs: 50,
		ReadPeriodS:     1,
		DataBits:        8,
		Parity:          bus.ParityNone,
		StopBits:        bus.StopBits1,
		WordOrder:       codec.MsbFirst,
	}
}

var (
	ErrInvalidBaudRate  = errors.New("invalid baud rate")
	ErrInvalidDataBits  = errors.New("invalid data bits")
	ErrInvalidDelay     = errors.New("invalid inter-command delay")
	ErrInvalidReadPeriod = errors.New("invalid read period")
)

// Validate enforces the structural invariants on a standalone Config.
func Validate(c Config) error {
	if c.BaudRate <= 0 {
		return ErrInvalidBaudRate
	}
	switch c.DataBits {
	case 5, 6, 7, 8:
	default:
		return ErrInvalidDataBits
	}
	if c.InterCmdDelayMs == 0 {
		return ErrInvalidDelay
	}
	if c.ReadPeriodS == 0 {
		return ErrInvalidReadPeriod
	}
	return nil
}

// InterCmdDelay returns the pacing delay as a time.Duration.
func (c Config) InterCmdDelay() time.Duration {
	return time.Duration(c.InterCmdDelayMs) * time.Millisecond
}

// ReadPeriod returns the polling period as a time.Duration.
func (c Config) ReadPeriod() time.Duration {
	return time.Duration(c.ReadPeriodS) * time.Second
}

// Pair holds the actual (currently running) and next (staged) link
// configs. actual is read-only after bring-up; next is mutated freely
// by the control surface and promoted only across a restart following
// a successful NVS commit.
type Pair struct {
	mu     sync.RWMutex
	actual Config
	next   Config
}

// NewPair seeds both actual and next with the same initial config.
func NewPair(initial Config) *Pair {
	return &Pair{actual: initial, next: initial}
}

// Actual returns the running config.
func (p *Pair) Actual() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.actual
}

// Next returns the staged config.
func (p *Pair) Next() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.next
}

// MutateNext applies fn to a copy of next and stores the result if fn
// returns nil.
func (p *Pair) MutateNext(fn func(*Config) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.next
	if err := fn(&c); err != nil {
		return err
	}
	p.next = c
	return nil
}
