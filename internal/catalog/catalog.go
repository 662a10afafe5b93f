// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package catalog implements the bounded, uniqueness-enforcing store of
// register descriptors and their runtime state.
package catalog

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/trackle-iot/modbus-gateway/internal/codec"
)

// MaxRegisters is the catalog's cardinality limit.
const MaxRegisters = 60

// MaxNameBytes is the largest length a register name may have.
const MaxNameBytes = 19

var (
	ErrDuplicateName  = errors.New("duplicate-name")
	ErrDuplicateTuple = errors.New("duplicate-tuple")
	ErrCatalogFull    = errors.New("catalog-full")
	ErrNotFound       = errors.New("not-found")
	ErrInvalidField   = errors.New("invalid-field")
)

// Descriptor is the persisted metadata record for one register.
type Descriptor struct {
	Name          string
	Function      byte // 1..4, read function code
	SlaveAddr     byte // 1..247
	RegID         uint16
	Type          codec.Type
	WordCount     int
	Writable      bool
	WriteFunction byte // one of {5,6,15,16} when Writable

	InterpretAsSigned bool // Number only
	Factor            float64
	Offset            float64
	Decimals          uint8

	Monitored            bool
	PublishOnChange      bool
	ChangeCheckIntervalS uint32
	MaxPublishDelayS     uint32
}

// RuntimeState is the non-persisted, per-descriptor polling state.
type RuntimeState struct {
	LatestPublishedValue string
	LatestPublishedTimeS uint32
	MustPublish          bool
}

type slot struct {
	desc    Descriptor
	runtime RuntimeState
}

// Catalog is a bounded, insertion-ordered sequence of register slots.
// All accessors hand back copies; callers never see interior state.
type Catalog struct {
	mu    sync.Mutex
	slots []slot
	count atomic.Int32
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{}
}

// validate enforces a descriptor's structural invariants before it is
// allowed into a slot.
func validate(d Descriptor) error {
	if len(d.Name) < 1 || len(d.Name) > MaxNameBytes {
		return fmt.Errorf("%w: name length", ErrInvalidField)
	}
	if d.Function < 1 || d.Function > 4 {
		return fmt.Errorf("%w: function", ErrInvalidField)
	}
	if d.SlaveAddr < 1 || d.SlaveAddr > 247 {
		return fmt.Errorf("%w: slave address", ErrInvalidField)
	}
	switch d.Type {
	case codec.Number:
		if d.WordCount < 1 || d.WordCount > 4 {
			return fmt.Errorf("%w: word count", ErrInvalidField)
		}
	case codec.Float:
		if d.WordCount != 2 && d.WordCount != 4 {
			return fmt.Errorf("%w: word count", ErrInvalidField)
		}
	case codec.String:
		if d.WordCount < 1 || d.WordCount > 10 {
			return fmt.Errorf("%w: word count", ErrInvalidField)
		}
	case codec.Raw:
		if d.WordCount != 1 {
			return fmt.Errorf("%w: word count", ErrInvalidField)
		}
	default:
		return fmt.Errorf("%w: type", ErrInvalidField)
	}
	if d.Writable {
		switch d.WriteFunction {
		case 5, 6, 15, 16:
		default:
			return fmt.Errorf("%w: write function", ErrInvalidField)
		}
	}
	if d.Type == codec.Number || d.Type == codec.Float {
		if d.Factor == 0 {
			return fmt.Errorf("%w: factor", ErrInvalidField)
		}
	} else {
		if d.InterpretAsSigned || d.Factor != 0 || d.Offset != 0 || d.Decimals != 0 {
			return fmt.Errorf("%w: scaling not applicable to %v", ErrInvalidField, d.Type)
		}
	}
	if d.InterpretAsSigned && d.Type != codec.Number {
		return fmt.Errorf("%w: signedness only applies to Number", ErrInvalidField)
	}
	if d.PublishOnChange && !d.Monitored {
		return fmt.Errorf("%w: publish-on-change requires monitored", ErrInvalidField)
	}
	return nil
}

// Add inserts desc if its name and (function, slave, reg) tuple are both
// unique and the catalog has room.
func (c *Catalog) Add(desc Descriptor) error {
	if err := validate(desc); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.slots) >= MaxRegisters {
		return ErrCatalogFull
	}
	for _, s := range c.slots {
		if s.desc.Name == desc.Name {
			return ErrDuplicateName
		}
		if s.desc.Function == desc.Function && s.desc.SlaveAddr == desc.SlaveAddr && s.desc.RegID == desc.RegID {
			return ErrDuplicateTuple
		}
	}

	c.slots = append(c.slots, slot{desc: desc})
	c.count.Store(int32(len(c.slots)))
	return nil
}

// Remove deletes the descriptor named name.
func (c *Catalog) Remove(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range c.slots {
		if s.desc.Name == name {
			c.slots = append(c.slots[:i], c.slots[i+1:]...)
			c.count.Store(int32(len(c.slots)))
			return nil
		}
	}
	return ErrNotFound
}

// Count returns the number of cataloged descriptors.
func (c *Catalog) Count() int {
	return int(c.count.Load())
}

// Find returns a copy of the descriptor named name.
func (c *Catalog) Find(name string) (Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.slots {
		if s.desc.Name == name {
			return s.desc, true
		}
	}
	return Descriptor{}, false
}

// FindByModbus returns a copy of the descriptor matching the
// (function, slave, reg) tuple.
func (c *Catalog) FindByModbus(function, slave byte, reg uint16) (Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.slots {
		if s.desc.Function == function && s.desc.SlaveAddr == slave && s.desc.RegID == reg {
			return s.desc, true
		}
	}
	return Descriptor{}, false
}

// At returns a copy of the descriptor at insertion-order index i.
func (c *Catalog) At(i int) (Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.slots) {
		return Descriptor{}, false
	}
	return c.slots[i].desc, true
}

// RuntimeAt returns a copy of the runtime state at index i.
func (c *Catalog) RuntimeAt(i int) (RuntimeState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.slots) {
		return RuntimeState{}, false
	}
	return c.slots[i].runtime, true
}

// UpdateRuntimeAt mutates the runtime state at index i in place under
// the catalog lock; used by the polling engine once per iteration.
func (c *Catalog) UpdateRuntimeAt(i int, fn func(*RuntimeState)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.slots) {
		return false
	}
	fn(&c.slots[i].runtime)
	return true
}

// ClearAllMustPublish resets every register's pending-retry flag; called
// once a batch publish is acknowledged.
func (c *Catalog) ClearAllMustPublish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		c.slots[i].runtime.MustPublish = false
	}
}

// Clear discards every descriptor and its runtime state.
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots = nil
	c.count.Store(0)
}

// mutate finds the slot named name and applies fn under the lock,
// returning false if name is not found or fn itself rejects the change.
func (c *Catalog) mutate(name string, fn func(*Descriptor) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		if c.slots[i].desc.Name == name {
			return fn(&c.slots[i].desc)
		}
	}
	return false
}

// SetMonitored sets the monitored flag.
func (c *Catalog) SetMonitored(name string, monitored bool) bool {
	return c.mutate(name, func(d *Descriptor) bool {
		d.Monitored = monitored
		if !monitored {
			d.PublishOnChange = false
		}
		return true
	})
}

// SetPublishOnChange enables/disables change-detection; requires the
// register to already be monitored.
func (c *Catalog) SetPublishOnChange(name string, enabled bool) bool {
	return c.mutate(name, func(d *Descriptor) bool {
		if !d.Monitored {
			return false
		}
		d.PublishOnChange = enabled
		return true
	})
}

// SetChangeCheckInterval sets the change-check cadence; requires
// monitored + publish-on-change.
func (c *Catalog) SetChangeCheckInterval(name string, seconds uint32) bool {
	return c.mutate(name, func(d *Descriptor) bool {
		if !d.Monitored || !d.PublishOnChange {
			return false
		}
		d.ChangeCheckIntervalS = seconds
		return true
	})
}

// SetMaxPublishDelay sets the heartbeat interval; requires monitored.
func (c *Catalog) SetMaxPublishDelay(name string, seconds uint32) bool {
	return c.mutate(name, func(d *Descriptor) bool {
		if !d.Monitored {
			return false
		}
		d.MaxPublishDelayS = seconds
		return true
	})
}

// SetWritable toggles the writable flag; writeFn is required and
// validated only when writable is true.
func (c *Catalog) SetWritable(name string, writable bool, writeFn byte) bool {
	return c.mutate(name, func(d *Descriptor) bool {
		if writable {
			switch writeFn {
			case 5, 6, 15, 16:
			default:
				return false
			}
			d.WriteFunction = writeFn
		} else {
			d.WriteFunction = 0
		}
		d.Writable = writable
		return true
	})
}

// SetSigned toggles signed interpretation; Number registers only.
func (c *Catalog) SetSigned(name string, signed bool) bool {
	return c.mutate(name, func(d *Descriptor) bool {
		if d.Type != codec.Number {
			return false
		}
		d.InterpretAsSigned = signed
		return true
	})
}

// SetCoefficients sets factor/offset; Number/Float only, factor != 0.
func (c *Catalog) SetCoefficients(name string, factor, offset float64) bool {
	return c.mutate(name, func(d *Descriptor) bool {
		if d.Type != codec.Number && d.Type != codec.Float {
			return false
		}
		if factor == 0 {
			return false
		}
		d.Factor = factor
		d.Offset = offset
		return true
	})
}

// SetDecimals sets the rounding precision; Number/Float only.
func (c *Catalog) SetDecimals(name string, decimals uint8) bool {
	return c.mutate(name, func(d *Descriptor) bool {
		if d.Type != codec.Number && d.Type != codec.Float {
			return false
		}
		d.Decimals = decimals
		return true
	})
}
