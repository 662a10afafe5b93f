// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package catalog

import (
	"errors"
	"strconv"
	"testing"

	"github.com/trackle-iot/modbus-gateway/internal/codec"
)

func numberDesc(name string, reg uint16) Descriptor {
	return Descriptor{
		Name:      name,
		Function:  3,
		SlaveAddr: 1,
		RegID:     reg,
		Type:      codec.Number,
		WordCount: 1,
		Factor:    1,
	}
}

func TestAddRejectsDuplicateName(t *testing.T) {
	c := New()
	if err := c.Add(numberDesc("temp", 100)); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := c.Add(numberDesc("temp", 101)); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestAddRejectsDuplicateTuple(t *testing.T) {
	c := New()
	if err := c.Add(numberDesc("temp", 100)); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := c.Add(numberDesc("other", 100)); !errors.Is(err, ErrDuplicateTuple) {
		t.Fatalf("expected ErrDuplicateTuple, got %v", err)
	}
}

func TestAddRejectsOverCapacity(t *testing.T) {
	c := New()
	for i := 0; i < MaxRegisters; i++ {
		d := numberDesc("r"+strconv.Itoa(i), uint16(i))
		if err := c.Add(d); err != nil {
			t.Fatalf("Add #%d: %v", i, err)
		}
	}
	if err := c.Add(numberDesc("overflow", MaxRegisters)); !errors.Is(err, ErrCatalogFull) {
		t.Fatalf("expected ErrCatalogFull, got %v", err)
	}
}

func TestValidateRejectsBadFunction(t *testing.T) {
	d := numberDesc("temp", 100)
	d.Function = 9
	if err := validate(d); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField, got %v", err)
	}
}

func TestValidateRejectsZeroFactorForNumber(t *testing.T) {
	d := numberDesc("temp", 100)
	d.Factor = 0
	if err := validate(d); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField, got %v", err)
	}
}

func TestValidateRejectsScalingOnRaw(t *testing.T) {
	d := Descriptor{Name: "raw1", Function: 3, SlaveAddr: 1, RegID: 1, Type: codec.Raw, WordCount: 1, Factor: 2}
	if err := validate(d); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField for scaling on raw, got %v", err)
	}
}

func TestValidateRejectsPublishOnChangeWithoutMonitored(t *testing.T) {
	d := numberDesc("temp", 100)
	d.PublishOnChange = true
	d.Monitored = false
	if err := validate(d); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField, got %v", err)
	}
}

func TestRemoveAndCount(t *testing.T) {
	c := New()
	_ = c.Add(numberDesc("a", 1))
	_ = c.Add(numberDesc("b", 2))
	if c.Count() != 2 {
		t.Fatalf("expected count 2, got %d", c.Count())
	}
	if err := c.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if c.Count() != 1 {
		t.Fatalf("expected count 1 after remove, got %d", c.Count())
	}
	if err := c.Remove("a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertionOrderPreservedAt(t *testing.T) {
	c := New()
	_ = c.Add(numberDesc("a", 1))
	_ = c.Add(numberDesc("b", 2))
	_ = c.Add(numberDesc("c", 3))
	_ = c.Remove("b")

	d0, ok := c.At(0)
	if !ok || d0.Name != "a" {
		t.Fatalf("expected a at index 0, got %+v ok=%v", d0, ok)
	}
	d1, ok := c.At(1)
	if !ok || d1.Name != "c" {
		t.Fatalf("expected c at index 1, got %+v ok=%v", d1, ok)
	}
}

func TestFindByModbus(t *testing.T) {
	c := New()
	_ = c.Add(numberDesc("temp", 100))
	d, ok := c.FindByModbus(3, 1, 100)
	if !ok || d.Name != "temp" {
		t.Fatalf("expected to find temp, got %+v ok=%v", d, ok)
	}
	if _, ok := c.FindByModbus(3, 1, 999); ok {
		t.Fatalf("expected not found for unknown tuple")
	}
}

func TestSetPublishOnChangeRequiresMonitored(t *testing.T) {
	c := New()
	_ = c.Add(numberDesc("temp", 100))
	if c.SetPublishOnChange("temp", true) {
		t.Fatalf("expected SetPublishOnChange to fail without Monitored")
	}
	if !c.SetMonitored("temp", true) {
		t.Fatalf("SetMonitored should succeed")
	}
	if !c.SetPublishOnChange("temp", true) {
		t.Fatalf("expected SetPublishOnChange to succeed once monitored")
	}
}

func TestSetMonitoredFalseClearsPublishOnChange(t *testing.T) {
	c := New()
	_ = c.Add(numberDesc("temp", 100))
	c.SetMonitored("temp", true)
	c.SetPublishOnChange("temp", true)
	c.SetMonitored("temp", false)
	d, _ := c.Find("temp")
	if d.PublishOnChange {
		t.Fatalf("expected PublishOnChange cleared when unmonitoring")
	}
}

func TestUpdateRuntimeAtAndClearAllMustPublish(t *testing.T) {
	c := New()
	_ = c.Add(numberDesc("a", 1))
	_ = c.Add(numberDesc("b", 2))

	ok := c.UpdateRuntimeAt(0, func(rs *RuntimeState) {
		rs.MustPublish = true
		rs.LatestPublishedValue = "1.0"
	})
	if !ok {
		t.Fatalf("UpdateRuntimeAt(0) should succeed")
	}
	rs, _ := c.RuntimeAt(0)
	if !rs.MustPublish || rs.LatestPublishedValue != "1.0" {
		t.Fatalf("unexpected runtime state: %+v", rs)
	}

	c.ClearAllMustPublish()
	rs, _ = c.RuntimeAt(0)
	if rs.MustPublish {
		t.Fatalf("expected MustPublish cleared")
	}
}

func TestClear(t *testing.T) {
	c := New()
	_ = c.Add(numberDesc("a", 1))
	c.Clear()
	if c.Count() != 0 {
		t.Fatalf("expected empty catalog after Clear, got %d", c.Count())
	}
	if _, ok := c.Find("a"); ok {
		t.Fatalf("expected a to be gone after Clear")
	}
}
