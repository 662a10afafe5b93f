// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package polling

import (
	"errors"
	"testing"
	"time"

	"github.com/trackle-iot/modbus-gateway/internal/arbiter"
	"github.com/trackle-iot/modbus-gateway/internal/catalog"
	"github.com/trackle-iot/modbus-gateway/internal/codec"
)

type fakeExecutor struct {
	value uint16
	err   error
}

func (f *fakeExecutor) Execute(function, slave byte, reg uint16, wordCount uint16, buf []uint16) error {
	if f.err != nil {
		return f.err
	}
	for i := range buf {
		buf[i] = f.value
	}
	return nil
}

type fakePublisher struct {
	topics   []string
	payloads []string
	ok       bool
}

func (f *fakePublisher) Publish(topic, payload string) bool {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return f.ok
}

func newEngine(exec *fakeExecutor, pub *fakePublisher) (*Engine, *catalog.Catalog) {
	c := catalog.New()
	e := &Engine{
		Catalog:  c,
		Arbiter:  arbiter.New(0),
		Executor: exec,
		Order:    codec.MsbFirst,
		Period:   time.Second,
		Publish:  pub,
	}
	return e, c
}

func monitoredDesc(name string, reg uint16) catalog.Descriptor {
	return catalog.Descriptor{
		Name:       name,
		Function:   3,
		SlaveAddr:  1,
		RegID:      reg,
		Type:       codec.Number,
		WordCount:  1,
		Factor:     1,
		Monitored:  true,
	}
}

func TestFirstReadAlwaysPublishes(t *testing.T) {
	exec := &fakeExecutor{value: 42}
	pub := &fakePublisher{ok: true}
	e, c := newEngine(exec, pub)
	_ = c.Add(monitoredDesc("temp", 100))

	e.runIteration()

	if len(pub.payloads) != 1 {
		t.Fatalf("expected one publish, got %d", len(pub.payloads))
	}
	if pub.payloads[0] != `{"temp":42}` {
		t.Fatalf("unexpected payload %q", pub.payloads[0])
	}
}

func TestNoChangeNoHeartbeatPublishesNothing(t *testing.T) {
	exec := &fakeExecutor{value: 42}
	pub := &fakePublisher{ok: true}
	e, c := newEngine(exec, pub)
	_ = c.Add(monitoredDesc("temp", 100))

	e.runIteration() // first read always publishes
	pub.payloads = nil
	pub.topics = nil

	e.runIteration() // unchanged value, no heartbeat due yet
	if len(pub.payloads) != 0 {
		t.Fatalf("expected no publish on unchanged value, got %v", pub.payloads)
	}
}

func TestHeartbeatFiresAfterMaxPublishDelay(t *testing.T) {
	exec := &fakeExecutor{value: 42}
	pub := &fakePublisher{ok: true}
	e, c := newEngine(exec, pub)
	d := monitoredDesc("temp", 100)
	d.MaxPublishDelayS = 2
	_ = c.Add(d)

	e.runIteration() // iteration 0, seconds=1, first read
	e.runIteration() // iteration 1, seconds=2
	e.runIteration() // iteration 2, seconds=3 -> heartbeat due

	if len(pub.payloads) != 2 {
		t.Fatalf("expected exactly 2 publishes (first + heartbeat), got %d: %v", len(pub.payloads), pub.payloads)
	}
}

func TestSkipsNonMonitoredRegister(t *testing.T) {
	exec := &fakeExecutor{value: 1}
	pub := &fakePublisher{ok: true}
	e, c := newEngine(exec, pub)
	d := monitoredDesc("temp", 100)
	d.Monitored = false
	_ = c.Add(d)

	e.runIteration()
	if len(pub.payloads) != 0 {
		t.Fatalf("expected no publish for unmonitored register, got %v", pub.payloads)
	}
}

func TestReadFailureSkipsRegisterWithoutPublish(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("timeout")}
	pub := &fakePublisher{ok: true}
	e, c := newEngine(exec, pub)
	_ = c.Add(monitoredDesc("temp", 100))

	e.runIteration()
	if len(pub.payloads) != 0 {
		t.Fatalf("expected no publish on read failure, got %v", pub.payloads)
	}
}

func TestMustPublishClearedOnlyOnPublishSuccess(t *testing.T) {
	exec := &fakeExecutor{value: 1}
	pub := &fakePublisher{ok: false}
	e, c := newEngine(exec, pub)
	_ = c.Add(monitoredDesc("temp", 100))

	e.runIteration()

	rs, _ := c.RuntimeAt(0)
	if !rs.MustPublish {
		t.Fatalf("expected MustPublish to remain set after failed publish ack")
	}
}

func TestBatchBuilderDropsWholeBatchOnOverrun(t *testing.T) {
	b := newBatchBuilder()
	longValue := ""
	for i := 0; i < MaxEntryBytes; i++ {
		longValue += "9"
	}
	if b.tryAppend("x", longValue) {
		t.Fatalf("expected tryAppend to reject an oversized entry")
	}
	if _, ok := b.finish(); ok {
		t.Fatalf("expected finish to report overrun")
	}
}
