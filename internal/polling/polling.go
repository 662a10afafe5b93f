// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package polling implements the periodic monitored-register loop: it
// reads every monitored register through the Serial Arbiter, decides
// per-register whether to publish, batches the result into a bounded
// JSON payload, and hands it to a publish sink.
package polling

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/trackle-iot/modbus-gateway/internal/arbiter"
	"github.com/trackle-iot/modbus-gateway/internal/bus"
	"github.com/trackle-iot/modbus-gateway/internal/catalog"
	"github.com/trackle-iot/modbus-gateway/internal/codec"
)

// Max payload and per-entry sizes a built batch must respect.
const (
	MaxPayloadBytes = 2048
	MaxEntryBytes   = 143
)

const (
	batchTopic      = "trackle/p"
	diagnosticTopic = "mbTask"
	periodTooShort  = "period too short"
)

// Publisher is the external publish sink the engine hands finished
// batches and diagnostics to.
type Publisher interface {
	Publish(topic, payload string) bool
}

// FailureNotifier is the optional per-register read-failure callback.
type FailureNotifier interface {
	RegisterReadFailed(name string, err error)
}

// Engine drives one fixed-period loop over the catalog.
type Engine struct {
	Catalog  *catalog.Catalog
	Arbiter  *arbiter.Arbiter
	Executor bus.Executor
	Order    codec.WordOrder
	Period   time.Duration
	Publish  Publisher
	OnFail   FailureNotifier
	Log      *slog.Logger

	iteration int
}

// Run blocks, executing one iteration every Period until ctx is
// cancelled. It does not attempt to correct for scheduling drift: a
// slipped wake is reported but the next wake stays on the original
// base period.
func (e *Engine) Run(ctx context.Context) {
	if e.Log == nil {
		e.Log = slog.Default()
	}
	ticker := time.NewTicker(e.Period)
	defer ticker.Stop()

	lastTick := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Sub(lastTick) > e.Period+e.Period/2 {
				e.Publish.Publish(diagnosticTopic, periodTooShort)
			}
			lastTick = now
			e.runIteration()
		}
	}
}

// seconds returns the iteration's virtual clock. It starts at one
// period, not zero, so that a real elapsed time never collides with
// the zero sentinel shouldPublish uses for "never published".
func (e *Engine) seconds() uint32 {
	return uint32(e.iteration+1) * uint32(e.Period/time.Second)
}

// runIteration visits the catalog once in insertion order, building a
// bounded batch and publishing it if non-empty.
func (e *Engine) runIteration() {
	defer func() { e.iteration++ }()

	now := e.seconds()
	b := newBatchBuilder()
	any := false

	count := e.Catalog.Count()
	for i := 0; i < count; i++ {
		desc, ok := e.Catalog.At(i)
		if !ok || !desc.Monitored {
			continue
		}

		words := make([]uint16, desc.WordCount)
		err := e.Arbiter.Do(func() error {
			return e.Executor.Execute(desc.Function, desc.SlaveAddr, desc.RegID, uint16(desc.WordCount), words)
		})
		if err != nil {
			if e.OnFail != nil {
				e.OnFail.RegisterReadFailed(desc.Name, err)
			}
			e.Log.Warn("register read failed", "register", desc.Name, "error", err)
			continue
		}

		value, err := decode(desc, words, e.Order)
		if err != nil {
			e.Log.Warn("register decode failed", "register", desc.Name, "error", err)
			continue
		}

		runtime, _ := e.Catalog.RuntimeAt(i)
		if !shouldPublish(desc, runtime, now, value) {
			continue
		}

		if !b.tryAppend(desc.Name, value) {
			e.Log.Warn("batch overflow, dropping iteration", "register", desc.Name)
			continue
		}
		any = true

		idx := i
		e.Catalog.UpdateRuntimeAt(idx, func(rs *catalog.RuntimeState) {
			rs.LatestPublishedValue = value
			rs.LatestPublishedTimeS = now
			rs.MustPublish = true
		})
	}

	if !any {
		return
	}

	payload, ok := b.finish()
	if !ok {
		return
	}

	if e.Publish.Publish(batchTopic, payload) {
		e.Catalog.ClearAllMustPublish()
	}
}

// shouldPublish implements the Decide step of the polling state
// machine.
func shouldPublish(desc catalog.Descriptor, rs catalog.RuntimeState, now uint32, value string) bool {
	if rs.LatestPublishedTimeS == 0 {
		return true
	}
	if rs.MustPublish {
		return true
	}
	elapsed := now - rs.LatestPublishedTimeS
	if desc.PublishOnChange && elapsed >= desc.ChangeCheckIntervalS && value != rs.LatestPublishedValue {
		return true
	}
	if desc.MaxPublishDelayS > 0 && elapsed >= desc.MaxPublishDelayS {
		return true
	}
	return false
}

func decode(desc catalog.Descriptor, words []uint16, order codec.WordOrder) (string, error) {
	switch desc.Type {
	case codec.Number:
		return codec.DecodeNumber(words, order, desc.InterpretAsSigned, desc.Factor, desc.Offset, desc.Decimals)
	case codec.Float:
		return codec.DecodeFloat(words, order, desc.Factor, desc.Offset, desc.Decimals)
	case codec.String:
		return codec.DecodeString(words, order)
	case codec.Raw:
		return codec.DecodeRaw(words[0]), nil
	default:
		return "", fmt.Errorf("polling: unknown register type %v", desc.Type)
	}
}

// batchBuilder accumulates "name":value entries under the 2048-byte
// total / 143-byte per-entry caps, dropping the whole batch (never
// truncating) on overrun.
type batchBuilder struct {
	b       strings.Builder
	entries int
	overrun bool
}

func newBatchBuilder() *batchBuilder {
	bb := &batchBuilder{}
	bb.b.WriteByte('{')
	return bb
}

func (bb *batchBuilder) tryAppend(name, value string) bool {
	if bb.overrun {
		return false
	}
	prefix := ""
	if bb.entries > 0 {
		prefix = ","
	}
	entry := fmt.Sprintf("%s%q:%s", prefix, name, value)
	if len(entry) > MaxEntryBytes {
		bb.overrun = true
		return false
	}
	if bb.b.Len()+len(entry)+1 > MaxPayloadBytes {
		bb.overrun = true
		return false
	}
	bb.b.WriteString(entry)
	bb.entries++
	return true
}

func (bb *batchBuilder) finish() (string, bool) {
	if bb.overrun || bb.entries == 0 {
		return "", false
	}
	if bb.b.Len()+1 > MaxPayloadBytes {
		return "", false
	}
	bb.b.WriteByte('}')
	return bb.b.String(), true
}
