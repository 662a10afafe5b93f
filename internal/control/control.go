// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package control implements the named command/getter surface that
// mutates the register catalog and link configuration, performs
// on-demand typed reads/writes, and triggers persistence.
package control

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/trackle-iot/modbus-gateway/internal/arbiter"
	"github.com/trackle-iot/modbus-gateway/internal/bus"
	"github.com/trackle-iot/modbus-gateway/internal/catalog"
	"github.com/trackle-iot/modbus-gateway/internal/codec"
	"github.com/trackle-iot/modbus-gateway/internal/linkconfig"
)

// Status codes returned by mutation commands.
const (
	StatusOK              = 1
	StatusNotFound        = -1
	StatusInvalidArgument = -2
	StatusWrongArity      = -3
	StatusBusFailure      = -4
)

// Persister saves the current catalog + link config to non-volatile
// storage; satisfied by nvs.Save bound to a concrete Store.
type Persister func(cfg linkconfig.Config, descs []catalog.Descriptor) error

// Surface binds the catalog, link config, bus, and persistence layer
// behind the named command/getter API.
type Surface struct {
	Catalog  *catalog.Catalog
	Links    *linkconfig.Pair
	Arbiter  *arbiter.Arbiter
	Executor bus.Executor
	Save     Persister
}

// splitArgs is the safe comma splitter every command parses its
// argument string with: it never mutates the input and hands back
// trimmed, independent substrings rather than pointers into it.
func splitArgs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("not a bool: %q", s)
	}
}

func errEnvelope(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

// AddRegister parses "name,readFn,slave,regId,type" and creates a
// descriptor with default scaling (factor=1 for Number, unwritable,
// unmonitored).
func (s *Surface) AddRegister(args string) int {
	a := splitArgs(args)
	if len(a) != 5 {
		return StatusWrongArity
	}
	fn, err := strconv.Atoi(a[1])
	if err != nil || fn < 0 || fn > 5 {
		return StatusInvalidArgument
	}
	slave, err := strconv.Atoi(a[2])
	if err != nil || slave < 1 || slave > 247 {
		return StatusInvalidArgument
	}
	reg, err := strconv.Atoi(a[3])
	if err != nil || reg < 0 || reg > 0xFFFF {
		return StatusInvalidArgument
	}

	var t codec.Type
	var wordCount int
	var factor float64
	switch a[4] {
	case "number":
		t, wordCount, factor = codec.Number, 1, 1
	case "raw":
		t, wordCount, factor = codec.Raw, 1, 0
	default:
		return StatusInvalidArgument
	}

	desc := catalog.Descriptor{
		Name:      a[0],
		Function:  byte(fn),
		SlaveAddr: byte(slave),
		RegID:     uint16(reg),
		Type:      t,
		WordCount: wordCount,
		Factor:    factor,
	}
	if err := s.Catalog.Add(desc); err != nil {
		return StatusInvalidArgument
	}
	return StatusOK
}

// DeleteRegister removes the named descriptor.
func (s *Surface) DeleteRegister(args string) int {
	a := splitArgs(args)
	if len(a) != 1 {
		return StatusWrongArity
	}
	if err := s.Catalog.Remove(a[0]); err != nil {
		return StatusNotFound
	}
	return StatusOK
}

func boolResult(ok bool) int {
	if ok {
		return StatusOK
	}
	return StatusInvalidArgument
}

// MonitorRegister sets the monitored flag.
func (s *Surface) MonitorRegister(args string) int {
	a := splitArgs(args)
	if len(a) != 2 {
		return StatusWrongArity
	}
	v, err := parseBool(a[1])
	if err != nil {
		return StatusInvalidArgument
	}
	return boolResult(s.Catalog.SetMonitored(a[0], v))
}

// EnableMonitorOnChange toggles change-detection publishing.
func (s *Surface) EnableMonitorOnChange(args string) int {
	a := splitArgs(args)
	if len(a) != 2 {
		return StatusWrongArity
	}
	v, err := parseBool(a[1])
	if err != nil {
		return StatusInvalidArgument
	}
	return boolResult(s.Catalog.SetPublishOnChange(a[0], v))
}

// SetRegisterChangeCheckInterval sets the change-detection cadence.
func (s *Surface) SetRegisterChangeCheckInterval(args string) int {
	a := splitArgs(args)
	if len(a) != 2 {
		return StatusWrongArity
	}
	v, err := strconv.ParseUint(a[1], 10, 32)
	if err != nil {
		return StatusInvalidArgument
	}
	return boolResult(s.Catalog.SetChangeCheckInterval(a[0], uint32(v)))
}

// SetRegisterMaxPublishDelay sets the heartbeat cadence.
func (s *Surface) SetRegisterMaxPublishDelay(args string) int {
	a := splitArgs(args)
	if len(a) != 2 {
		return StatusWrongArity
	}
	v, err := strconv.ParseUint(a[1], 10, 32)
	if err != nil {
		return StatusInvalidArgument
	}
	return boolResult(s.Catalog.SetMaxPublishDelay(a[0], uint32(v)))
}

// MakeRegisterWritable toggles writability; writeFn is required and
// validated only when enabling.
func (s *Surface) MakeRegisterWritable(args string) int {
	a := splitArgs(args)
	if len(a) != 2 && len(a) != 3 {
		return StatusWrongArity
	}
	writable, err := parseBool(a[1])
	if err != nil {
		return StatusInvalidArgument
	}
	var writeFn int
	if writable {
		if len(a) != 3 {
			return StatusWrongArity
		}
		writeFn, err = strconv.Atoi(a[2])
		if err != nil {
			return StatusInvalidArgument
		}
	}
	return boolResult(s.Catalog.SetWritable(a[0], writable, byte(writeFn)))
}

// MakeRegisterSigned toggles signed interpretation for Number registers.
func (s *Surface) MakeRegisterSigned(args string) int {
	a := splitArgs(args)
	if len(a) != 2 {
		return StatusWrongArity
	}
	v, err := parseBool(a[1])
	if err != nil {
		return StatusInvalidArgument
	}
	return boolResult(s.Catalog.SetSigned(a[0], v))
}

// SetRegisterCoefficients sets factor/offset for Number/Float registers.
func (s *Surface) SetRegisterCoefficients(args string) int {
	a := splitArgs(args)
	if len(a) != 3 {
		return StatusWrongArity
	}
	factor, err := strconv.ParseFloat(a[1], 64)
	if err != nil {
		return StatusInvalidArgument
	}
	offset, err := strconv.ParseFloat(a[2], 64)
	if err != nil {
		return StatusInvalidArgument
	}
	return boolResult(s.Catalog.SetCoefficients(a[0], factor, offset))
}

// SetRegisterDecimals sets rounding precision for Number/Float registers.
func (s *Surface) SetRegisterDecimals(args string) int {
	a := splitArgs(args)
	if len(a) != 2 {
		return StatusWrongArity
	}
	v, err := strconv.ParseUint(a[1], 10, 8)
	if err != nil {
		return StatusInvalidArgument
	}
	return boolResult(s.Catalog.SetDecimals(a[0], uint8(v)))
}

// SetMbConfig writes baud[,dataBits[,parity[,stopBits]]] into the
// staged (next) link config.
func (s *Surface) SetMbConfig(args string) int {
	a := splitArgs(args)
	if len(a) < 1 || len(a) > 4 {
		return StatusWrongArity
	}
	baud, err := strconv.Atoi(a[0])
	if err != nil {
		return StatusInvalidArgument
	}
	err = s.Links.MutateNext(func(c *linkconfig.Config) error {
		c.BaudRate = baud
		if len(a) >= 2 {
			db, err := strconv.Atoi(a[1])
			if err != nil {
				return err
			}
			c.DataBits = db
		}
		if len(a) >= 3 {
			p, err := strconv.Atoi(a[2])
			if err != nil {
				return err
			}
			c.Parity = bus.Parity(p)
		}
		if len(a) >= 4 {
			sb, err := strconv.Atoi(a[3])
			if err != nil {
				return err
			}
			c.StopBits = bus.StopBits(sb)
		}
		return linkconfig.Validate(*c)
	})
	return boolResult(err == nil)
}

// SetMbInterCmdsDelayMs writes the staged inter-command pacing delay.
func (s *Surface) SetMbInterCmdsDelayMs(args string) int {
	a := splitArgs(args)
	if len(a) != 1 {
		return StatusWrongArity
	}
	ms, err := strconv.ParseUint(a[0], 10, 16)
	if err != nil || ms == 0 {
		return StatusInvalidArgument
	}
	err = s.Links.MutateNext(func(c *linkconfig.Config) error {
		c.InterCmdDelayMs = uint16(ms)
		return nil
	})
	return boolResult(err == nil)
}

// SetMbReadPeriod writes the staged polling period.
func (s *Surface) SetMbReadPeriod(args string) int {
	a := splitArgs(args)
	if len(a) != 1 {
		return StatusWrongArity
	}
	sec, err := strconv.ParseUint(a[0], 10, 8)
	if err != nil || sec == 0 {
		return StatusInvalidArgument
	}
	err = s.Links.MutateNext(func(c *linkconfig.Config) error {
		c.ReadPeriodS = uint8(sec)
		return nil
	})
	return boolResult(err == nil)
}

// SaveConfigToFlash snapshots the catalog and the staged (next) link
// config and commits them through the persistence layer.
func (s *Surface) SaveConfigToFlash() int {
	count := s.Catalog.Count()
	descs := make([]catalog.Descriptor, 0, count)
	for i := 0; i < count; i++ {
		if d, ok := s.Catalog.At(i); ok {
			descs = append(descs, d)
		}
	}
	if err := s.Save(s.Links.Next(), descs); err != nil {
		return StatusBusFailure
	}
	return StatusOK
}

// WriteRegisterValue performs a typed write through the codec and bus.
func (s *Surface) WriteRegisterValue(args string) int {
	a := splitArgs(args)
	if len(a) != 2 {
		return StatusWrongArity
	}
	desc, ok := s.Catalog.Find(a[0])
	if !ok {
		return StatusNotFound
	}
	if !desc.Writable {
		return StatusInvalidArgument
	}

	order := s.Links.Actual().WordOrder

	var words []uint16
	var err error
	switch desc.Type {
	case codec.Number:
		words, err = codec.EncodeNumber(a[1], desc.WordCount, order, desc.InterpretAsSigned, desc.Factor, desc.Offset)
	case codec.Float:
		words, err = codec.EncodeFloat(a[1], desc.WordCount, order, desc.Factor, desc.Offset)
	case codec.String:
		words, err = codec.EncodeString(a[1], desc.WordCount, order)
	case codec.Raw:
		v, perr := strconv.ParseUint(a[1], 10, 16)
		if perr != nil {
			return StatusInvalidArgument
		}
		words = []uint16{uint16(v)}
	}
	if err != nil {
		return StatusInvalidArgument
	}

	execErr := s.Arbiter.Do(func() error {
		return s.Executor.Execute(desc.WriteFunction, desc.SlaveAddr, desc.RegID, uint16(len(words)), words)
	})
	if execErr != nil {
		return StatusBusFailure
	}
	return StatusOK
}

// WriteRawRegisterValue performs an untyped single-word write bypassing
// the catalog.
func (s *Surface) WriteRawRegisterValue(args string) int {
	a := splitArgs(args)
	if len(a) != 4 {
		return StatusWrongArity
	}
	writeFn, err := strconv.Atoi(a[0])
	if err != nil {
		return StatusInvalidArgument
	}
	slave, err := strconv.Atoi(a[1])
	if err != nil {
		return StatusInvalidArgument
	}
	reg, err := strconv.Atoi(a[2])
	if err != nil {
		return StatusInvalidArgument
	}
	value, err := strconv.ParseUint(a[3], 10, 16)
	if err != nil {
		return StatusInvalidArgument
	}

	buf := []uint16{uint16(value)}
	execErr := s.Arbiter.Do(func() error {
		return s.Executor.Execute(byte(writeFn), byte(slave), uint16(reg), 1, buf)
	})
	if execErr != nil {
		return StatusBusFailure
	}
	return StatusOK
}

// ForwardRaw is the pass-through primitive for raw protocol forwarding,
// bypassing the catalog and the typed codec entirely.
func (s *Surface) ForwardRaw(function, slave byte, reg uint16, wordCount uint16, buf []uint16) error {
	return s.Arbiter.Do(func() error {
		return s.Executor.Execute(function, slave, reg, wordCount, buf)
	})
}

// ForwardRequestToSlaves is the string-surface binding of ForwardRaw:
// "function,slave,reg,wordCount[,v1|v2|...]". Values are only required
// for write functions; for reads wordCount zero-value words are sent
// down and the words actually returned by the slave come back in the
// envelope. Unlike ReadRawRegisterValue/WriteRawRegisterValue it is not
// limited to a single word or to read/write-single function codes.
func (s *Surface) ForwardRequestToSlaves(args string) string {
	a := strings.SplitN(args, ",", 5)
	if len(a) < 4 {
		return errEnvelope("wrong-arity")
	}
	function, err1 := strconv.Atoi(a[0])
	slave, err2 := strconv.Atoi(a[1])
	reg, err3 := strconv.Atoi(a[2])
	wordCount, err4 := strconv.Atoi(a[3])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || wordCount <= 0 {
		return errEnvelope("invalid-token")
	}

	buf := make([]uint16, wordCount)
	if len(a) == 5 && a[4] != "" {
		values := strings.Split(a[4], "|")
		if len(values) != wordCount {
			return errEnvelope("wrong-arity")
		}
		for i, v := range values {
			word, err := strconv.ParseUint(strings.TrimSpace(v), 10, 16)
			if err != nil {
				return errEnvelope("invalid-token")
			}
			buf[i] = uint16(word)
		}
	}

	if err := s.ForwardRaw(byte(function), byte(slave), uint16(reg), uint16(wordCount), buf); err != nil {
		return errEnvelope("bus-read-failure")
	}
	b, _ := json.Marshal(map[string]interface{}{
		"function": function,
		"address":  slave,
		"register": reg,
		"values":   buf,
	})
	return string(b)
}

// --- getters ---

func descriptorJSON(d catalog.Descriptor) string {
	typeName := map[codec.Type]string{
		codec.Number: "number",
		codec.Float:  "float",
		codec.Raw:    "raw",
		codec.String: "string",
	}[d.Type]
	b, _ := json.Marshal(map[string]interface{}{
		"name":          d.Name,
		"address":       d.SlaveAddr,
		"register":      d.RegID,
		"readFunction":  d.Function,
		"type":          typeName,
		"signed":        d.InterpretAsSigned,
		"factor":        d.Factor,
		"offset":        d.Offset,
		"decimals":      d.Decimals,
		"monitored":     d.Monitored,
		"writable":      d.Writable,
	})
	return string(b)
}

// GetRegistersList returns every cataloged name in insertion order.
func (s *Surface) GetRegistersList() string {
	count := s.Catalog.Count()
	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if d, ok := s.Catalog.At(i); ok {
			names = append(names, d.Name)
		}
	}
	b, _ := json.Marshal(names)
	return string(b)
}

// GetRegisterDetails returns the full descriptor record for name.
func (s *Surface) GetRegisterDetails(name string) string {
	d, ok := s.Catalog.Find(name)
	if !ok {
		return errEnvelope("not-found")
	}
	return descriptorJSON(d)
}

// GetRegisterNameByMbDetails returns the owning register's name for a
// given (function, slave, reg) tuple.
func (s *Surface) GetRegisterNameByMbDetails(args string) string {
	a := splitArgs(args)
	if len(a) != 3 {
		return errEnvelope("wrong-arity")
	}
	fn, err1 := strconv.Atoi(a[0])
	slave, err2 := strconv.Atoi(a[1])
	reg, err3 := strconv.Atoi(a[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return errEnvelope("invalid-token")
	}
	d, ok := s.Catalog.FindByModbus(byte(fn), byte(slave), uint16(reg))
	if !ok {
		return errEnvelope("not-found")
	}
	b, _ := json.Marshal(map[string]string{"name": d.Name})
	return string(b)
}

func configJSON(c linkconfig.Config) string {
	b, _ := json.Marshal(map[string]interface{}{
		"baudrate":            c.BaudRate,
		"interCmdDelayMs":     c.InterCmdDelayMs,
		"readPeriodS":         c.ReadPeriodS,
		"dataBits":            c.DataBits,
		"parity":              c.Parity.String(),
		"stopBits":            c.StopBits.String(),
		"wordOrder":           c.WordOrder.String(),
		"knownRegistersCount": c.KnownRegistersCount,
		"fwVersion":           c.FwVersion,
	})
	return string(b)
}

// GetActualModbusConfig returns the currently running link config.
func (s *Surface) GetActualModbusConfig() string {
	return configJSON(s.Links.Actual())
}

// GetNextModbusConfig returns the staged link config.
func (s *Surface) GetNextModbusConfig() string {
	return configJSON(s.Links.Next())
}

// ReadRegisterValue performs a typed on-demand read of a cataloged
// register.
func (s *Surface) ReadRegisterValue(name string) string {
	d, ok := s.Catalog.Find(name)
	if !ok {
		return errEnvelope("not-found")
	}
	value, err := s.readTyped(d)
	if err != nil {
		return errEnvelope(err.Error())
	}
	b, _ := json.Marshal(map[string]json.RawMessage{"name": jsonString(d.Name), "value": json.RawMessage(value)})
	return string(b)
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return json.RawMessage(b)
}

func (s *Surface) readTyped(d catalog.Descriptor) (string, error) {
	words := make([]uint16, d.WordCount)
	err := s.Arbiter.Do(func() error {
		return s.Executor.Execute(d.Function, d.SlaveAddr, d.RegID, uint16(d.WordCount), words)
	})
	if err != nil {
		return "", err
	}
	order := s.Links.Actual().WordOrder
	switch d.Type {
	case codec.Number:
		return codec.DecodeNumber(words, order, d.InterpretAsSigned, d.Factor, d.Offset, d.Decimals)
	case codec.Float:
		return codec.DecodeFloat(words, order, d.Factor, d.Offset, d.Decimals)
	case codec.String:
		return codec.DecodeString(words, order)
	case codec.Raw:
		return codec.DecodeRaw(words[0]), nil
	default:
		return "", fmt.Errorf("control: unknown type")
	}
}

// ReadRawRegisterValue performs an untyped single-word read bypassing
// the catalog.
func (s *Surface) ReadRawRegisterValue(args string) string {
	a := splitArgs(args)
	if len(a) != 3 {
		return errEnvelope("wrong-arity")
	}
	readFn, err1 := strconv.Atoi(a[0])
	slave, err2 := strconv.Atoi(a[1])
	reg, err3 := strconv.Atoi(a[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return errEnvelope("invalid-token")
	}
	buf := make([]uint16, 1)
	execErr := s.Arbiter.Do(func() error {
		return s.Executor.Execute(byte(readFn), byte(slave), uint16(reg), 1, buf)
	})
	if execErr != nil {
		return errEnvelope("bus-read-failure")
	}
	b, _ := json.Marshal(map[string]interface{}{
		"readFunction": readFn,
		"address":      slave,
		"register":     reg,
		"value":        buf[0],
	})
	return string(b)
}

// ReadAllRegistersValues reads every cataloged register and returns
// {name: value, ...}, omitting entries that fail to read.
func (s *Surface) ReadAllRegistersValues() string {
	count := s.Catalog.Count()
	out := make(map[string]json.RawMessage, count)
	for i := 0; i < count; i++ {
		d, ok := s.Catalog.At(i)
		if !ok {
			continue
		}
		value, err := s.readTyped(d)
		if err != nil {
			continue
		}
		out[d.Name] = json.RawMessage(value)
	}
	b, _ := json.Marshal(out)
	return string(b)
}

// GetAllMonitoredRegistersLatestValues returns the last published value
// for every monitored register, or null if it has none yet.
func (s *Surface) GetAllMonitoredRegistersLatestValues() string {
	count := s.Catalog.Count()
	out := make(map[string]interface{}, count)
	for i := 0; i < count; i++ {
		d, ok := s.Catalog.At(i)
		if !ok || !d.Monitored {
			continue
		}
		rs, _ := s.Catalog.RuntimeAt(i)
		if rs.LatestPublishedTimeS == 0 {
			out[d.Name] = nil
		} else {
			out[d.Name] = json.RawMessage(rs.LatestPublishedValue)
		}
	}
	b, _ := json.Marshal(out)
	return string(b)
}
