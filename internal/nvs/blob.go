// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package nvs

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/trackle-iot/modbus-gateway/internal/bus"
	"github.com/trackle-iot/modbus-gateway/internal/catalog"
	"github.com/trackle-iot/modbus-gateway/internal/codec"
	"github.com/trackle-iot/modbus-gateway/internal/linkconfig"
)

const (
	fwVersionBytes      = 16
	configBlobSize      = 4 + 2 + 1 + 1 + 1 + 1 + 1 + 2 + fwVersionBytes // 29
	nameBytes           = catalog.MaxNameBytes + 1
	descriptorBlobSize  = nameBytes + 1 + 1 + 2 + 1 + 1 + 1 + 1 + 1 + 8 + 8 + 1 + 1 + 1 + 4 + 4 // 56
)

func marshalConfig(c linkconfig.Config) []byte {
	buf := make([]byte, configBlobSize)
	binary.BigEndian.PutUint32(buf[0:], uint32(c.BaudRate))
	binary.BigEndian.PutUint16(buf[4:], c.InterCmdDelayMs)
	buf[6] = c.ReadPeriodS
	buf[7] = byte(c.DataBits)
	buf[8] = byte(c.Parity)
	buf[9] = byte(c.StopBits)
	buf[10] = byte(c.WordOrder)
	binary.BigEndian.PutUint16(buf[11:], uint16(c.KnownRegistersCount))
	copy(buf[13:13+fwVersionBytes], c.FwVersion)
	return buf
}

func unmarshalConfig(buf []byte) (linkconfig.Config, error) {
	if len(buf) < configBlobSize {
		return linkconfig.Config{}, fmt.Errorf("nvs: short config blob (%d bytes)", len(buf))
	}
	c := linkconfig.Config{
		BaudRate:            int(binary.BigEndian.Uint32(buf[0:])),
		InterCmdDelayMs:     binary.BigEndian.Uint16(buf[4:]),
		ReadPeriodS:         buf[6],
		DataBits:            int(buf[7]),
		Parity:              bus.Parity(buf[8]),
		StopBits:            bus.StopBits(buf[9]),
		WordOrder:           codec.WordOrder(buf[10]),
		KnownRegistersCount: int(binary.BigEndian.Uint16(buf[11:])),
		FwVersion:           trimNul(buf[13 : 13+fwVersionBytes]),
	}
	return c, nil
}

func marshalDescriptor(d catalog.Descriptor) []byte {
	buf := make([]byte, descriptorBlobSize)
	off := 0
	copy(buf[off:off+nameBytes], d.Name)
	off += nameBytes
	buf[off] = d.Function
	off++
	buf[off] = d.SlaveAddr
	off++
	binary.BigEndian.PutUint16(buf[off:], d.RegID)
	off += 2
	buf[off] = byte(d.Type)
	off++
	buf[off] = byte(d.WordCount)
	off++
	buf[off] = boolByte(d.Writable)
	off++
	buf[off] = d.WriteFunction
	off++
	buf[off] = boolByte(d.InterpretAsSigned)
	off++
	binary.BigEndian.PutUint64(buf[off:], math.Float64bits(d.Factor))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], math.Float64bits(d.Offset))
	off += 8
	buf[off] = d.Decimals
	off++
	buf[off] = boolByte(d.Monitored)
	off++
	buf[off] = boolByte(d.PublishOnChange)
	off++
	binary.BigEndian.PutUint32(buf[off:], d.ChangeCheckIntervalS)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], d.MaxPublishDelayS)
	off += 4
	return buf
}

func unmarshalDescriptor(buf []byte) (catalog.Descriptor, error) {
	if len(buf) < descriptorBlobSize {
		return catalog.Descriptor{}, fmt.Errorf("nvs: short descriptor blob (%d bytes)", len(buf))
	}
	off := 0
	d := catalog.Descriptor{}
	d.Name = trimNul(buf[off : off+nameBytes])
	off += nameBytes
	d.Function = buf[off]
	off++
	d.SlaveAddr = buf[off]
	off++
	d.RegID = binary.BigEndian.Uint16(buf[off:])
	off += 2
	d.Type = codec.Type(buf[off])
	off++
	d.WordCount = int(buf[off])
	off++
	d.Writable = buf[off] != 0
	off++
	d.WriteFunction = buf[off]
	off++
	d.InterpretAsSigned = buf[off] != 0
	off++
	d.Factor = math.Float64frombits(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	d.Offset = math.Float64frombits(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	d.Decimals = buf[off]
	off++
	d.Monitored = buf[off] != 0
	off++
	d.PublishOnChange = buf[off] != 0
	off++
	d.ChangeCheckIntervalS = binary.BigEndian.Uint32(buf[off:])
	off += 4
	d.MaxPublishDelayS = binary.BigEndian.Uint32(buf[off:])
	off += 4
	return d, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func trimNul(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
