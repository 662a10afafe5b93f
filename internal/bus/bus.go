// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package bus implements the single primitive the rest of the gateway
// consumes to talk to the physical Modbus RTU line:
// Execute(function, slave, reg, wordCount, buf) -> ok | error.
//
// The core treats the line driver as an external collaborator reachable
// only through the Executor interface; SerialExecutor is this module's
// concrete realization of it over a real RS-232/RS-485 UART.
package bus

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	gridserial "github.com/grid-x/serial"

	"github.com/trackle-iot/modbus-gateway/internal/bus/crc"
)

// Function codes.
const (
	FuncReadCoils           = 1
	FuncReadDiscreteInputs  = 2
	FuncReadHoldingRegister = 3
	FuncReadInputRegister   = 4

	FuncWriteSingleCoil       = 5
	FuncWriteSingleRegister   = 6
	FuncWriteMultipleCoils    = 15
	FuncWriteMultipleRegister = 16
)

const (
	rtuMinSize = 4
	rtuMaxSize = 256
)

// Executor is the single primitive the rest of the core depends on.
type Executor interface {
	Execute(function, slave byte, reg uint16, wordCount uint16, buf []uint16) error
}

// Parity is a sum type standing in for the original firmware's raw
// integer sentinel: an enum cannot silently alias another value the
// way a magic int constant can.
type Parity int

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

func (p Parity) wire() string {
	switch p {
	case ParityEven:
		return "E"
	case ParityOdd:
		return "O"
	default:
		return "N"
	}
}

// String renders the parity as its single-letter wire form.
func (p Parity) String() string {
	return p.wire()
}

// StopBits is likewise a sum type; 1.5 stop bits has no integer
// representation in the underlying grid-x/serial driver, so it is
// mapped to the nearest supported value (2) at connect time.
type StopBits int

const (
	StopBits1 StopBits = iota
	StopBits1Half
	StopBits2
)

func (s StopBits) wire() int {
	if s == StopBits1 {
		return 1
	}
	return 2
}

// String renders the stop-bits count.
func (s StopBits) String() string {
	switch s {
	case StopBits1:
		return "1"
	case StopBits1Half:
		return "1.5"
	default:
		return "2"
	}
}

// SerialConfig describes the physical line SerialExecutor drives.
type SerialConfig struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits StopBits
	Timeout  time.Duration
}

// SerialExecutor implements Executor over a real serial port using
// github.com/grid-x/serial, following the ADU framing
// (modbus/rtu/constants.go + modbus/crc) and lazy-connect pattern of
// transport/rtu/serial.go.
type SerialExecutor struct {
	cfg SerialConfig

	mu   sync.Mutex
	port io.ReadWriteCloser
}

// NewSerialExecutor returns an Executor bound to cfg. The physical port
// is opened lazily on first Execute.
func NewSerialExecutor(cfg SerialConfig) *SerialExecutor {
	return &SerialExecutor{cfg: cfg}
}

func (e *SerialExecutor) connect() error {
	if e.port != nil {
		return nil
	}
	port, err := gridserial.Open(&gridserial.Config{
		Address:  e.cfg.Device,
		BaudRate: e.cfg.BaudRate,
		DataBits: e.cfg.DataBits,
		Parity:   e.cfg.Parity.wire(),
		StopBits: e.cfg.StopBits.wire(),
		Timeout:  e.cfg.Timeout,
	})
	if err != nil {
		return fmt.Errorf("bus: could not open %s: %w", e.cfg.Device, err)
	}
	e.port = port
	return nil
}

// Close releases the underlying serial port, if open.
func (e *SerialExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.port == nil {
		return nil
	}
	err := e.port.Close()
	e.port = nil
	return err
}

// Execute sends one Modbus RTU request and blocks for its response.
// For read functions buf receives wordCount words; for write functions
// buf supplies them.
func (e *SerialExecutor) Execute(function, slave byte, reg uint16, wordCount uint16, buf []uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.connect(); err != nil {
		return err
	}

	req, isRead, err := buildRequest(function, slave, reg, wordCount, buf)
	if err != nil {
		return err
	}

	if _, err := e.port.Write(req); err != nil {
		return fmt.Errorf("bus: write: %w", err)
	}

	resp, err := readResponse(e.port, slave, function, e.cfg.Timeout)
	if err != nil {
		return err
	}

	return parseResponse(function, isRead, reg, wordCount, resp, buf)
}

func buildRequest(function, slave byte, reg uint16, wordCount uint16, buf []uint16) (req []byte, isRead bool, err error) {
	var body []byte
	switch function {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegister, FuncReadInputRegister:
		isRead = true
		body = make([]byte, 4)
		binary.BigEndian.PutUint16(body[0:], reg)
		binary.BigEndian.PutUint16(body[2:], wordCount)
	case FuncWriteSingleCoil:
		body = make([]byte, 4)
		binary.BigEndian.PutUint16(body[0:], reg)
		value := uint16(0x0000)
		if len(buf) > 0 && buf[0] != 0 {
			value = 0xFF00
		}
		binary.BigEndian.PutUint16(body[2:], value)
	case FuncWriteSingleRegister:
		body = make([]byte, 4)
		binary.BigEndian.PutUint16(body[0:], reg)
		if len(buf) > 0 {
			binary.BigEndian.PutUint16(body[2:], buf[0])
		}
	case FuncWriteMultipleCoils:
		byteCount := (int(wordCount) + 7) / 8
		body = make([]byte, 5+byteCount)
		binary.BigEndian.PutUint16(body[0:], reg)
		binary.BigEndian.PutUint16(body[2:], wordCount)
		body[4] = byte(byteCount)
		for i := 0; i < int(wordCount) && i < len(buf); i++ {
			if buf[i] != 0 {
				body[5+i/8] |= 1 << uint(i%8)
			}
		}
	case FuncWriteMultipleRegister:
		body = make([]byte, 5+int(wordCount)*2)
		binary.BigEndian.PutUint16(body[0:], reg)
		binary.BigEndian.PutUint16(body[2:], wordCount)
		body[4] = byte(int(wordCount) * 2)
		for i := 0; i < int(wordCount) && i < len(buf); i++ {
			binary.BigEndian.PutUint16(body[5+i*2:], buf[i])
		}
	default:
		return nil, false, fmt.Errorf("bus: unsupported function code %d", function)
	}

	adu := make([]byte, 2+len(body)+2)
	adu[0] = slave
	adu[1] = function
	copy(adu[2:], body)

	var c crc.CRC
	c.Reset().PushBytes(adu[:len(adu)-2])
	checksum := c.Value()
	adu[len(adu)-2] = byte(checksum)
	adu[len(adu)-1] = byte(checksum >> 8)

	return adu, isRead, nil
}

func readResponse(r io.Reader, slave, function byte, timeout time.Duration) ([]byte, error) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("bus: read header: %w", err)
	}
	if header[0] != slave {
		return nil, fmt.Errorf("bus: unexpected slave id %d in response", header[0])
	}
	if header[1] == function|0x80 {
		excByte := make([]byte, 1+2)
		if _, err := io.ReadFull(r, excByte); err != nil {
			return nil, fmt.Errorf("bus: read exception: %w", err)
		}
		return nil, fmt.Errorf("bus: slave exception code %d", excByte[0])
	}
	if header[1] != function {
		return nil, fmt.Errorf("bus: unexpected function code %d in response", header[1])
	}

	var rest []byte
	switch function {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegister, FuncReadInputRegister:
		lenByte := make([]byte, 1)
		if _, err := io.ReadFull(r, lenByte); err != nil {
			return nil, fmt.Errorf("bus: read length: %w", err)
		}
		n := int(lenByte[0])
		if n > rtuMaxSize-5 {
			return nil, fmt.Errorf("bus: invalid length %d", n)
		}
		payload := make([]byte, n+2)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("bus: read payload: %w", err)
		}
		rest = append(lenByte, payload...)
	default:
		// Echo-style writes: address(2) + value/quantity(2) + crc(2).
		payload := make([]byte, 6)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("bus: read payload: %w", err)
		}
		rest = payload
	}

	full := append(append([]byte{}, header...), rest...)
	n := len(full)
	var c crc.CRC
	c.Reset().PushBytes(full[:n-2])
	want := uint16(full[n-1])<<8 | uint16(full[n-2])
	if c.Value() != want {
		return nil, fmt.Errorf("bus: response crc mismatch")
	}
	return full, nil
}

func parseResponse(function byte, isRead bool, reg uint16, wordCount uint16, resp []byte, buf []uint16) error {
	if !isRead {
		return nil
	}
	data := resp[3 : len(resp)-2]
	switch function {
	case FuncReadHoldingRegister, FuncReadInputRegister:
		for i := 0; i < int(wordCount) && i < len(buf); i++ {
			buf[i] = binary.BigEndian.Uint16(data[i*2:])
		}
	case FuncReadCoils, FuncReadDiscreteInputs:
		for i := 0; i < int(wordCount) && i < len(buf); i++ {
			byteIdx, bitIdx := i/8, uint(i%8)
			if byteIdx < len(data) && data[byteIdx]&(1<<bitIdx) != 0 {
				buf[i] = 1
			} else {
				buf[i] = 0
			}
		}
	}
	return nil
}
