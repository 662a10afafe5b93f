// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bus

import "testing"

func TestBuildRequestReadHolding(t *testing.T) {
	req, isRead, err := buildRequest(FuncReadHoldingRegister, 1, 100, 2, nil)
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if !isRead {
		t.Fatalf("expected isRead=true")
	}
	want := []byte{0x01, 0x03, 0x00, 0x64, 0x00, 0x02}
	if len(req) != len(want)+2 {
		t.Fatalf("unexpected length %d", len(req))
	}
	for i, b := range want {
		if req[i] != b {
			t.Fatalf("byte %d: got %#x want %#x", i, req[i], b)
		}
	}
}

func TestBuildRequestWriteSingleRegister(t *testing.T) {
	req, isRead, err := buildRequest(FuncWriteSingleRegister, 3, 10, 1, []uint16{0xCAFE})
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if isRead {
		t.Fatalf("expected isRead=false")
	}
	want := []byte{0x03, 0x06, 0x00, 0x0A, 0xCA, 0xFE}
	for i, b := range want {
		if req[i] != b {
			t.Fatalf("byte %d: got %#x want %#x", i, req[i], b)
		}
	}
}

func TestBuildRequestUnsupportedFunction(t *testing.T) {
	if _, _, err := buildRequest(99, 1, 0, 1, nil); err == nil {
		t.Fatalf("expected error for unsupported function")
	}
}

func TestParseResponseHoldingRegisters(t *testing.T) {
	// slave(1) func(1) bytecount(1) data(4) crc(2)
	resp := []byte{0x01, 0x03, 0x04, 0x00, 0x2A, 0x00, 0x2B, 0, 0}
	buf := make([]uint16, 2)
	if err := parseResponse(FuncReadHoldingRegister, true, 100, 2, resp, buf); err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if buf[0] != 0x2A || buf[1] != 0x2B {
		t.Fatalf("unexpected decoded words: %v", buf)
	}
}

func TestParseResponseCoils(t *testing.T) {
	resp := []byte{0x01, 0x01, 0x01, 0b00000101, 0, 0}
	buf := make([]uint16, 3)
	if err := parseResponse(FuncReadCoils, true, 0, 3, resp, buf); err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if buf[0] != 1 || buf[1] != 0 || buf[2] != 1 {
		t.Fatalf("unexpected decoded coils: %v", buf)
	}
}
