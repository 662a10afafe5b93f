// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package codec

import (
	"errors"
	"testing"
)

func TestDecodeNumberUnsignedSingleWord(t *testing.T) {
	got, err := DecodeNumber([]uint16{1234}, MsbFirst, false, 1, 0, 0)
	if err != nil {
		t.Fatalf("DecodeNumber: %v", err)
	}
	if got != "1234" {
		t.Fatalf("expected 1234, got %q", got)
	}
}

func TestDecodeNumberSignedNegative(t *testing.T) {
	// 0xFFFF as signed 16-bit is -1.
	got, err := DecodeNumber([]uint16{0xFFFF}, MsbFirst, true, 1, 0, 0)
	if err != nil {
		t.Fatalf("DecodeNumber: %v", err)
	}
	if got != "-1" {
		t.Fatalf("expected -1, got %q", got)
	}
}

func TestDecodeNumberAppliesScalingAndDecimals(t *testing.T) {
	// raw=1000, factor=0.1, offset=5 -> 105.0, 1 decimal.
	got, err := DecodeNumber([]uint16{1000}, MsbFirst, false, 0.1, 5, 1)
	if err != nil {
		t.Fatalf("DecodeNumber: %v", err)
	}
	if got != "105.0" {
		t.Fatalf("expected 105.0, got %q", got)
	}
}

func TestDecodeNumberWordOrderMatters(t *testing.T) {
	words := []uint16{0x0001, 0x0000} // msb-first: 0x00010000 = 65536
	msb, err := DecodeNumber(words, MsbFirst, false, 1, 0, 0)
	if err != nil {
		t.Fatalf("DecodeNumber msb: %v", err)
	}
	if msb != "65536" {
		t.Fatalf("expected 65536, got %q", msb)
	}
	lsb, err := DecodeNumber(words, LsbFirst, false, 1, 0, 0)
	if err != nil {
		t.Fatalf("DecodeNumber lsb: %v", err)
	}
	if lsb != "1" {
		t.Fatalf("expected 1 for lsb-first, got %q", lsb)
	}
}

func TestEncodeDecodeNumberRoundTrip(t *testing.T) {
	words, err := EncodeNumber("105.0", 1, MsbFirst, false, 0.1, 5)
	if err != nil {
		t.Fatalf("EncodeNumber: %v", err)
	}
	got, err := DecodeNumber(words, MsbFirst, false, 0.1, 5, 1)
	if err != nil {
		t.Fatalf("DecodeNumber: %v", err)
	}
	if got != "105.0" {
		t.Fatalf("round trip mismatch: got %q", got)
	}
}

func TestEncodeNumberRangeError(t *testing.T) {
	_, err := EncodeNumber("99999", 1, MsbFirst, false, 1, 0)
	var rangeErr *RangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("expected RangeError, got %v", err)
	}
}

func TestEncodeNumberNotANumber(t *testing.T) {
	_, err := EncodeNumber("not-a-number", 1, MsbFirst, false, 1, 0)
	if !errors.Is(err, ErrNotANumber) {
		t.Fatalf("expected ErrNotANumber, got %v", err)
	}
}

func TestEncodeDecodeFloatRoundTrip(t *testing.T) {
	words, err := EncodeFloat("3.5", 2, MsbFirst, 1, 0)
	if err != nil {
		t.Fatalf("EncodeFloat: %v", err)
	}
	got, err := DecodeFloat(words, MsbFirst, 1, 0, 2)
	if err != nil {
		t.Fatalf("DecodeFloat: %v", err)
	}
	if got != "3.50" {
		t.Fatalf("expected 3.50, got %q", got)
	}
}

func TestEncodeDecodeStringRoundTrip(t *testing.T) {
	words, err := EncodeString("hi", 2, MsbFirst)
	if err != nil {
		t.Fatalf("EncodeString: %v", err)
	}
	got, err := DecodeString(words, MsbFirst)
	if err != nil {
		t.Fatalf("DecodeString: %v", err)
	}
	if got != `"hi"` {
		t.Fatalf("expected quoted hi, got %q", got)
	}
}

func TestEncodeStringTooLong(t *testing.T) {
	_, err := EncodeString("this string is definitely too long for four words", 4, MsbFirst)
	if !errors.Is(err, ErrStringTooLong) {
		t.Fatalf("expected ErrStringTooLong, got %v", err)
	}
}

func TestDecodeFloatMsbFirstPair(t *testing.T) {
	got, err := DecodeFloat([]uint16{0x4048, 0xF5C3}, MsbFirst, 1, 0, 2)
	if err != nil {
		t.Fatalf("DecodeFloat: %v", err)
	}
	if got != "3.14" {
		t.Fatalf("expected 3.14, got %q", got)
	}
}

func TestDecodeNumberSignedWithScaling(t *testing.T) {
	got, err := DecodeNumber([]uint16{0xFFFE}, MsbFirst, true, 0.1, 0, 1)
	if err != nil {
		t.Fatalf("DecodeNumber: %v", err)
	}
	if got != "-0.2" {
		t.Fatalf("expected -0.2, got %q", got)
	}
}

func TestEncodeNumberUnsignedOverflowRangeError(t *testing.T) {
	_, err := EncodeNumber("70000", 1, MsbFirst, false, 1, 0)
	var rangeErr *RangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("expected RangeError, got %v", err)
	}
	if err.Error() != "cannot-represent-with-uint16" {
		t.Fatalf("unexpected error message: %q", err.Error())
	}
}

func TestEncodeFloatRejectsNaNAndInf(t *testing.T) {
	for _, n := range []int{2, 4} {
		if _, err := EncodeFloat("NaN", n, MsbFirst, 1, 0); !errors.As(err, new(*RangeError)) {
			t.Fatalf("n=%d: expected RangeError for NaN, got %v", n, err)
		}
		if _, err := EncodeFloat("Inf", n, MsbFirst, 1, 0); !errors.As(err, new(*RangeError)) {
			t.Fatalf("n=%d: expected RangeError for Inf, got %v", n, err)
		}
		if _, err := EncodeFloat("-Inf", n, MsbFirst, 1, 0); !errors.As(err, new(*RangeError)) {
			t.Fatalf("n=%d: expected RangeError for -Inf, got %v", n, err)
		}
	}
}

func TestEncodeFloatOverflowToInfinity(t *testing.T) {
	// 1e39 is a finite float64 but overflows float32 (max ~3.4e38) to +Inf.
	_, err := EncodeFloat("1e39", 2, MsbFirst, 1, 0)
	var rangeErr *RangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("expected RangeError, got %v", err)
	}
}

func TestDecodeRaw(t *testing.T) {
	if got := DecodeRaw(42); got != "42" {
		t.Fatalf("expected 42, got %q", got)
	}
}

func TestWordOrderString(t *testing.T) {
	if MsbFirst.String() != "msb-first" {
		t.Fatalf("unexpected MsbFirst.String(): %q", MsbFirst.String())
	}
	if LsbFirst.String() != "lsb-first" {
		t.Fatalf("unexpected LsbFirst.String(): %q", LsbFirst.String())
	}
}
