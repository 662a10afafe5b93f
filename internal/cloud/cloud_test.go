// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package cloud

import (
	"strings"
	"testing"
)

func TestPublishWithoutConnectionFails(t *testing.T) {
	c := New(Config{Broker: "tcp://127.0.0.1:1"}, nil)
	if c.Publish("trackle/p", "{}") {
		t.Fatalf("expected Publish to fail before Connect")
	}
}

func TestStatusJSONShape(t *testing.T) {
	got := statusJSON(1)
	if !strings.Contains(got, `"status":1`) {
		t.Fatalf("unexpected status JSON: %s", got)
	}
}

func TestRegisterCommandAndGetterDoNotPanic(t *testing.T) {
	c := New(Config{Broker: "tcp://127.0.0.1:1"}, nil)
	c.RegisterCommand("AddRegister", func(args string) int { return 1 })
	c.RegisterGetter("GetRegistersList", func(args string) string { return "[]" })
}
