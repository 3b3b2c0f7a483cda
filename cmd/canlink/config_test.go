package main

import (
	"testing"
	"time"
)

func validConfig() *appConfig {
	c := defaultConfig()
	c.role = roleController
	c.backend = backendSerial
	c.serialDev = "/dev/null"
	return c
}

func TestConfigValidate_OK(t *testing.T) {
	c := validConfig()
	c.statusReplyHex = "0x1234"
	if err := c.validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
	if c.statusReply != [2]byte{0x12, 0x34} {
		t.Fatalf("status reply not derived: % X", c.statusReply)
	}
	if err := defaultConfig().validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badRole", func(c *appConfig) { c.role = "master" }},
		{"badBackend", func(c *appConfig) { c.backend = "x" }},
		{"simNeedsVirtual", func(c *appConfig) { c.role = roleSim }},
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badOnFault", func(c *appConfig) { c.onFault = "retry" }},
		{"badTick", func(c *appConfig) { c.tick = 0 }},
		{"badRequestEvery", func(c *appConfig) { c.requestEvery = 0 }},
		{"hugeRequestEvery", func(c *appConfig) { c.requestEvery = 256 }},
		{"seedZero", func(c *appConfig) { c.seed = 0 }},
		{"seedFive", func(c *appConfig) { c.seed = 5 }},
		{"badReplyHex", func(c *appConfig) { c.statusReplyHex = "zz" }},
		{"shortReply", func(c *appConfig) { c.statusReplyHex = "AB" }},
		{"threePins", func(c *appConfig) { c.ledPins = []string{"a", "b", "c"} }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"badDiagBuf", func(c *appConfig) { c.diagBuffer = 0 }},
		{"badTxQueue", func(c *appConfig) { c.txQueue = 0 }},
		{"badBusBuf", func(c *appConfig) { c.busBuffer = 0 }},
		{"badHandshakeTO", func(c *appConfig) { c.handshakeTO = 0 }},
		{"badClientReadTO", func(c *appConfig) { c.clientReadTO = 0 }},
		{"badMaxClients", func(c *appConfig) { c.maxClients = -1 }},
		{"badResetDelay", func(c *appConfig) { c.resetDelay = -time.Second }},
	}
	for _, tc := range tests {
		base := validConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestSplitPins(t *testing.T) {
	got := splitPins(" GPIO12, GPIO13 ,GPIO14,GPIO15 ")
	want := []string{"GPIO12", "GPIO13", "GPIO14", "GPIO15"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pin %d: got %q want %q", i, got[i], want[i])
		}
	}
	if splitPins("  ") != nil {
		t.Fatal("blank list must be nil")
	}
}
