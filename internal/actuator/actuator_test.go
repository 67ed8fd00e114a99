package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestKasaCipherRoundTrip(t *testing.T) {
	plain := []byte(`{"system":{"get_sysinfo":{}}}`)
	enc := kasaEncrypt(plain)
	if bytes.Equal(enc, plain) {
		t.Fatal("ciphertext equals plaintext")
	}
	if got := kasaDecrypt(enc); !bytes.Equal(got, plain) {
		t.Errorf("round trip: got %q", got)
	}
}

func TestKasaEncryptKnownBytes(t *testing.T) {
	// First byte: 171 ^ '{' (0x7b) = 0xd0; second: 0xd0 ^ '"' (0x22) = 0xf2
	got := kasaEncrypt([]byte(`{"`))
	if got[0] != 0xd0 || got[1] != 0xf2 {
		t.Errorf("unexpected ciphertext % x", got)
	}
}

func TestKasaFrameLength(t *testing.T) {
	f := kasaFrame([]byte("abcde"))
	if len(f) != 9 {
		t.Fatalf("expected 9 bytes, got %d", len(f))
	}
	if f[0] != 0 || f[1] != 0 || f[2] != 0 || f[3] != 5 {
		t.Errorf("unexpected length prefix % x", f[:4])
	}
	got, err := readKasaFrame(bytes.NewReader(f))
	if err != nil {
		t.Fatalf("readKasaFrame: %v", err)
	}
	if string(got) != "abcde" {
		t.Errorf("got %q", got)
	}
}

// fakePlug serves the Kasa protocol on a loopback listener.
type fakePlug struct {
	ln       net.Listener
	mu       sync.Mutex
	relay    int
	requests []string
	errCode  int
}

func newFakePlug(t *testing.T) *fakePlug {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &fakePlug{ln: ln}
	go p.serve()
	t.Cleanup(func() { ln.Close() })
	return p
}

func (p *fakePlug) addr() string { return p.ln.Addr().String() }

func (p *fakePlug) serve() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.handle(conn)
	}
}

func (p *fakePlug) handle(conn net.Conn) {
	defer conn.Close()
	plain, err := readKasaFrame(conn)
	if err != nil {
		return
	}

	var req map[string]map[string]json.RawMessage
	if err := json.Unmarshal(plain, &req); err != nil {
		return
	}

	p.mu.Lock()
	p.requests = append(p.requests, string(plain))
	var resp string
	switch {
	case req["system"]["set_relay_state"] != nil:
		var s kasaRelayState
		json.Unmarshal(req["system"]["set_relay_state"], &s)
		if p.errCode == 0 {
			p.relay = s.State
		}
		resp = `{"system":{"set_relay_state":{"err_code":` + itoa(p.errCode) + `,"err_msg":"busy"}}}`
	default:
		resp = `{"system":{"get_sysinfo":{"alias":"Pump","relay_state":` + itoa(p.relay) + `,"err_code":0}}}`
	}
	p.mu.Unlock()

	conn.Write(kasaFrame([]byte(resp)))
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestKasaGatewaySetAndGet(t *testing.T) {
	plug := newFakePlug(t)
	g := NewKasaGateway(2 * time.Second)
	ctx := context.Background()

	on, err := g.GetPower(ctx, plug.addr())
	if err != nil {
		t.Fatalf("GetPower: %v", err)
	}
	if on {
		t.Error("expected plug initially off")
	}

	if err := g.SetPower(ctx, plug.addr(), true); err != nil {
		t.Fatalf("SetPower: %v", err)
	}
	on, err = g.GetPower(ctx, plug.addr())
	if err != nil {
		t.Fatalf("GetPower: %v", err)
	}
	if !on {
		t.Error("expected plug on after SetPower(true)")
	}

	// Idempotent
	if err := g.SetPower(ctx, plug.addr(), true); err != nil {
		t.Errorf("repeated SetPower: %v", err)
	}

	plug.mu.Lock()
	defer plug.mu.Unlock()
	if len(plug.requests) != 4 {
		t.Fatalf("expected 4 requests, got %d", len(plug.requests))
	}
	if plug.requests[1] != `{"system":{"set_relay_state":{"state":1}}}` {
		t.Errorf("unexpected set request: %s", plug.requests[1])
	}
	if plug.requests[0] != `{"system":{"get_sysinfo":{}}}` {
		t.Errorf("unexpected sysinfo request: %s", plug.requests[0])
	}
}

func TestKasaGatewayDeviceError(t *testing.T) {
	plug := newFakePlug(t)
	plug.errCode = -3
	g := NewKasaGateway(2 * time.Second)

	err := g.SetPower(context.Background(), plug.addr(), true)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "error -3") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestKasaGatewayUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	g := NewKasaGateway(time.Second)
	if _, err := g.GetPower(context.Background(), addr); err == nil {
		t.Error("expected error for closed port")
	}
}

func TestKasaGatewayTimeout(t *testing.T) {
	// Accepts but never answers
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	g := NewKasaGateway(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := g.GetPower(ctx, ln.Addr().String()); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("call did not honor context deadline (%v)", elapsed)
	}
}

func TestFakeGateway(t *testing.T) {
	f := NewFakeGateway("pump", "heater")
	ctx := context.Background()

	if err := f.SetPower(ctx, "pump", true); err != nil {
		t.Fatalf("SetPower: %v", err)
	}
	on, err := f.GetPower(ctx, "pump")
	if err != nil || !on {
		t.Errorf("expected pump on, got %v %v", on, err)
	}
	if _, err := f.GetPower(ctx, "valve"); err == nil {
		t.Error("expected error for unknown device")
	}

	f.SetErrors["heater"] = errors.New("unreachable")
	if err := f.SetPower(ctx, "heater", false); err == nil {
		t.Error("expected injected error")
	}
	if len(f.Calls) != 2 {
		t.Errorf("expected 2 recorded calls, got %d", len(f.Calls))
	}
	if calls := f.CallsFor("pump"); len(calls) != 1 || !calls[0].On {
		t.Errorf("unexpected pump calls: %+v", calls)
	}

	f.Close()
	if !f.Closed {
		t.Error("expected closed")
	}
}
