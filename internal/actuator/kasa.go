package actuator

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

// KasaPort is the local control port of TP-Link Kasa smart plugs.
const KasaPort = "9999"

const kasaKey = 171

// maxKasaResponse bounds the response length prefix.
const maxKasaResponse = 64 << 10

// KasaGateway controls TP-Link Kasa smart plugs over their local TCP protocol.
// Device ids are host or host:port.
type KasaGateway struct {
	dialer net.Dialer
	// Timeout applies when the caller's context has no deadline.
	Timeout time.Duration
}

// NewKasaGateway creates a gateway with the given per-call timeout.
func NewKasaGateway(timeout time.Duration) *KasaGateway {
	return &KasaGateway{Timeout: timeout}
}

type kasaRequest struct {
	System kasaSystemRequest `json:"system"`
}

type kasaSystemRequest struct {
	GetSysinfo    *struct{}       `json:"get_sysinfo,omitempty"`
	SetRelayState *kasaRelayState `json:"set_relay_state,omitempty"`
}

type kasaRelayState struct {
	State int `json:"state"`
}

type kasaResponse struct {
	System struct {
		GetSysinfo *struct {
			RelayState int    `json:"relay_state"`
			Alias      string `json:"alias"`
			ErrCode    int    `json:"err_code"`
		} `json:"get_sysinfo"`
		SetRelayState *struct {
			ErrCode int    `json:"err_code"`
			ErrMsg  string `json:"err_msg"`
		} `json:"set_relay_state"`
	} `json:"system"`
}

// SetPower switches the plug relay.
func (g *KasaGateway) SetPower(ctx context.Context, id string, on bool) error {
	state := 0
	if on {
		state = 1
	}
	resp, err := g.do(ctx, id, kasaRequest{System: kasaSystemRequest{SetRelayState: &kasaRelayState{State: state}}})
	if err != nil {
		return fmt.Errorf("kasa %s: set relay: %w", id, err)
	}
	r := resp.System.SetRelayState
	if r == nil {
		return fmt.Errorf("kasa %s: set relay: missing response", id)
	}
	if r.ErrCode != 0 {
		return fmt.Errorf("kasa %s: set relay: error %d: %s", id, r.ErrCode, r.ErrMsg)
	}
	return nil
}

// GetPower reads the plug relay state.
func (g *KasaGateway) GetPower(ctx context.Context, id string) (bool, error) {
	resp, err := g.do(ctx, id, kasaRequest{System: kasaSystemRequest{GetSysinfo: &struct{}{}}})
	if err != nil {
		return false, fmt.Errorf("kasa %s: sysinfo: %w", id, err)
	}
	info := resp.System.GetSysinfo
	if info == nil {
		return false, fmt.Errorf("kasa %s: sysinfo: missing response", id)
	}
	if info.ErrCode != 0 {
		return false, fmt.Errorf("kasa %s: sysinfo: error %d", id, info.ErrCode)
	}
	return info.RelayState == 1, nil
}

// Close is a no-op; connections are per call.
func (g *KasaGateway) Close() error {
	return nil
}

func (g *KasaGateway) do(ctx context.Context, id string, req kasaRequest) (*kasaResponse, error) {
	if _, ok := ctx.Deadline(); !ok && g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	addr := id
	if _, _, err := net.SplitHostPort(id); err != nil {
		addr = net.JoinHostPort(id, KasaPort)
	}

	conn, err := g.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if _, err := conn.Write(kasaFrame(body)); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	plain, err := readKasaFrame(conn)
	if err != nil {
		return nil, err
	}
	var resp kasaResponse
	if err := json.Unmarshal(plain, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// kasaFrame encrypts a payload and prefixes it with its big-endian length.
func kasaFrame(plain []byte) []byte {
	out := make([]byte, 4+len(plain))
	binary.BigEndian.PutUint32(out, uint32(len(plain)))
	copy(out[4:], kasaEncrypt(plain))
	return out
}

func readKasaFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxKasaResponse {
		return nil, fmt.Errorf("response too large (%d bytes)", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return kasaDecrypt(buf), nil
}

// kasaEncrypt applies the autokey XOR cipher: each ciphertext byte keys the next.
func kasaEncrypt(plain []byte) []byte {
	key := byte(kasaKey)
	out := make([]byte, len(plain))
	for i, b := range plain {
		key ^= b
		out[i] = key
	}
	return out
}

func kasaDecrypt(cipher []byte) []byte {
	key := byte(kasaKey)
	out := make([]byte, len(cipher))
	for i, c := range cipher {
		out[i] = key ^ c
		key = c
	}
	return out
}
