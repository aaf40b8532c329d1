// Package tunnel implements the wire format of the encrypted-tunnel
// collaborator mentioned in the specification: a websocket transport
// carrying a Shadowsocks-encrypted stream of IPv4 frames, with a small
// control-frame sublanguage for keepalives, disconnect, and handshake
// parameters.
package tunnel

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/shadowsocks/go-shadowsocks2/core"
	"nhooyr.io/websocket"
)

// Control frame markers, per the wire format: every control frame starts
// with a 0x00 leader byte; a bare 0x00 is a keepalive; 0x00 0xFF is a
// disconnect notice. Anything else is a raw IPv4 frame.
const (
	leaderByte     byte = 0x00
	disconnectByte byte = 0xFF
)

// Params is the handshake parameter set the server returns after a
// successful secret exchange: "(m,mtu) (a,addr,prefix) (r,net,prefix)
// (d,dns) (s,domain)".
type Params struct {
	MTU         int
	Address     string
	AddrPrefix  int
	Route       string
	RoutePrefix int
	DNS         string
	Domain      string
}

// Tunnel is a connected, ciphered tunnel session: raw IPv4 frames written
// to it are encrypted and sent as binary websocket messages; frames read
// from it are decrypted and classified as data or control.
type Tunnel struct {
	ws     *websocket.Conn
	stream net.Conn
}

// Dial connects to addr, performs the NUL-terminated shared-secret
// handshake, and parses the server's parameter string.
//
// The websocket connection is adapted into a net.Conn via
// websocket.NetConn (binary messages become a continuous byte stream),
// then wrapped in the Shadowsocks stream cipher so every byte crossing
// the wire after the TLS/websocket layer is also AEAD-sealed.
func Dial(ctx context.Context, addr, cipherName, secret string) (*Tunnel, Params, error) {
	ws, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return nil, Params{}, fmt.Errorf("tunnel: dial %s: %w", addr, err)
	}

	ciph, err := core.PickCipher(cipherName, nil, secret)
	if err != nil {
		ws.Close(websocket.StatusInternalError, "bad cipher")
		return nil, Params{}, fmt.Errorf("tunnel: pick cipher: %w", err)
	}

	wsConn := websocket.NetConn(ctx, ws, websocket.MessageBinary)
	t := &Tunnel{ws: ws, stream: ciph.StreamConn(wsConn)}

	if _, err := t.stream.Write(append([]byte(secret), 0)); err != nil {
		t.Close()
		return nil, Params{}, fmt.Errorf("tunnel: handshake write: %w", err)
	}

	line, err := t.readHandshakeLine()
	if err != nil {
		t.Close()
		return nil, Params{}, fmt.Errorf("tunnel: handshake read: %w", err)
	}
	params := parseParams(line)
	return t, params, nil
}

func (t *Tunnel) readHandshakeLine() (string, error) {
	buf := make([]byte, 4096)
	n, err := t.stream.Read(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// SendFrame writes a raw IPv4 frame as a non-control binary message.
func (t *Tunnel) SendFrame(frame []byte) error {
	if len(frame) > 0 && frame[0] == leaderByte {
		return fmt.Errorf("tunnel: frame collides with control leader byte")
	}
	_, err := t.stream.Write(frame)
	return err
}

// SendKeepalive writes the single-byte keepalive control frame.
func (t *Tunnel) SendKeepalive() error {
	_, err := t.stream.Write([]byte{leaderByte})
	return err
}

// Disconnect writes the two-byte disconnect control frame best-effort,
// then closes the underlying websocket.
func (t *Tunnel) Disconnect() error {
	_, _ = t.stream.Write([]byte{leaderByte, disconnectByte})
	return t.Close()
}

// Close closes the websocket without sending a disconnect frame.
func (t *Tunnel) Close() error {
	return t.ws.Close(websocket.StatusNormalClosure, "close")
}

// FrameKind classifies a frame read off the tunnel.
type FrameKind int

const (
	FrameData FrameKind = iota
	FrameKeepalive
	FrameDisconnect
)

// ReadFrame reads and classifies the next frame.
func (t *Tunnel) ReadFrame(buf []byte) (int, FrameKind, error) {
	n, err := t.stream.Read(buf)
	if err != nil {
		return 0, 0, err
	}
	if n == 0 || buf[0] != leaderByte {
		return n, FrameData, nil
	}
	if n == 1 {
		return 0, FrameKeepalive, nil
	}
	if n >= 2 && buf[1] == disconnectByte {
		return 0, FrameDisconnect, nil
	}
	return n, FrameData, nil
}

// parseParams tokenizes the space-separated "(m,1500) (a,10.0.0.2,24) ..."
// parameter string on whitespace, since no field itself contains a space.
func parseParams(line string) Params {
	var p Params
	for _, tok := range strings.Fields(line) {
		tok = strings.TrimPrefix(tok, "(")
		tok = strings.TrimSuffix(tok, ")")
		fields := strings.Split(tok, ",")
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "m":
			if len(fields) > 1 {
				fmt.Sscanf(fields[1], "%d", &p.MTU)
			}
		case "a":
			if len(fields) > 2 {
				p.Address = fields[1]
				fmt.Sscanf(fields[2], "%d", &p.AddrPrefix)
			}
		case "r":
			if len(fields) > 2 {
				p.Route = fields[1]
				fmt.Sscanf(fields[2], "%d", &p.RoutePrefix)
			}
		case "d":
			if len(fields) > 1 {
				p.DNS = fields[1]
			}
		case "s":
			if len(fields) > 1 {
				p.Domain = fields[1]
			}
		}
	}
	return p
}

// keepaliveInterval is the default cadence a caller's heartbeat loop
// should use; the wire format itself does not mandate a specific period.
const keepaliveInterval = 15 * time.Second

// KeepaliveInterval returns the default heartbeat cadence.
func KeepaliveInterval() time.Duration { return keepaliveInterval }
