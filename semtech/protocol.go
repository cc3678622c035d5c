/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package semtech implements the wire format of the Semtech UDP
// packet-forwarder protocol version 1: the 12-byte datagram header, the
// rxpk/txpk JSON bodies, and the status report fragment.
package semtech

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
)

// ProtocolVersion is the only version this forwarder speaks.
const ProtocolVersion = 0x01

// Command identifies the third byte of every datagram header.
type Command uint8

// Commands defined by the Semtech UDP packet-forwarder protocol.
const (
	PushData Command = 0x00
	PushAck  Command = 0x01
	PullData Command = 0x02
	PullResp Command = 0x03
	PullAck  Command = 0x04
)

func (c Command) String() string {
	switch c {
	case PushData:
		return "PUSH_DATA"
	case PushAck:
		return "PUSH_ACK"
	case PullData:
		return "PULL_DATA"
	case PullResp:
		return "PULL_RESP"
	case PullAck:
		return "PULL_ACK"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(c))
	}
}

// HeaderSize is the fixed size, in bytes, of every datagram header.
const HeaderSize = 12

// ErrShortHeader is returned when a datagram is too small to contain a header.
var ErrShortHeader = errors.New("semtech: datagram shorter than header")

// ErrBadVersion is returned when byte 0 isn't ProtocolVersion.
var ErrBadVersion = errors.New("semtech: unsupported protocol version")

// GatewayEUI is the 8-byte globally unique gateway identifier carried in
// every datagram header, high byte first.
type GatewayEUI [8]byte

// ParseGatewayEUI decodes a 16 hex-digit EUI string such as
// "AA555A0000000000", the format used throughout config files and logs in
// the original forwarder's utils.c.
func ParseGatewayEUI(s string) (GatewayEUI, error) {
	var eui GatewayEUI
	if len(s) != 16 {
		return eui, fmt.Errorf("semtech: gateway EUI %q must be 16 hex digits", s)
	}
	for i := 0; i < 8; i++ {
		var b uint8
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return eui, fmt.Errorf("semtech: gateway EUI %q: %w", s, err)
		}
		eui[i] = b
	}
	return eui, nil
}

func (e GatewayEUI) String() string {
	return fmt.Sprintf("%02X%02X%02X%02X%02X%02X%02X%02X", e[0], e[1], e[2], e[3], e[4], e[5], e[6], e[7])
}

// Header is the 12-byte prefix of every Semtech UDP forwarder datagram.
type Header struct {
	Version byte
	Token   uint16
	Command Command
	GwEUI   GatewayEUI
}

// NewToken returns a fresh random 16-bit token, matching the per-datagram
// rand() token generation of the reference implementation (no shared
// counter between datagrams or servers).
func NewToken() uint16 {
	return uint16(rand.Intn(1 << 16)) //nolint:gosec
}

// Bytes encodes the header into a freshly allocated 12-byte slice.
func (h Header) Bytes() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Version
	binary.LittleEndian.PutUint16(buf[1:3], h.Token)
	buf[3] = byte(h.Command)
	copy(buf[4:12], h.GwEUI[:])
	return buf
}

// ParseHeader decodes the fixed header of a datagram. It does not validate
// the command byte against a known set; callers do that.
func ParseHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, ErrShortHeader
	}
	h.Version = b[0]
	if h.Version != ProtocolVersion {
		return h, ErrBadVersion
	}
	h.Token = binary.LittleEndian.Uint16(b[1:3])
	h.Command = Command(b[3])
	copy(h.GwEUI[:], b[4:12])
	return h, nil
}

// BuildPushData assembles a PUSH_DATA header for a fresh token, returning
// the token so the caller can match the PUSH_ACK.
func BuildPushData(gw GatewayEUI) (hdr []byte, token uint16) {
	token = NewToken()
	h := Header{Version: ProtocolVersion, Token: token, Command: PushData, GwEUI: gw}
	return h.Bytes(), token
}

// BuildPullData assembles a PULL_DATA header for a fresh token.
func BuildPullData(gw GatewayEUI) (hdr []byte, token uint16) {
	token = NewToken()
	h := Header{Version: ProtocolVersion, Token: token, Command: PullData, GwEUI: gw}
	return h.Bytes(), token
}

// IsAck reports whether a received datagram is a header-only
// acknowledgement (PUSH_ACK or PULL_ACK) matching the given token and
// expected command, per spec.md's token-matching testable property.
func IsAck(b []byte, wantToken uint16, wantCmd Command) bool {
	if len(b) < HeaderSize {
		return false
	}
	h, err := ParseHeader(b)
	if err != nil {
		return false
	}
	return h.Command == wantCmd && h.Token == wantToken
}
