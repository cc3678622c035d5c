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

package semtech

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGatewayEUIRoundTrip(t *testing.T) {
	eui, err := ParseGatewayEUI("AA555A0000000000")
	require.NoError(t, err)
	require.Equal(t, "AA555A0000000000", eui.String())
}

func TestParseGatewayEUIBadLength(t *testing.T) {
	_, err := ParseGatewayEUI("AABB")
	require.Error(t, err)
}

func TestHeaderRoundTrip(t *testing.T) {
	eui, err := ParseGatewayEUI("0011223344556677")
	require.NoError(t, err)

	h := Header{Version: ProtocolVersion, Token: 0xBEEF, Command: PushData, GwEUI: eui}
	b := h.Bytes()
	require.Len(t, b, HeaderSize)

	got, err := ParseHeader(b)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestParseHeaderShort(t *testing.T) {
	_, err := ParseHeader([]byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrShortHeader)
}

func TestParseHeaderBadVersion(t *testing.T) {
	b := make([]byte, HeaderSize)
	b[0] = 0x02
	_, err := ParseHeader(b)
	require.ErrorIs(t, err, ErrBadVersion)
}

func TestIsAck(t *testing.T) {
	eui, _ := ParseGatewayEUI("0011223344556677")
	h := Header{Version: ProtocolVersion, Token: 42, Command: PushAck, GwEUI: eui}
	b := h.Bytes()

	require.True(t, IsAck(b, 42, PushAck))
	require.False(t, IsAck(b, 43, PushAck))
	require.False(t, IsAck(b, 42, PullAck))
}

func TestBuildPushDataHeaderFields(t *testing.T) {
	eui, _ := ParseGatewayEUI("0011223344556677")
	_, tok1 := BuildPushData(eui)
	_, tok2 := BuildPushData(eui)
	// Not guaranteed distinct (16-bit random token), but the header must
	// at least carry PushData and the right EUI.
	hdr, _ := BuildPushData(eui)
	h, err := ParseHeader(hdr)
	require.NoError(t, err)
	require.Equal(t, PushData, h.Command)
	require.Equal(t, eui, h.GwEUI)
	_ = tok1
	_ = tok2
}
