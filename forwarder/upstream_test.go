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

package forwarder

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lora-gateway/pktfwd/config"
	"github.com/lora-gateway/pktfwd/connector"
	"github.com/lora-gateway/pktfwd/hal"
	"github.com/lora-gateway/pktfwd/registry"
	"github.com/lora-gateway/pktfwd/semtech"
	"github.com/lora-gateway/pktfwd/stats"
	"github.com/lora-gateway/pktfwd/timeref"
)

func TestShouldForwardPolicy(t *testing.T) {
	u := &Upstream{dyn: config.DynamicConfig{FwdValidPkt: true, FwdErrorPkt: false, FwdNoCRCPkt: true}}
	require.True(t, u.shouldForward(semtech.CRCOK))
	require.False(t, u.shouldForward(semtech.CRCBad))
	require.True(t, u.shouldForward(semtech.CRCNone))
}

func TestFilterAndSerializeUpdatesCounters(t *testing.T) {
	st := stats.New()
	u := &Upstream{dyn: config.DynamicConfig{FwdValidPkt: true, FwdErrorPkt: false, FwdNoCRCPkt: false}, stats: st}

	uplinks := []semtech.Uplink{
		{CRC: semtech.CRCOK, Payload: []byte{1}},
		{CRC: semtech.CRCBad, Payload: []byte{2}},
		{CRC: semtech.CRCNone, Payload: []byte{3}},
	}
	out := u.filterAndSerialize(uplinks, timeref.Ref{}, false)

	require.Len(t, out, 1)
	require.Equal(t, uint32(3), st.Up.RxRcv)
	require.Equal(t, uint32(1), st.Up.RxOK)
	require.Equal(t, uint32(1), st.Up.RxBad)
	require.Equal(t, uint32(1), st.Up.RxNoCRC)
	require.Equal(t, uint32(1), st.Up.RxFwd)
}

func TestComposeDatagramWithAndWithoutReport(t *testing.T) {
	u := &Upstream{gwEUI: semtech.GatewayEUI{1, 2, 3, 4, 5, 6, 7, 8}}

	dg, err := u.composeDatagram(nil, nil, false)
	require.NoError(t, err)
	require.Contains(t, string(dg[semtech.HeaderSize:]), `{"rxpk":[]}`)

	dg, err = u.composeDatagram(nil, []byte(`{"rxnb":1}`), true)
	require.NoError(t, err)
	require.Contains(t, string(dg[semtech.HeaderSize:]), `"stat":{"rxnb":1}`)

	hdr, err := semtech.ParseHeader(dg)
	require.NoError(t, err)
	require.Equal(t, semtech.PushData, hdr.Command)
	require.Equal(t, u.gwEUI, hdr.GwEUI)
}

// TestUpstreamFetchFanoutAndAck exercises the end-to-end path of spec.md
// section 4.3 (and scenario E2): one radio packet is fetched, survives the
// forward policy, is fanned out to a STARTED server over a real loopback
// UDP socket, and the server's PUSH_ACK is matched back by token.
func TestUpstreamFetchFanoutAndAck(t *testing.T) {
	upPort, downPort, serverConn := listenServerPair(t)

	reg := registry.New(1)
	conn := connector.New(0, config.ServerConfig{Address: "127.0.0.1", PortUp: upPort, PortDown: downPort, PushTimeoutMs: 200}, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)
	reg.WaitStarted(0)

	conc := hal.NewMock()
	conc.Enqueue(semtech.Uplink{CountUs: 1000, CRC: semtech.CRCOK, Payload: []byte{0xAA}})

	st := stats.New()
	var concMu sync.Mutex
	u := NewUpstream(semtech.GatewayEUI{}, conc, &concMu, true, nil, false, reg, []*connector.Connector{conn}, timeref.NewStore(), false, st, config.DynamicConfig{FwdValidPkt: true})

	uplinks, err := u.fetch()
	require.NoError(t, err)
	require.Len(t, uplinks, 1)

	entries := u.filterAndSerialize(uplinks, timeref.Ref{}, false)
	require.Len(t, entries, 1)

	dgram, err := u.composeDatagram(entries, nil, false)
	require.NoError(t, err)

	// Answer with a matching PUSH_ACK once the datagram lands.
	ackDone := make(chan struct{})
	go func() {
		defer close(ackDone)
		buf := make([]byte, 2048)
		_ = serverConn.SetReadDeadline(time.Now().Add(time.Second))
		n, raddr, err := serverConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		hdr, err := semtech.ParseHeader(buf[:n])
		if err != nil {
			return
		}
		ack := semtech.Header{Version: semtech.ProtocolVersion, Token: hdr.Token, Command: semtech.PushAck, GwEUI: hdr.GwEUI}
		_, _ = serverConn.WriteToUDP(ack.Bytes(), raddr)
	}()

	u.sendAll(dgram)
	<-ackDone

	require.Equal(t, uint32(1), st.Up.DgramSent)
	require.Equal(t, uint32(1), st.Up.AckRcv)
}

func listenServerPair(t *testing.T) (upPort, downPort int, up *net.UDPConn) {
	t.Helper()
	upConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { upConn.Close() })

	downConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { downConn.Close() })

	return upConn.LocalAddr().(*net.UDPAddr).Port, downConn.LocalAddr().(*net.UDPAddr).Port, upConn
}
