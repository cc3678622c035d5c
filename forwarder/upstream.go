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

// Package forwarder implements the concurrent forwarding core: the single
// upstream fanout worker (C4) and the per-server downstream loop (C5),
// wired together with the registry, connector, shared state and stats
// packages, following the single-worker-per-concern shape of
// ptp4u/server.Server.Start.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lora-gateway/pktfwd/config"
	"github.com/lora-gateway/pktfwd/connector"
	"github.com/lora-gateway/pktfwd/ghost"
	"github.com/lora-gateway/pktfwd/hal"
	"github.com/lora-gateway/pktfwd/registry"
	"github.com/lora-gateway/pktfwd/semtech"
	"github.com/lora-gateway/pktfwd/stats"
	"github.com/lora-gateway/pktfwd/timeref"
)

// NBPktMax is the maximum number of radio packets fetched per cycle
// (spec.md section 4.3: "up to NB_PKT_MAX (8)").
const NBPktMax = config.NBPktMax

// FetchSleep is the idle-cycle sleep when nothing was fetched and no
// report is pending.
const FetchSleep = 10 * time.Millisecond

// Upstream runs the single worker fanning radio/ghost uplinks out to every
// STARTED server and tallying PUSH_ACKs.
type Upstream struct {
	gwEUI    semtech.GatewayEUI
	conc     hal.Concentrator
	concMu   *sync.Mutex
	radioOn  bool
	ghostSrc ghost.Source
	ghostOn  bool

	reg   *registry.Registry
	conns []*connector.Connector

	store *timeref.Store
	gpsOn bool

	stats *stats.Stats
	dyn   config.DynamicConfig
}

// NewUpstream builds an Upstream worker for the given server connectors,
// in the same order as the configured servers (and the registry's indices).
func NewUpstream(gwEUI semtech.GatewayEUI, conc hal.Concentrator, concMu *sync.Mutex, radioOn bool, ghostSrc ghost.Source, ghostOn bool, reg *registry.Registry, conns []*connector.Connector, store *timeref.Store, gpsOn bool, st *stats.Stats, dyn config.DynamicConfig) *Upstream {
	return &Upstream{
		gwEUI: gwEUI, conc: conc, concMu: concMu,
		radioOn: radioOn, ghostSrc: ghostSrc, ghostOn: ghostOn,
		reg: reg, conns: conns,
		store: store, gpsOn: gpsOn,
		stats: st, dyn: dyn,
	}
}

// Run repeats the fetch-filter-serialize-fanout cycle until ctx is done.
func (u *Upstream) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		uplinks, err := u.fetch()
		if err != nil {
			return fmt.Errorf("upstream: fatal concentrator error: %w", err)
		}

		frag, reportPending := u.stats.Report.TakeIfReady()

		if len(uplinks) == 0 && !reportPending {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(FetchSleep):
			}
			continue
		}

		ref, refOK := u.timeRef()

		rxpkEntries := u.filterAndSerialize(uplinks, ref, refOK)
		if len(rxpkEntries) == 0 && !reportPending {
			continue
		}

		dgram, err := u.composeDatagram(rxpkEntries, frag, reportPending)
		if err != nil {
			log.Errorf("upstream: composing datagram: %v", err)
			continue
		}

		u.sendAll(dgram)
	}
}

// fetch pulls up to NBPktMax radio packets, then fills the remainder from
// the ghost source, all under the concentrator lock.
func (u *Upstream) fetch() ([]semtech.Uplink, error) {
	u.concMu.Lock()
	defer u.concMu.Unlock()

	var out []semtech.Uplink
	if u.radioOn {
		frames, err := u.conc.Receive(NBPktMax)
		if err != nil {
			return nil, err
		}
		out = append(out, frames...)
	}
	if u.ghostOn && len(out) < NBPktMax {
		out = append(out, u.ghostSrc.Receive(NBPktMax-len(out))...)
	}
	return out, nil
}

func (u *Upstream) timeRef() (timeref.Ref, bool) {
	if !u.gpsOn {
		return timeref.Ref{}, false
	}
	ref, ok := u.store.Snapshot()
	if !ok || timeref.Stale(ref, time.Now()) {
		return timeref.Ref{}, false
	}
	return ref, true
}

// filterAndSerialize applies the forward-policy flags, updates upstream
// counters, and serializes the surviving packets to rxpk JSON fragments.
func (u *Upstream) filterAndSerialize(uplinks []semtech.Uplink, ref timeref.Ref, refOK bool) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(uplinks))
	for _, up := range uplinks {
		forward := u.shouldForward(up.CRC)
		u.stats.Up.IncRcv(up.CRC, forward)
		if !forward {
			continue
		}

		utc := time.Time{}
		if refOK {
			utc = timeref.CountToUTC(ref, up.CountUs)
		}
		raw, err := up.ToJSON(utc)
		if err != nil {
			log.Warningf("upstream: dropping unserializable packet: %v", err)
			continue
		}
		out = append(out, raw)
	}
	return out
}

func (u *Upstream) shouldForward(crc semtech.CRCStatus) bool {
	switch crc {
	case semtech.CRCOK:
		return u.dyn.FwdValidPkt
	case semtech.CRCBad:
		return u.dyn.FwdErrorPkt
	case semtech.CRCNone:
		return u.dyn.FwdNoCRCPkt
	default:
		return false
	}
}

// composeDatagram builds the PUSH_DATA datagram: 12-byte header plus the
// rxpk array and an optional status fragment, per spec.md section 4.3.
func (u *Upstream) composeDatagram(rxpk []json.RawMessage, statFrag json.RawMessage, reportPending bool) ([]byte, error) {
	var body bytes.Buffer
	body.WriteString(`{"rxpk":[`)
	for i, raw := range rxpk {
		if i > 0 {
			body.WriteByte(',')
		}
		body.Write(raw)
	}
	body.WriteString(`]`)
	if reportPending && len(statFrag) > 0 {
		body.WriteString(`,"stat":`)
		body.Write(statFrag)
	}
	body.WriteString(`}`)

	hdr, _ := semtech.BuildPushData(u.gwEUI)
	dg := make([]byte, 0, len(hdr)+body.Len())
	dg = append(dg, hdr...)
	dg = append(dg, body.Bytes()...)
	return dg, nil
}

// sendAll sends the composed datagram to every STARTED server and polls
// for a matching PUSH_ACK, per spec.md section 4.3 step 9.
func (u *Upstream) sendAll(dgram []byte) {
	hdr, err := semtech.ParseHeader(dgram)
	if err != nil {
		log.Errorf("upstream: composed an invalid header: %v", err)
		return
	}
	token := hdr.Token

	for _, idx := range u.reg.StartedServers() {
		conn := u.conns[idx].Up()
		if conn == nil {
			continue
		}

		if _, err := conn.Write(dgram); err != nil {
			log.Warningf("upstream[%d]: send failed: %v", idx, err)
			u.conns[idx].Fail()
			continue
		}
		u.stats.Up.IncDgramSent()

		if u.pollAck(conn, token, u.conns[idx].PushTimeout()/2) {
			u.stats.Up.IncAckRcv()
		}
	}
}

// pollAck polls recv() up to twice, each read with a receive timeout of
// pollTimeout (the server's configured push_timeout_ms, halved, per spec.md
// section 4.2/4.3), waiting for a PUSH_ACK with the matching token.
func (u *Upstream) pollAck(conn *net.UDPConn, token uint16, pollTimeout time.Duration) bool {
	buf := make([]byte, semtech.HeaderSize)
	for i := 0; i < 2; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(pollTimeout))
		n, err := conn.Read(buf)
		if err != nil {
			continue
		}
		if semtech.IsAck(buf[:n], token, semtech.PushAck) {
			return true
		}
	}
	return false
}
