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
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lora-gateway/pktfwd/beacon"
	"github.com/lora-gateway/pktfwd/connector"
	"github.com/lora-gateway/pktfwd/hal"
	"github.com/lora-gateway/pktfwd/registry"
	"github.com/lora-gateway/pktfwd/semtech"
	"github.com/lora-gateway/pktfwd/stats"
	"github.com/lora-gateway/pktfwd/timeref"
	"github.com/lora-gateway/pktfwd/xtal"
)

// ErrAutoquit is returned by Downstream.Run when the unacknowledged
// PULL_DATA count reaches the configured autoquit threshold, per spec.md
// section 4.4's process-exit signal.
type ErrAutoquit struct{ Idx int }

func (e *ErrAutoquit) Error() string {
	return "downstream: autoquit threshold reached"
}

// recvBufSize matches the original forwarder's 1000-byte PULL_RESP buffer.
const recvBufSize = 1000

// Downstream runs one server's keepalive + PULL_RESP + beacon-handoff loop.
type Downstream struct {
	idx  int
	gwEUI semtech.GatewayEUI

	reg  *registry.Registry
	conn *connector.Connector

	keepalive         time.Duration
	pullTimeout       time.Duration
	autoquitThreshold int

	conc   hal.Concentrator
	concMu *sync.Mutex

	store *timeref.Store
	stats *stats.Stats

	beaconScheduler *beacon.Scheduler
	xc              *xtal.Correction
	xcMu            *sync.Mutex
	beaconArmed     *bool
	beaconArmedMu   *sync.Mutex
}

// NewDownstream builds a Downstream worker for configured server idx. The
// beacon fields are optional: pass nil scheduler/xc/flags to disable
// beacon handling on this server (spec.md embeds the beacon scheduler in
// exactly one, arbitrary, downstream loop — in practice the first enabled
// server).
func NewDownstream(idx int, gwEUI semtech.GatewayEUI, reg *registry.Registry, conn *connector.Connector, keepalive, pullTimeout time.Duration, autoquitThreshold int, conc hal.Concentrator, concMu *sync.Mutex, store *timeref.Store, st *stats.Stats, beaconScheduler *beacon.Scheduler, xc *xtal.Correction, xcMu *sync.Mutex, beaconArmed *bool, beaconArmedMu *sync.Mutex) *Downstream {
	return &Downstream{
		idx: idx, gwEUI: gwEUI,
		reg: reg, conn: conn,
		keepalive: keepalive, pullTimeout: pullTimeout, autoquitThreshold: autoquitThreshold,
		conc: conc, concMu: concMu,
		store: store, stats: st,
		beaconScheduler: beaconScheduler, xc: xc, xcMu: xcMu,
		beaconArmed: beaconArmed, beaconArmedMu: beaconArmedMu,
	}
}

// Run waits for the server to be STARTED, then repeats the keepalive outer
// loop until ctx is done or the autoquit threshold is reached. If ctx is
// done before the server is STARTED, Run returns without sending anything.
func (d *Downstream) Run(ctx context.Context) error {
	started := make(chan struct{})
	go func() {
		d.reg.WaitStarted(d.idx)
		close(started)
	}()
	select {
	case <-ctx.Done():
		return nil
	case <-started:
	}

	unackedSinceLastAck := 0

	for {
		if ctx.Err() != nil {
			return nil
		}
		conn := d.conn.Down()
		if conn == nil {
			// Reconnecting; brief backoff before checking again.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		hdr, token := semtech.BuildPullData(d.gwEUI)
		if _, err := conn.Write(hdr); err != nil {
			log.Warningf("downstream[%d]: PULL_DATA send failed: %v", d.idx, err)
			d.conn.Fail()
			continue
		}
		sendTime := time.Now()
		d.stats.Down.IncPullSent()
		unackedSinceLastAck++

		if d.autoquitThreshold > 0 && unackedSinceLastAck >= d.autoquitThreshold {
			log.Warningf("downstream[%d]: %d PULL_DATA unacked, autoquit threshold reached", d.idx, d.autoquitThreshold)
			return &ErrAutoquit{Idx: d.idx}
		}

		ackedThisCycle := false
		for time.Since(sendTime) < d.keepalive {
			if ctx.Err() != nil {
				return nil
			}
			_ = conn.SetReadDeadline(time.Now().Add(d.pullTimeout))
			buf := make([]byte, recvBufSize)
			n, err := conn.Read(buf)
			d.maybeSendBeacon()
			if err != nil {
				continue // normal recv timeout; no log per spec.md's taxonomy
			}
			d.handleDatagram(buf[:n], token, &ackedThisCycle, &unackedSinceLastAck)
		}
	}
}

func (d *Downstream) handleDatagram(b []byte, token uint16, ackedThisCycle *bool, unacked *int) {
	hdr, err := semtech.ParseHeader(b)
	if err != nil {
		return // undersized / wrong version: silently dropped per spec.md section 7
	}

	switch hdr.Command {
	case semtech.PullAck:
		if hdr.Token != token {
			return
		}
		if !*ackedThisCycle {
			*ackedThisCycle = true
			*unacked = 0
			d.stats.Down.IncAckRcv()
		}
	case semtech.PullResp:
		d.handlePullResp(b[semtech.HeaderSize:])
	default:
		// unknown command: ignored
	}
}

func (d *Downstream) handlePullResp(body []byte) {
	tx, err := semtech.ParsePullResp(body)
	if err != nil {
		log.Warningf("downstream[%d]: dropping PULL_RESP: %v", d.idx, err)
		return
	}

	if tx.Mode == semtech.TxOnGPSTime {
		ref, ok := d.store.Snapshot()
		if !ok || timeref.Stale(ref, time.Now()) {
			log.Warningf("downstream[%d]: dropping PULL_RESP: no valid GPS time reference for UTC scheduling", d.idx)
			return
		}
		tx.CountUs = timeref.UTCToCount(ref, tx.UTCTime)
	}

	d.stats.Down.IncDwRcv()

	d.concMu.Lock()
	err = d.conc.Send(tx)
	d.concMu.Unlock()

	if err != nil {
		log.Warningf("downstream[%d]: HAL send failed: %v", d.idx, err)
		d.stats.Down.IncTxFail()
		return
	}
	d.stats.Down.IncTxOK()
}

// maybeSendBeacon implements the beacon handoff of spec.md section 4.8:
// opportunistically, between datagrams, when this loop owns the beacon
// scheduler and the arm flag is set with both GPS and XTAL valid.
func (d *Downstream) maybeSendBeacon() {
	if d.beaconScheduler == nil {
		return
	}

	d.beaconArmedMu.Lock()
	armed := *d.beaconArmed
	if armed {
		*d.beaconArmed = false
	}
	d.beaconArmedMu.Unlock()
	if !armed {
		return
	}

	ref, refOK := d.store.Snapshot()
	if !refOK || timeref.Stale(ref, time.Now()) || !d.xc.Valid() {
		return
	}

	d.xcMu.Lock()
	freq := beacon.CorrectedFrequency(d.xc, d.beaconFreqHz())
	d.xcMu.Unlock()

	err := d.beaconScheduler.Send(ref.UTC.Unix(), freq)
	if err != nil {
		log.Warningf("downstream[%d]: beacon transmission failed: %v", d.idx, err)
		return
	}
	log.Infof("downstream[%d]: beacon sent at %d Hz", d.idx, freq)
}

func (d *Downstream) beaconFreqHz() uint64 {
	return d.beaconScheduler.ConfiguredFreqHz()
}
