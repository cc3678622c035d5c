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

// Package stats holds the forwarder's counters and periodic status report
// (spec.md sections 4.5, 9). It is adapted from ptp/ptp4u/stats.JSONStats:
// the same snapshot-then-reset bundle pattern and JSON HTTP exposure, with
// the counters renamed to the upstream/downstream/GPS bundles this
// forwarder actually needs, and a Prometheus registry mounted alongside.
package stats

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/lora-gateway/pktfwd/semtech"
)

// UpCounters is the plain counter data of an UpBundle, safe to copy once
// the bundle's lock is held.
type UpCounters struct {
	RxRcv     uint32
	RxOK      uint32
	RxBad     uint32
	RxNoCRC   uint32
	RxOther   uint32
	RxFwd     uint32
	DgramSent uint32
	AckRcv    uint32
}

// UpBundle is the upstream counter set, reset every reporting interval.
type UpBundle struct {
	mu sync.Mutex
	UpCounters
}

func (b *UpBundle) snapshotAndReset() UpCounters {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := b.UpCounters
	b.UpCounters = UpCounters{}
	return snap
}

// IncRcv records one HAL-yielded frame and its filter outcome.
func (b *UpBundle) IncRcv(crc semtech.CRCStatus, forwarded bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.RxRcv++
	switch crc {
	case semtech.CRCOK:
		b.RxOK++
	case semtech.CRCBad:
		b.RxBad++
	case semtech.CRCNone:
		b.RxNoCRC++
	default:
		b.RxOther++
	}
	if forwarded {
		b.RxFwd++
	}
}

// IncDgramSent records a PUSH_DATA sent to one server.
func (b *UpBundle) IncDgramSent() {
	b.mu.Lock()
	b.DgramSent++
	b.mu.Unlock()
}

// IncAckRcv records a matching PUSH_ACK.
func (b *UpBundle) IncAckRcv() {
	b.mu.Lock()
	b.AckRcv++
	b.mu.Unlock()
}

// DownCounters is the plain counter data of a DownBundle.
type DownCounters struct {
	PullSent uint32
	AckRcv   uint32
	DwRcv    uint32
	TxOK     uint32
	TxFail   uint32
}

// DownBundle is the downstream counter set, reset every reporting interval.
type DownBundle struct {
	mu sync.Mutex
	DownCounters
}

func (b *DownBundle) snapshotAndReset() DownCounters {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := b.DownCounters
	b.DownCounters = DownCounters{}
	return snap
}

// IncPullSent records a PULL_DATA keepalive sent.
func (b *DownBundle) IncPullSent() {
	b.mu.Lock()
	b.PullSent++
	b.mu.Unlock()
}

// IncAckRcv records a matching PULL_ACK, counted at most once per keepalive
// cycle by the caller (duplicates must not double count).
func (b *DownBundle) IncAckRcv() {
	b.mu.Lock()
	b.AckRcv++
	b.mu.Unlock()
}

// IncDwRcv records an accepted PULL_RESP.
func (b *DownBundle) IncDwRcv() {
	b.mu.Lock()
	b.DwRcv++
	b.mu.Unlock()
}

// IncTxOK records a successful HAL Send.
func (b *DownBundle) IncTxOK() {
	b.mu.Lock()
	b.TxOK++
	b.mu.Unlock()
}

// IncTxFail records a failed HAL Send.
func (b *DownBundle) IncTxFail() {
	b.mu.Lock()
	b.TxFail++
	b.mu.Unlock()
}

// GPSPosition is the last known GPS fix, under its own lock.
type GPSPosition struct {
	mu    sync.Mutex
	valid bool
	lat   float64
	long  float64
	alt   int
}

// Set records a new fix.
func (p *GPSPosition) Set(lat, long float64, alt int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.valid = true
	p.lat, p.long, p.alt = lat, long, alt
}

// Invalidate marks the position as not currently trustworthy.
func (p *GPSPosition) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.valid = false
}

// Get returns the current fix and whether it is valid.
func (p *GPSPosition) Get() (lat, long float64, alt int, valid bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lat, p.long, p.alt, p.valid
}

// Report is the report_ready cell described in spec.md section 4.5: a
// preformatted JSON fragment plus a flag toggled by the reporter and
// consumed by the upstream fanout. spec.md section 9 documents the
// deliberate absence of locking on the read side: report_ready has a
// single writer (the reporter, once per interval) and a single reader
// (the fanout, once per fetch cycle), so the flag needs no mutex: it is an
// int32 read and written through sync/atomic. The fragment bytes
// themselves are stored in an atomic.Value to avoid a torn read.
type Report struct {
	ready    int32
	fragment atomic.Value // json.RawMessage
}

// Publish stores a new fragment and marks it ready.
func (r *Report) Publish(fragment json.RawMessage) {
	r.fragment.Store(fragment)
	atomic.StoreInt32(&r.ready, 1)
}

// TakeIfReady returns the pending fragment and clears report_ready, or
// returns ok=false if nothing is pending.
func (r *Report) TakeIfReady() (fragment json.RawMessage, ok bool) {
	if atomic.LoadInt32(&r.ready) == 0 {
		return nil, false
	}
	atomic.StoreInt32(&r.ready, 0)
	f, _ := r.fragment.Load().(json.RawMessage)
	return f, true
}

// Stats bundles everything the forwarder reports: the counters above plus
// an HTTP endpoint serving both a JSON snapshot (legacy format) and
// Prometheus metrics (domain-stack addition), mirroring
// ptp4u/stats.JSONStats.Start paired with sptp/stats.PrometheusExporter.
type Stats struct {
	Up       UpBundle
	Down     DownBundle
	GPS      GPSPosition
	Report   Report

	registry *prometheus.Registry
	gRxRcv   prometheus.Counter
	gRxOK    prometheus.Counter
	gDgram   prometheus.Counter
	gAckRcv  prometheus.Counter
	gTxOK    prometheus.Counter
	gTxFail  prometheus.Counter
}

// New creates a Stats with its Prometheus collectors registered.
func New() *Stats {
	s := &Stats{registry: prometheus.NewRegistry()}
	s.gRxRcv = promCounter(s.registry, "pktfwd_rx_received_total", "uplink frames yielded by the HAL")
	s.gRxOK = promCounter(s.registry, "pktfwd_rx_ok_total", "uplink frames passing CRC")
	s.gDgram = promCounter(s.registry, "pktfwd_push_data_sent_total", "PUSH_DATA datagrams sent")
	s.gAckRcv = promCounter(s.registry, "pktfwd_push_ack_received_total", "PUSH_ACK datagrams matched")
	s.gTxOK = promCounter(s.registry, "pktfwd_tx_ok_total", "downlink transmissions accepted by the HAL")
	s.gTxFail = promCounter(s.registry, "pktfwd_tx_fail_total", "downlink transmissions rejected by the HAL")
	return s
}

func promCounter(reg *prometheus.Registry, name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	reg.MustRegister(c)
	return c
}

// Snapshot is a point-in-time, zeroed copy of every counter bundle,
// produced once per stat_interval by the reporter.
type Snapshot struct {
	Up   UpCounters
	Down DownCounters
}

// SnapshotAndReset atomically captures then zeroes every counter bundle,
// per spec.md section 4.5, and folds the deltas into the Prometheus
// counters (which are cumulative, unlike the legacy JSON report).
func (s *Stats) SnapshotAndReset() Snapshot {
	up := s.Up.snapshotAndReset()
	down := s.Down.snapshotAndReset()
	s.gRxRcv.Add(float64(up.RxRcv))
	s.gRxOK.Add(float64(up.RxOK))
	s.gDgram.Add(float64(up.DgramSent))
	s.gAckRcv.Add(float64(up.AckRcv))
	s.gTxOK.Add(float64(down.TxOK))
	s.gTxFail.Add(float64(down.TxFail))
	return Snapshot{Up: up, Down: down}
}

// ServeMonitoring starts the HTTP monitoring server, exposing the latest
// status report fragment at "/" and Prometheus metrics at "/metrics".
func (s *Stats) ServeMonitoring(port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		frag, ok := func() (json.RawMessage, bool) {
			f, _ := s.Report.fragment.Load().(json.RawMessage)
			return f, f != nil
		}()
		if !ok {
			http.Error(w, "no report published yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(frag); err != nil {
			log.Errorf("stats: failed to write status report: %v", err)
		}
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", port)
	log.Infof("stats: monitoring endpoint on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil { //nolint:gosec
		log.Fatalf("stats: monitoring server failed: %v", err)
	}
}
