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

// Package gps disciplines the forwarder's time reference off a GPS
// receiver's NMEA RMC stream, the way spec.md section 4.6 describes: open
// the TTY, read line by line, and on each RMC sentence refresh the shared
// TimeRef and position. The serial transport is go.bug.st/serial, the same
// library sa53fw/mac.Init uses for its firmware console.
package gps

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	log "github.com/sirupsen/logrus"

	"github.com/lora-gateway/pktfwd/hal"
	"github.com/lora-gateway/pktfwd/stats"
	"github.com/lora-gateway/pktfwd/timeref"
)

// BaudRate is the serial speed nearly every u-blox/NMEA GPS module defaults
// to, matching the original forwarder's gps_enable default.
const BaudRate = 9600

// Worker reads NMEA sentences from a serial port and feeds the shared time
// reference and GPS position, per spec.md section 4.6.
type Worker struct {
	port   io.ReadCloser
	conc   hal.Concentrator
	concMu *sync.Mutex
	store  *timeref.Store
	pos    *stats.GPSPosition

	beaconPeriod time.Duration
	beaconOffset time.Duration
	onBeaconArm  func(armed bool)

	lastSync  time.Time
	lastCount uint32
	haveLast  bool
}

// Open opens the GPS TTY at path and returns a Worker reading from it.
// concMu is the shared concentrator lock (spec.md section 5): every
// TrigCnt() call is made while holding it, same as the upstream fanout's
// and reporter's HAL calls.
func Open(path string, conc hal.Concentrator, concMu *sync.Mutex, store *timeref.Store, pos *stats.GPSPosition, beaconPeriod, beaconOffset time.Duration, onBeaconArm func(bool)) (*Worker, error) {
	mode := &serial.Mode{BaudRate: BaudRate}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return &Worker{
		port:         port,
		conc:         conc,
		concMu:       concMu,
		store:        store,
		pos:          pos,
		beaconPeriod: beaconPeriod,
		beaconOffset: beaconOffset,
		onBeaconArm:  onBeaconArm,
	}, nil
}

// Run reads lines until ctx is cancelled or the port errors out. Per
// spec.md section 4.6, the worker may be cancelled without cleanup other
// than closing its file descriptor; Run's caller is expected to call
// Close() from another goroutine to unblock the blocking read on shutdown.
func (w *Worker) Run(ctx context.Context) {
	scanner := bufio.NewScanner(w.port)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		w.handleLine(scanner.Text())
	}
}

// Close closes the underlying serial port, unblocking a pending Run.
func (w *Worker) Close() error {
	return w.port.Close()
}

func (w *Worker) handleLine(line string) {
	rmc, err := ParseRMC(line)
	if err != nil {
		if err != ErrNotRMC {
			log.Debugf("gps: %v", err)
		}
		return
	}
	if !rmc.Valid {
		return
	}

	if w.beaconPeriod > 0 && w.onBeaconArm != nil {
		periodSec := int64(w.beaconPeriod / time.Second)
		offsetSec := int64(w.beaconOffset / time.Second)
		remainder := (rmc.UTC.Unix() + 1) % periodSec
		w.onBeaconArm(remainder == offsetSec)
	}

	w.concMu.Lock()
	trig, err := w.conc.TrigCnt()
	w.concMu.Unlock()
	if err != nil {
		log.Warningf("gps: reading trigger counter: %v", err)
		return
	}

	xtalErr := w.estimateXtalErr(rmc.UTC, trig)
	w.store.Sync(trig, rmc.UTC, xtalErr)
	w.lastSync, w.lastCount, w.haveLast = rmc.UTC, trig, true

	w.pos.Set(rmc.LatDeg, rmc.LongDeg, 0)
}

// estimateXtalErr computes the ratio of ideal to observed counter advance
// over the interval since the last sync, or 1.0 (no meaningful history)
// on the first sync, per spec.md section 3.
func (w *Worker) estimateXtalErr(utc time.Time, trig uint32) float64 {
	if !w.haveLast {
		return 1.0
	}
	idealUs := utc.Sub(w.lastSync).Microseconds()
	if idealUs <= 0 {
		return 1.0
	}
	observedUs := int64(trig - w.lastCount)
	if observedUs <= 0 {
		return 1.0
	}
	return float64(idealUs) / float64(observedUs)
}
