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
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lora-gateway/pktfwd/hal"
	"github.com/lora-gateway/pktfwd/semtech"
	"github.com/lora-gateway/pktfwd/stats"
)

// ErrConcentratorReset is returned by Reporter.Run when the trigger
// counter reads the reset sentinel, per spec.md section 4.5/6.
var ErrConcentratorReset = fmt.Errorf("reporter: concentrator trigger counter read reset sentinel 0x%08X", hal.ResetSentinel)

// Reporter runs the stat_interval-cadence status report described in
// spec.md section 4.5: snapshot and zero every counter bundle, format a
// status fragment, publish it, and poll the concentrator trigger counter
// for the unintended-reset sentinel.
type Reporter struct {
	conc     hal.Concentrator
	concMu   *sync.Mutex
	stats    *stats.Stats
	interval time.Duration
	gpsOn    bool

	platform string
	email    string
	desc     string
}

// NewReporter builds a Reporter. platform/email/desc populate the legacy
// status report's pfrm/mail/desc fields verbatim.
func NewReporter(conc hal.Concentrator, concMu *sync.Mutex, st *stats.Stats, interval time.Duration, gpsOn bool, platform, email, desc string) *Reporter {
	return &Reporter{conc: conc, concMu: concMu, stats: st, interval: interval, gpsOn: gpsOn, platform: platform, email: email, desc: desc}
}

// Run ticks every interval until ctx is done, or returns ErrConcentratorReset
// if the trigger counter reads the reset sentinel.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.tick(); err != nil {
				return err
			}
		}
	}
}

func (r *Reporter) tick() error {
	r.concMu.Lock()
	trig, err := r.conc.TrigCnt()
	r.concMu.Unlock()
	if err == nil && trig == hal.ResetSentinel {
		return ErrConcentratorReset
	}

	snap := r.stats.SnapshotAndReset()

	var ackRatio float64
	if snap.Up.DgramSent > 0 {
		ackRatio = 100 * float64(snap.Up.AckRcv) / float64(snap.Up.DgramSent)
	}

	report := semtech.StatusReport{
		Time:        time.Now(),
		RxNb:        snap.Up.RxRcv,
		RxOK:        snap.Up.RxOK,
		RxBad:       snap.Up.RxBad,
		RxNoCRC:     snap.Up.RxNoCRC,
		RxFw:        snap.Up.RxFwd,
		DwNb:        snap.Down.DwRcv,
		TxNb:        snap.Down.TxOK,
		AckRatioPct: ackRatio,
		Platform:    r.platform,
		Email:       r.email,
		Description: r.desc,
	}

	if r.gpsOn {
		if lat, long, alt, valid := r.stats.GPS.Get(); valid {
			report.HasGPS = true
			report.LatitudeDeg, report.LongitudeDeg, report.AltitudeM = lat, long, alt
		}
	}

	frag, err := report.Fragment()
	if err != nil {
		log.Errorf("reporter: formatting status report: %v", err)
		return nil
	}
	r.stats.Report.Publish(frag)
	return nil
}
