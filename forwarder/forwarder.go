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
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lora-gateway/pktfwd/beacon"
	"github.com/lora-gateway/pktfwd/config"
	"github.com/lora-gateway/pktfwd/connector"
	"github.com/lora-gateway/pktfwd/ghost"
	"github.com/lora-gateway/pktfwd/gps"
	"github.com/lora-gateway/pktfwd/hal"
	"github.com/lora-gateway/pktfwd/registry"
	"github.com/lora-gateway/pktfwd/stats"
	"github.com/lora-gateway/pktfwd/timeref"
	"github.com/lora-gateway/pktfwd/xtal"
)

// Forwarder wires the registry, connectors, upstream fanout, downstream
// loops, GPS discipline, XTAL validator, beacon scheduler and reporter
// together, the way cmd/ptp4u wires server.Server up from a parsed Config.
type Forwarder struct {
	cfg  *config.Config
	conc hal.Concentrator

	concMu sync.Mutex
	reg    *registry.Registry
	conns  []*connector.Connector
	store  *timeref.Store
	xc     *xtal.Correction
	xcMu   sync.Mutex
	stats  *stats.Stats

	upstream    *Upstream
	downstreams []*Downstream
	reporter    *Reporter

	gpsWorker *gps.Worker
	ghostSrc  *ghost.UDPSource

	beaconArmed   bool
	beaconArmedMu sync.Mutex

	skipHardwareShutdown int32
}

// New builds a Forwarder from a resolved configuration and an already
// constructed concentrator HAL handle (setup/board configuration happens
// before this point and is out of this package's scope).
func New(cfg *config.Config, conc hal.Concentrator) (*Forwarder, error) {
	f := &Forwarder{
		cfg:   cfg,
		conc:  conc,
		reg:   registry.New(len(cfg.Servers)),
		store: timeref.NewStore(),
		xc:    xtal.New(),
		stats: stats.New(),
	}

	f.conns = make([]*connector.Connector, len(cfg.Servers))
	for i, sc := range cfg.Servers {
		if !sc.Enabled {
			continue
		}
		f.conns[i] = connector.New(i, sc, f.reg)
	}

	var beaconScheduler *beacon.Scheduler
	switch {
	case cfg.BeaconFreqHz > 0:
		beaconScheduler = beacon.New(conc, &f.concMu, cfg.BeaconFreqHz, cfg.RefLatitude, cfg.RefLongitude)
	case cfg.BeaconPeriod > 0:
		// beacon_period is set but beacon_freq_hz is not: refuse to arm
		// rather than transmit on a zero frequency.
		log.Warning("forwarder: beacon_period configured without beacon_freq_hz; beacon disabled")
	}

	if cfg.GhostEnabled {
		src, err := ghost.Listen(cfg.GhostAddress)
		if err != nil {
			return nil, fmt.Errorf("forwarder: starting ghost source: %w", err)
		}
		f.ghostSrc = src
	}

	var ghostSource ghost.Source
	if f.ghostSrc != nil {
		ghostSource = f.ghostSrc
	}

	f.upstream = NewUpstream(cfg.GatewayEUI, conc, &f.concMu, cfg.RadioEnabled, ghostSource, cfg.GhostEnabled, f.reg, f.conns, f.store, cfg.GPSEnabled, f.stats, cfg.DynamicConfig)

	for i, sc := range cfg.Servers {
		if !sc.Enabled {
			continue
		}
		var ds *Downstream
		// The beacon scheduler is embedded in exactly one downstream
		// loop (spec.md section 4.8); the first enabled server owns it.
		if beaconScheduler != nil && !anyBeaconAssigned(f.downstreams) {
			ds = NewDownstream(i, cfg.GatewayEUI, f.reg, f.conns[i], time.Duration(sc.KeepaliveSec)*time.Second, time.Duration(sc.PullTimeoutMs)*time.Millisecond, cfg.AutoquitThreshold, conc, &f.concMu, f.store, f.stats, beaconScheduler, f.xc, &f.xcMu, &f.beaconArmed, &f.beaconArmedMu)
		} else {
			ds = NewDownstream(i, cfg.GatewayEUI, f.reg, f.conns[i], time.Duration(sc.KeepaliveSec)*time.Second, time.Duration(sc.PullTimeoutMs)*time.Millisecond, cfg.AutoquitThreshold, conc, &f.concMu, f.store, f.stats, nil, nil, nil, nil, nil)
		}
		f.downstreams = append(f.downstreams, ds)
	}

	f.reporter = NewReporter(conc, &f.concMu, f.stats, cfg.StatInterval, cfg.GPSEnabled, "pktfwd", cfg.ContactEmail, cfg.Description)

	if cfg.GPSEnabled {
		worker, err := gps.Open(cfg.GPSTTYPath, conc, &f.concMu, f.store, &f.stats.GPS, cfg.BeaconPeriod, cfg.BeaconOffset, f.armBeacon)
		if err != nil {
			return nil, fmt.Errorf("forwarder: opening GPS: %w", err)
		}
		f.gpsWorker = worker
	}

	return f, nil
}

func anyBeaconAssigned(existing []*Downstream) bool {
	for _, d := range existing {
		if d.beaconScheduler != nil {
			return true
		}
	}
	return false
}

func (f *Forwarder) armBeacon(armed bool) {
	f.beaconArmedMu.Lock()
	f.beaconArmed = armed
	f.beaconArmedMu.Unlock()
}

// RequestQuit marks a pending shutdown as a SIGQUIT: hardware teardown
// (concentrator Stop) is skipped, per spec.md section 4.9.
func (f *Forwarder) RequestQuit() {
	atomic.StoreInt32(&f.skipHardwareShutdown, 1)
}

// Run starts every worker and blocks until ctx is cancelled or a joined
// worker exits with an error, then tears everything down in the order
// spec.md section 4.9 describes for exit_sig: join upstream and live
// downstream workers; stop ghost; cancel GPS and the XTAL validator
// without joining; shut down sockets; stop the concentrator (skipped for
// quit_sig). The monitoring HTTP endpoint, when enabled, is not stopped:
// it keeps serving until the process exits.
func (f *Forwarder) Run(ctx context.Context) error {
	innerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once
	recordErr := func(name string, err error) {
		if err == nil {
			return
		}
		errOnce.Do(func() { firstErr = fmt.Errorf("%s: %w", name, err) })
		cancel()
	}

	runJoined := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recordErr(name, fn(innerCtx))
		}()
	}

	for _, c := range f.conns {
		if c == nil {
			continue
		}
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Run(innerCtx)
		}()
	}

	runJoined("upstream", f.upstream.Run)
	for _, ds := range f.downstreams {
		runJoined("downstream", ds.Run)
	}
	runJoined("reporter", f.reporter.Run)

	// GPS and the XTAL validator are cancelled but not joined at shutdown.
	if f.gpsWorker != nil {
		go f.gpsWorker.Run(innerCtx)
	}
	go f.runValidator(innerCtx)

	if f.ghostSrc != nil {
		go f.ghostSrc.Run()
	}
	if f.cfg.MonitorEnabled {
		go f.stats.ServeMonitoring(f.cfg.MonitorPort)
	}

	<-innerCtx.Done()
	log.Info("forwarder: shutting down")

	wg.Wait()

	if f.gpsWorker != nil {
		if err := f.gpsWorker.Close(); err != nil {
			log.Warningf("forwarder: closing GPS port: %v", err)
		}
	}
	if f.ghostSrc != nil {
		if err := f.ghostSrc.Close(); err != nil {
			log.Warningf("forwarder: closing ghost source: %v", err)
		}
	}

	if atomic.LoadInt32(&f.skipHardwareShutdown) == 0 {
		if err := f.conc.Stop(); err != nil {
			log.Warningf("forwarder: stopping concentrator: %v", err)
		}
	}

	return firstErr
}

// runValidator ticks the XTAL correction once a second against the current
// time reference, per spec.md section 4.7.
func (f *Forwarder) runValidator(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ref, ok := f.store.Snapshot()
			f.xc.Tick(ref, ok, now)
		}
	}
}
