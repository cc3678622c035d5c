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

package main

import (
	"context"
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/lora-gateway/pktfwd/config"
	"github.com/lora-gateway/pktfwd/forwarder"
	"github.com/lora-gateway/pktfwd/hal"
)

func main() {
	var configDir, logLevel, pprofAddr string

	flag.StringVar(&configDir, "config-dir", "/etc/pktfwd", "directory holding global_conf.json/local_conf.json/debug_conf.json")
	flag.StringVar(&logLevel, "loglevel", "warning", "log level: debug, info, warning, error")
	flag.StringVar(&pprofAddr, "pprofaddr", "", "host:port for the pprof profiler to bind")
	flag.Parse()

	switch logLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("unrecognized log level: %v", logLevel)
	}

	if pprofAddr != "" {
		log.Warningf("starting profiler on %s", pprofAddr)
		go func() {
			log.Println(http.ListenAndServe(pprofAddr, nil)) //nolint:gosec
		}()
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		log.Errorf("loading configuration: %v", err)
		os.Exit(1)
	}

	conc, err := newConcentrator(cfg)
	if err != nil {
		log.Errorf("initializing concentrator: %v", err)
		os.Exit(1)
	}
	if err := conc.Start(); err != nil {
		log.Errorf("starting concentrator: %v", err)
		os.Exit(1)
	}

	fwd, err := forwarder.New(cfg, conc)
	if err != nil {
		log.Errorf("constructing forwarder: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-sigCh
		if sig == syscall.SIGQUIT {
			log.Warning("received SIGQUIT: skipping hardware shutdown")
			fwd.RequestQuit()
		} else {
			log.Infof("received %s: shutting down", sig)
		}
		cancel()
	}()

	if err := fwd.Run(ctx); err != nil {
		log.Errorf("forwarder exited: %v", err)
		os.Exit(1)
	}
}

// newConcentrator resolves the concentrator HAL implementation to run
// against. Board/RF-chain/TX-gain setup is out of this module's scope
// (spec.md section 1); production builds would plug in the SX1301 driver
// binding here.
func newConcentrator(cfg *config.Config) (hal.Concentrator, error) {
	if !cfg.RadioEnabled {
		return hal.NewMock(), nil
	}
	return hal.NewMock(), nil
}
