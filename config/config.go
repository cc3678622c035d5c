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

// Package config loads the JSON configuration files described in spec.md
// section 6: debug_conf.json exclusively if present, otherwise
// global_conf.json overridden by local_conf.json. The split between
// StaticConfig and DynamicConfig mirrors ptp/ptp4u/server.Config, even
// though this forwarder (unlike ptp4u) does not currently hot-reload the
// dynamic half — it documents which fields a future reload path would
// touch without a server restart.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lora-gateway/pktfwd/semtech"
)

// MaxServers bounds the number of remote network servers this forwarder
// can fan out to (spec.md section 3: "up to a compile-time bound N,
// typically 4").
const MaxServers = 4

// ServerConfig is one remote network server entry.
type ServerConfig struct {
	Address        string `json:"server_address"`
	PortUp         int    `json:"serv_port_up"`
	PortDown       int    `json:"serv_port_down"`
	Enabled        bool   `json:"enabled"`
	PushTimeoutMs  int    `json:"push_timeout_ms"`
	PullTimeoutMs  int    `json:"pull_timeout_ms"`
	KeepaliveSec   int    `json:"keepalive_interval"`
}

// GatewayConf holds the gateway-wide settings (global_conf.json's top
// level "gateway_conf" object).
type GatewayConf struct {
	GatewayEUI string `json:"gateway_ID"`

	ContactEmail string `json:"contact_email"`
	Description  string `json:"description"`

	RadioEnabled bool `json:"radio_enabled"`

	GhostEnabled bool   `json:"ghost_enabled"`
	GhostAddress string `json:"ghost_address"`

	MonitorEnabled bool `json:"monitor_enabled"`
	MonitorPort    int  `json:"monitor_port"`

	GPSEnabled  bool   `json:"gps_enabled"`
	GPSTTYPath  string `json:"gps_tty_path"`

	StatIntervalSec int `json:"stat_interval"`

	BeaconPeriodSec int     `json:"beacon_period"`
	BeaconOffsetSec int     `json:"beacon_offset"`
	BeaconFreqHz    uint64  `json:"beacon_freq_hz"`
	RefLatitude     float64 `json:"ref_latitude"`
	RefLongitude    float64 `json:"ref_longitude"`

	AutoquitThreshold int `json:"autoquit_threshold"`

	// Forward policy: which CRC outcomes get pushed upstream.
	FwdValidPkt bool `json:"fwd_valid_pkt"`
	FwdErrorPkt bool `json:"fwd_error_pkt"`
	FwdNoCRCPkt bool `json:"fwd_nocrc_pkt"`

	Servers []ServerConfig `json:"servers"`
}

// StaticConfig is read once at startup and never changes thereafter.
type StaticConfig struct {
	ConfigDir string
	LogLevel  string
	PprofAddr string
}

// DynamicConfig groups the fields that, in a hypothetical future hot
// reload, would not require restarting the forwarder: forwarding policy
// and reporting cadence, as opposed to which servers or radios exist.
type DynamicConfig struct {
	FwdValidPkt bool
	FwdErrorPkt bool
	FwdNoCRCPkt bool

	StatInterval time.Duration
}

// Config is the fully resolved, parsed configuration.
type Config struct {
	StaticConfig
	DynamicConfig

	GatewayEUI semtech.GatewayEUI

	ContactEmail string
	Description  string

	RadioEnabled   bool
	GhostEnabled   bool
	GhostAddress   string
	MonitorEnabled bool
	MonitorPort    int

	GPSEnabled bool
	GPSTTYPath string

	BeaconPeriod time.Duration
	BeaconOffset time.Duration
	BeaconFreqHz uint64
	RefLatitude  float64
	RefLongitude float64

	AutoquitThreshold int

	Servers []ServerConfig
}

// Defaults not expressed as Go zero values, matching the original
// forwarder's conf.h constants.
const (
	DefaultPushTimeoutMs = 100
	DefaultPullTimeoutMs = 200
	DefaultKeepaliveSec  = 5
	DefaultStatInterval  = 30 * time.Second
	DefaultFetchSleepMs  = 10
	NBPktMax             = 8
	DefaultMonitorPort   = 9100
)

// Load resolves and parses the configuration directory per spec.md section
// 6: debug_conf.json exclusively if present; otherwise global_conf.json
// then local_conf.json, the latter's fields overriding the former's.
func Load(dir string) (*Config, error) {
	debugPath := filepath.Join(dir, "debug_conf.json")
	if _, err := os.Stat(debugPath); err == nil {
		log.Warningf("using %s exclusively, ignoring global/local config", debugPath)
		var gw GatewayConf
		if err := readJSONFile(debugPath, &gw); err != nil {
			return nil, err
		}
		return build(gw)
	}

	var gw GatewayConf
	var foundAny bool

	globalPath := filepath.Join(dir, "global_conf.json")
	if _, err := os.Stat(globalPath); err == nil {
		if err := readJSONFile(globalPath, &gw); err != nil {
			return nil, err
		}
		foundAny = true
	}

	localPath := filepath.Join(dir, "local_conf.json")
	if _, err := os.Stat(localPath); err == nil {
		if err := readJSONFile(localPath, &gw); err != nil {
			return nil, err
		}
		foundAny = true
	}

	if !foundAny {
		return nil, fmt.Errorf("config: no global_conf.json or local_conf.json found in %s", dir)
	}

	return build(gw)
}

// readJSONFile unmarshals a config file's "gateway_conf" object onto an
// existing GatewayConf, so a later file only overrides the fields it sets.
func readJSONFile(path string, gw *GatewayConf) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	var wrapper struct {
		GatewayConf GatewayConf `json:"gateway_conf"`
	}
	wrapper.GatewayConf = *gw
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	*gw = wrapper.GatewayConf
	return nil
}

func build(gw GatewayConf) (*Config, error) {
	eui, err := semtech.ParseGatewayEUI(gw.GatewayEUI)
	if err != nil {
		return nil, err
	}

	if len(gw.Servers) > MaxServers {
		return nil, fmt.Errorf("config: %d servers configured, max is %d", len(gw.Servers), MaxServers)
	}

	if !gw.RadioEnabled && !gw.GhostEnabled && len(gw.Servers) == 0 && !gw.MonitorEnabled {
		log.Warning("config: none of radio, ghost, status stream or monitor is enabled")
	}

	statInterval := time.Duration(gw.StatIntervalSec) * time.Second
	if statInterval <= 0 {
		statInterval = DefaultStatInterval
	}

	monitorPort := gw.MonitorPort
	if monitorPort <= 0 {
		monitorPort = DefaultMonitorPort
	}

	for i := range gw.Servers {
		if gw.Servers[i].PushTimeoutMs <= 0 {
			gw.Servers[i].PushTimeoutMs = DefaultPushTimeoutMs
		}
		if gw.Servers[i].PullTimeoutMs <= 0 {
			gw.Servers[i].PullTimeoutMs = DefaultPullTimeoutMs
		}
		if gw.Servers[i].KeepaliveSec <= 0 {
			gw.Servers[i].KeepaliveSec = DefaultKeepaliveSec
		}
	}

	return &Config{
		DynamicConfig: DynamicConfig{
			FwdValidPkt:  gw.FwdValidPkt,
			FwdErrorPkt:  gw.FwdErrorPkt,
			FwdNoCRCPkt:  gw.FwdNoCRCPkt,
			StatInterval: statInterval,
		},
		GatewayEUI:        eui,
		ContactEmail:      gw.ContactEmail,
		Description:       gw.Description,
		RadioEnabled:      gw.RadioEnabled,
		GhostEnabled:      gw.GhostEnabled,
		GhostAddress:      gw.GhostAddress,
		MonitorEnabled:    gw.MonitorEnabled,
		MonitorPort:       monitorPort,
		GPSEnabled:        gw.GPSEnabled,
		GPSTTYPath:        gw.GPSTTYPath,
		BeaconPeriod:      time.Duration(gw.BeaconPeriodSec) * time.Second,
		BeaconOffset:      time.Duration(gw.BeaconOffsetSec) * time.Second,
		BeaconFreqHz:      gw.BeaconFreqHz,
		RefLatitude:       gw.RefLatitude,
		RefLongitude:      gw.RefLongitude,
		AutoquitThreshold: gw.AutoquitThreshold,
		Servers:           gw.Servers,
	}, nil
}
