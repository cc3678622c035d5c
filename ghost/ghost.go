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

// Package ghost implements the "ghost" packet source named in spec.md
// sections 2 and 4.3: a local UDP listener that feeds synthetic uplink
// frames into the upstream fanout exactly as if the concentrator itself had
// received them. Each datagram is one flat JSON object (see wireFrame)
// carrying a subset of semtech.Uplink's fields.
package ghost

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lora-gateway/pktfwd/semtech"
)

// Source yields buffered synthetic uplink frames, mirroring the subset of
// hal.Concentrator's Receive method the ghost path needs.
type Source interface {
	// Receive returns up to max frames already buffered, non-blocking.
	Receive(max int) []semtech.Uplink
}

// wireFrame is the on-wire shape of one ghost datagram: a subset of the
// rxpk fields a test harness can emit without a real radio front end.
type wireFrame struct {
	CountUs     uint32  `json:"count_us"`
	RFChain     uint8   `json:"rfch"`
	FreqHz      uint64  `json:"freq_hz"`
	Modulation  string  `json:"modu"`
	SF          uint8   `json:"sf,omitempty"`
	FSKBps      uint32  `json:"fsk_bps,omitempty"`
	BandwidthHz uint32  `json:"bw_hz"`
	Coderate    string  `json:"codr"`
	RSSI        float64 `json:"rssi"`
	SNR         float64 `json:"snr"`
	Payload     []byte  `json:"payload"`
	CRC         int     `json:"crc"`
}

// UDPSource listens on a local UDP socket and queues decoded frames for
// the next Receive call.
type UDPSource struct {
	conn  *net.UDPConn
	queue chan semtech.Uplink
}

// Listen opens a ghost UDP socket at addr (e.g. "127.0.0.1:1680"), the
// form spec.md's glossary entry for "Ghost packet" describes as "sourced
// from a local UDP endpoint".
func Listen(addr string) (*UDPSource, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("ghost: resolving %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("ghost: listening on %s: %w", addr, err)
	}
	return &UDPSource{conn: conn, queue: make(chan semtech.Uplink, 256)}, nil
}

// Run reads datagrams until the connection is closed, decoding and
// enqueueing each one. Meant to run in its own goroutine; Close unblocks it.
func (s *UDPSource) Run() {
	buf := make([]byte, 2048)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		frame, err := decode(buf[:n])
		if err != nil {
			log.Warningf("ghost: dropping malformed datagram: %v", err)
			continue
		}
		select {
		case s.queue <- frame:
		default:
			log.Warning("ghost: queue full, dropping frame")
		}
	}
}

// Receive implements Source.
func (s *UDPSource) Receive(max int) []semtech.Uplink {
	out := make([]semtech.Uplink, 0, max)
	for len(out) < max {
		select {
		case f := <-s.queue:
			out = append(out, f)
		default:
			return out
		}
	}
	return out
}

// Close shuts the listening socket down, unblocking Run.
func (s *UDPSource) Close() error {
	return s.conn.Close()
}

func decode(b []byte) (semtech.Uplink, error) {
	var w wireFrame
	if err := json.Unmarshal(b, &w); err != nil {
		return semtech.Uplink{}, err
	}
	crc, err := semtech.ParseCRCStatus(w.CRC)
	if err != nil {
		return semtech.Uplink{}, err
	}
	u := semtech.Uplink{
		CountUs:     w.CountUs,
		RFChain:     w.RFChain,
		FreqHz:      w.FreqHz,
		BandwidthHz: w.BandwidthHz,
		Coderate:    w.Coderate,
		RSSI:        w.RSSI,
		SNR:         w.SNR,
		Payload:     w.Payload,
		CRC:         crc,
	}
	switch w.Modulation {
	case string(semtech.ModLoRa):
		u.Modulation = semtech.ModLoRa
		u.DatarateLoRa = w.SF
	case string(semtech.ModFSK):
		u.Modulation = semtech.ModFSK
		u.DatarateFSK = w.FSKBps
	default:
		return semtech.Uplink{}, fmt.Errorf("ghost: unknown modulation %q", w.Modulation)
	}
	if u.CountUs == 0 {
		u.CountUs = uint32(time.Now().UnixMicro()) //nolint:gosec
	}
	return u, nil
}
