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

// Package beacon builds and transmits the GPS-synchronized class-B beacon
// described in spec.md section 4.8: a 17-byte LoRa frame carrying a NetID,
// the next PPS second, and the gateway's reference position, CRC-protected
// in two pieces. The byte layout (time at payload[3:7], CRC1 at payload[7])
// follows spec.md's description rather than the original forwarder's
// poly_pkt_fwd.c, whose downstream loop overwrites payload[9:13] with the
// time field on every arm — clobbering the latitude/longitude bytes it
// wrote once at startup. See DESIGN.md for this divergence.
package beacon

import (
	"fmt"
	"sync"
	"time"

	"github.com/lora-gateway/pktfwd/hal"
	"github.com/lora-gateway/pktfwd/semtech"
	"github.com/lora-gateway/pktfwd/xtal"
)

// NetID is the fixed 3-byte network identifier placed in every beacon.
const NetID uint32 = 0xC0FFEE

// Size is the fixed beacon payload length.
const Size = 17

// PollInterval and PollTimeout bound how long Send waits for the
// concentrator to report TX_FREE after a beacon transmission.
const (
	PollInterval = 50 * time.Millisecond
	PollTimeout  = 1500 * time.Millisecond
)

// Scheduler holds the beacon fields that are fixed for the lifetime of the
// process (NetID, reference position) and builds+transmits a fresh
// beacon each time it is armed.
type Scheduler struct {
	conc     hal.Concentrator
	concMu   *sync.Mutex
	freqHz   uint64
	latBytes [3]byte
	longBytes [3]byte
}

// New precomputes the position-derived fields, which the original
// forwarder also computes once outside its arming loop. concMu is the
// shared concentrator lock (spec.md section 5): Send acquires it only
// around each individual HAL call, releasing it for the poll's sleeps.
func New(conc hal.Concentrator, concMu *sync.Mutex, beaconFreqHz uint64, refLatDeg, refLongDeg float64) *Scheduler {
	s := &Scheduler{conc: conc, concMu: concMu, freqHz: beaconFreqHz}
	lat := scaleCoordinate(refLatDeg, 90.0)
	long := scaleCoordinate(refLongDeg, 180.0)
	putInt24(s.latBytes[:], lat)
	putInt24(s.longBytes[:], long)
	return s
}

// scaleCoordinate maps a degree value onto the signed 24-bit range the
// beacon uses, clamping to the representable extremes exactly as the
// original forwarder clamps latitude (so +90N reports as the maximum
// representable value rather than wrapping).
func scaleCoordinate(deg, span float64) int32 {
	scaled := int64((deg / span) * float64(int64(1)<<23))
	const maxV, minV = int64(0x007FFFFF), int64(-0x00800000)
	if scaled > maxV {
		scaled = maxV
	} else if scaled < minV {
		scaled = minV
	}
	return int32(scaled)
}

func putInt24(b []byte, v int32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

// Build assembles the 17-byte beacon payload for the upcoming PPS second.
func (s *Scheduler) Build(nextSecond int64) []byte {
	payload := make([]byte, Size)
	payload[0] = byte(NetID)
	payload[1] = byte(NetID >> 8)
	payload[2] = byte(NetID >> 16)

	t := uint32(nextSecond) //nolint:gosec
	payload[3] = byte(t)
	payload[4] = byte(t >> 8)
	payload[5] = byte(t >> 16)
	payload[6] = byte(t >> 24)
	payload[7] = semtech.CRC8CCITT(payload[0:7])

	payload[8] = 0 // info, always zero per spec.md's documented open question
	copy(payload[9:12], s.latBytes[:])
	copy(payload[12:15], s.longBytes[:])

	crc2 := semtech.CRC16CCITT(payload[8:15])
	payload[15] = byte(crc2)
	payload[16] = byte(crc2 >> 8)

	return payload
}

// Descriptor builds the fixed TX parameters spec.md section 4.8 mandates
// for the beacon frame, at the given corrected frequency.
func (s *Scheduler) Descriptor(payload []byte, freqHz uint64) semtech.TxDescriptor {
	return semtech.TxDescriptor{
		Mode:           semtech.TxOnGPSPPS,
		FreqHz:         freqHz,
		RFChain:        0,
		Modulation:     semtech.ModLoRa,
		DatarateLoRa:   9,
		BandwidthHz:    semtech.BW125kHz,
		Coderate:       "4/5",
		PreambleSymbs:  6,
		NoCRC:          true,
		InvertPolarity: true,
		Power:          14,
		Payload:        payload,
	}
}

// Send builds, transmits and confirms one beacon for utcSecondNow (the UTC
// second observed at arming time; the beacon itself targets the following
// second). freqHz is the already frequency-corrected TX frequency (the
// caller reads xtal.Correction under its own lock, per spec.md's rule that
// the XTAL lock and the concentrator lock are never nested).
//
// The concentrator lock is acquired only around the Send and each Status
// call, never across PollInterval's sleep, per spec.md section 5: "may be
// held across short waits only in the beacon status-poll loop (lock
// released between polls)".
func (s *Scheduler) Send(utcSecondNow int64, freqHz uint64) error {
	payload := s.Build(utcSecondNow + 1)
	tx := s.Descriptor(payload, freqHz)

	s.concMu.Lock()
	err := s.conc.Send(tx)
	s.concMu.Unlock()
	if err != nil {
		return fmt.Errorf("beacon: send: %w", err)
	}

	deadline := time.Now().Add(PollTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(PollInterval)

		s.concMu.Lock()
		status, err := s.conc.Status()
		s.concMu.Unlock()
		if err != nil {
			return fmt.Errorf("beacon: polling status: %w", err)
		}
		if status == hal.TxFree {
			return nil
		}
	}
	return fmt.Errorf("beacon: did not reach TX_FREE within %s", PollTimeout)
}

// CorrectedFrequency applies the current XTAL correction to the
// configured beacon frequency, rounding to the nearest Hz.
func CorrectedFrequency(xc *xtal.Correction, beaconFreqHz uint64) uint64 {
	return uint64(xc.Value()*float64(beaconFreqHz) + 0.5)
}

// ConfiguredFreqHz returns the beacon frequency this Scheduler was built
// with, before any XTAL correction is applied.
func (s *Scheduler) ConfiguredFreqHz() uint64 {
	return s.freqHz
}
