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

// Package hal defines the opaque interface to the LoRa concentrator
// driver. The concentrator itself (board/channel setup, register access)
// is out of scope for this module; hal names the operations the core
// forwarding engine depends on, matching spec.md section 6.
package hal

import (
	"errors"

	"github.com/lora-gateway/pktfwd/semtech"
)

// TxStatus is the state of the concentrator's transmit chain, as returned
// by Concentrator.Status.
type TxStatus int

// TX status values.
const (
	TxOff TxStatus = iota
	TxFree
	TxScheduled
	TxEmitting
	TxStatusUnknown
)

func (s TxStatus) String() string {
	switch s {
	case TxOff:
		return "TX_OFF"
	case TxFree:
		return "TX_FREE"
	case TxScheduled:
		return "TX_SCHEDULED"
	case TxEmitting:
		return "TX_EMITTING"
	default:
		return "TX_STATUS_UNKNOWN"
	}
}

// ResetSentinel is the trigger-count value the original forwarder treats
// as proof of an unintended concentrator reset (spec.md section 4.5 / 6).
const ResetSentinel uint32 = 0x7E000000

// ErrHardware marks a fatal concentrator error that must terminate the
// forwarder process per spec.md's error taxonomy.
var ErrHardware = errors.New("hal: concentrator hardware error")

// Concentrator is the subset of the SX1301 driver's operations the core
// forwarding engine relies on. Setup-only operations (board/rxrf/rxif/
// txgain configuration) are intentionally not part of this interface:
// they run once before Start and are not part of the concurrent core.
type Concentrator interface {
	// Start powers up and arms the concentrator for receive.
	Start() error
	// Stop tears the concentrator down. Safe to call after Start failed.
	Stop() error
	// Receive returns up to max frames already buffered by the
	// concentrator. An empty, nil-error result means "nothing pending".
	Receive(max int) ([]semtech.Uplink, error)
	// Send schedules a downlink transmission.
	Send(tx semtech.TxDescriptor) error
	// Status reports the current state of the transmit chain.
	Status() (TxStatus, error)
	// TrigCnt returns the concentrator's free-running microsecond
	// counter, captured at the most recent PPS edge.
	TrigCnt() (uint32, error)
}
