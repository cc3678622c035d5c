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

package semtech

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/buger/jsonparser"
)

// TxMode selects how a TxDescriptor's transmission is scheduled.
type TxMode int

// Supported TX scheduling modes.
const (
	// TxImmediate sends as soon as the concentrator can.
	TxImmediate TxMode = iota
	// TxTimestamped sends when the concentrator's free-running counter
	// reaches CountUs.
	TxTimestamped
	// TxOnGPSTime sends at a UTC instant, converted to a concentrator
	// count via the current time reference before scheduling.
	TxOnGPSTime
	// TxOnGPSPPS is used by the beacon scheduler only: arm for the next
	// PPS edge.
	TxOnGPSPPS
)

// TxDescriptor is a fully-resolved downlink transmission request, ready to
// hand to the concentrator HAL's Send.
type TxDescriptor struct {
	Mode       TxMode
	CountUs    uint32
	UTCTime    time.Time
	FreqHz     uint64
	RFChain    uint8
	Modulation Modulation

	DatarateLoRa   uint8
	DatarateFSK    uint32
	BandwidthHz    uint32
	Coderate       string
	PreambleSymbs  uint16
	InvertPolarity bool
	NoCRC          bool
	// FreqDevKHz is the FSK frequency deviation in kHz: the wire protocol
	// carries "fdev" in Hz, converted here per spec.md section 3 ("fdev
	// (Hz->kHz)").
	FreqDevKHz uint32

	Power   uint8
	Payload []byte
}

// Supported LoRa bandwidths, Hz.
const (
	BW125kHz = 125000
	BW250kHz = 250000
	BW500kHz = 500000
)

// ParsePullResp extracts the txpk object out of a raw PULL_RESP datagram
// (header already stripped by the caller) using a streaming extraction
// instead of a full json.Unmarshal into an intermediate struct, mirroring
// how the original forwarder walks the cJSON token tree for a message
// received many times a second.
func ParsePullResp(body []byte) (TxDescriptor, error) {
	var tx TxDescriptor

	txpk, dataType, _, err := jsonparser.Get(body, "txpk")
	if err != nil || dataType != jsonparser.Object {
		return tx, fmt.Errorf("semtech: txpk object missing or malformed: %w", err)
	}

	imme, _ := jsonparser.GetBoolean(txpk, "imme")

	freq, err := jsonparser.GetFloat(txpk, "freq")
	if err != nil {
		return tx, fmt.Errorf("semtech: txpk.freq missing: %w", err)
	}
	tx.FreqHz = uint64(freq * 1e6)

	rfch, err := jsonparser.GetInt(txpk, "rfch")
	if err != nil {
		return tx, fmt.Errorf("semtech: txpk.rfch missing: %w", err)
	}
	tx.RFChain = uint8(rfch)

	modu, err := jsonparser.GetString(txpk, "modu")
	if err != nil {
		return tx, fmt.Errorf("semtech: txpk.modu missing: %w", err)
	}

	size, err := jsonparser.GetInt(txpk, "size")
	if err != nil {
		return tx, fmt.Errorf("semtech: txpk.size missing: %w", err)
	}

	data, err := jsonparser.GetString(txpk, "data")
	if err != nil {
		return tx, fmt.Errorf("semtech: txpk.data missing: %w", err)
	}
	payload, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return tx, fmt.Errorf("semtech: txpk.data is not valid base64: %w", err)
	}
	if int(size) != len(payload) {
		return tx, fmt.Errorf("semtech: txpk.size %d does not match decoded payload length %d", size, len(payload))
	}
	tx.Payload = payload

	if powe, err := jsonparser.GetInt(txpk, "powe"); err == nil {
		tx.Power = uint8(powe)
	}
	if ncrc, err := jsonparser.GetBoolean(txpk, "ncrc"); err == nil {
		tx.NoCRC = ncrc
	}
	tx.InvertPolarity, _ = jsonparser.GetBoolean(txpk, "ipol")

	switch modu {
	case string(ModLoRa):
		tx.Modulation = ModLoRa
		datr, err := jsonparser.GetString(txpk, "datr")
		if err != nil {
			return tx, fmt.Errorf("semtech: txpk.datr missing for LoRa: %w", err)
		}
		var sf, bw int
		if _, err := fmt.Sscanf(datr, "SF%dBW%d", &sf, &bw); err != nil {
			return tx, fmt.Errorf("semtech: cannot parse LoRa datr %q: %w", datr, err)
		}
		if sf < 7 || sf > 12 {
			return tx, fmt.Errorf("semtech: unsupported LoRa SF%d", sf)
		}
		tx.DatarateLoRa = uint8(sf)
		switch bw {
		case 125:
			tx.BandwidthHz = BW125kHz
		case 250:
			tx.BandwidthHz = BW250kHz
		case 500:
			tx.BandwidthHz = BW500kHz
		default:
			return tx, fmt.Errorf("semtech: unsupported LoRa bandwidth %dkHz", bw)
		}
		codr, err := jsonparser.GetString(txpk, "codr")
		if err != nil {
			return tx, fmt.Errorf("semtech: txpk.codr missing for LoRa: %w", err)
		}
		tx.Coderate = codr
		prea, err := jsonparser.GetInt(txpk, "prea")
		if err != nil || prea < 6 {
			prea = 8
		}
		tx.PreambleSymbs = uint16(prea)
	case string(ModFSK):
		tx.Modulation = ModFSK
		datr, err := jsonparser.GetInt(txpk, "datr")
		if err != nil {
			return tx, fmt.Errorf("semtech: txpk.datr missing for FSK: %w", err)
		}
		tx.DatarateFSK = uint32(datr)
		fdev, err := jsonparser.GetFloat(txpk, "fdev")
		if err != nil {
			return tx, fmt.Errorf("semtech: txpk.fdev missing for FSK: %w", err)
		}
		tx.FreqDevKHz = uint32(fdev / 1000)
		prea, err := jsonparser.GetInt(txpk, "prea")
		if err != nil || prea < 3 {
			prea = 4
		}
		tx.PreambleSymbs = uint16(prea)
	default:
		return tx, fmt.Errorf("semtech: unknown modulation %q", modu)
	}

	switch {
	case imme:
		tx.Mode = TxImmediate
	default:
		if tmst, err := jsonparser.GetInt(txpk, "tmst"); err == nil {
			tx.Mode = TxTimestamped
			tx.CountUs = uint32(tmst)
		} else if timeStr, err := jsonparser.GetString(txpk, "time"); err == nil {
			t, perr := time.Parse(time.RFC3339Nano, timeStr)
			if perr != nil {
				return tx, fmt.Errorf("semtech: txpk.time %q unparseable: %w", timeStr, perr)
			}
			tx.Mode = TxOnGPSTime
			tx.UTCTime = t
		} else {
			return tx, fmt.Errorf("semtech: txpk has neither imme, tmst nor time")
		}
	}

	return tx, nil
}
