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
	"encoding/json"
	"fmt"
	"time"
)

// Modulation identifies the physical layer of an uplink or downlink frame.
type Modulation string

// Supported modulations.
const (
	ModLoRa Modulation = "LORA"
	ModFSK  Modulation = "FSK"
)

// CRCStatus is the CRC outcome of a received frame.
type CRCStatus int

// CRC outcomes, matching the stat field of the rxpk JSON schema (+1/-1/0).
const (
	CRCOK CRCStatus = iota
	CRCBad
	CRCNone
)

func (s CRCStatus) jsonStat() int {
	switch s {
	case CRCOK:
		return 1
	case CRCBad:
		return -1
	case CRCNone:
		return 0
	default:
		return 0
	}
}

// ParseCRCStatus maps the rxpk "stat" integer back to a CRCStatus. An
// unrecognized value returns an error so the caller can log and drop the
// packet, per spec.md's "unknown status is logged and dropped" rule.
func ParseCRCStatus(stat int) (CRCStatus, error) {
	switch stat {
	case 1:
		return CRCOK, nil
	case -1:
		return CRCBad, nil
	case 0:
		return CRCNone, nil
	default:
		return 0, fmt.Errorf("semtech: unknown CRC status %d", stat)
	}
}

// Uplink is a single radio or ghost-sourced received frame, as yielded by
// the concentrator HAL.
type Uplink struct {
	CountUs    uint32
	RFChain    uint8
	IFChain    uint8
	FreqHz     uint64
	Modulation Modulation
	// DatarateLoRa is the spreading factor (7..12) when Modulation is LoRa.
	DatarateLoRa uint8
	// DatarateFSK is the bitrate in bps when Modulation is FSK.
	DatarateFSK uint32
	BandwidthHz uint32
	Coderate    string
	RSSI        float64
	SNR         float64
	Payload     []byte
	CRC         CRCStatus
	// Channel is the logical concentrator channel the frame arrived on.
	Channel uint8
}

type rxpkJSON struct {
	Time *string     `json:"time,omitempty"`
	Tmst uint32      `json:"tmst"`
	Chan uint8       `json:"chan"`
	RFCh uint8       `json:"rfch"`
	Freq json.Number `json:"freq"`
	Stat int         `json:"stat"`
	Modu string      `json:"modu"`
	Datr string      `json:"datr"`
	Codr string      `json:"codr,omitempty"`
	Lsnr *json.Number `json:"lsnr,omitempty"`
	RSSI int         `json:"rssi"`
	Size int         `json:"size"`
	Data string      `json:"data"`
}

// datr renders the "datr" field: "SF{N}BW{125|250|500}" for LoRa, or the
// plain bitrate integer for FSK.
func (u Uplink) datr() string {
	if u.Modulation == ModLoRa {
		return fmt.Sprintf("SF%dBW%d", u.DatarateLoRa, u.BandwidthHz/1000)
	}
	return fmt.Sprintf("%d", u.DatarateFSK)
}

// ToJSON renders the rxpk JSON object for this uplink frame. utcTime, if
// non-zero, is formatted as the GPS-derived "time" field; otherwise the
// field is omitted (local-clock fallback is the caller's choice to make by
// passing the local time instead).
func (u Uplink) ToJSON(utcTime time.Time) (json.RawMessage, error) {
	j := rxpkJSON{
		Tmst: u.CountUs,
		Chan: u.Channel,
		RFCh: u.RFChain,
		Freq: json.Number(FreqMHzString(u.FreqHz)),
		Stat: u.CRC.jsonStat(),
		Modu: string(u.Modulation),
		Datr: u.datr(),
		Codr: u.Coderate,
		RSSI: int(u.RSSI),
		Size: len(u.Payload),
		Data: base64.StdEncoding.EncodeToString(u.Payload),
	}
	if u.Modulation == ModLoRa {
		lsnr := json.Number(fmt.Sprintf("%.1f", u.SNR))
		j.Lsnr = &lsnr
	}
	if !utcTime.IsZero() {
		s := utcTime.UTC().Format("2006-01-02T15:04:05.000000Z")
		j.Time = &s
	}
	return json.Marshal(j)
}

// FreqMHzString renders a frequency in Hz as MHz with 6 decimals, the
// formatting mandated for the "freq" field across the wire protocol.
func FreqMHzString(hz uint64) string {
	return fmt.Sprintf("%.6f", float64(hz)/1e6)
}
