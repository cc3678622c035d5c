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
	"encoding/json"
	"fmt"
	"time"
)

// StatusReport is the periodic status snapshot attached to PUSH_DATA, per
// spec.md section 4.5. GPS position fields are omitted when GPS is
// disabled or the last fix is invalid.
type StatusReport struct {
	Time time.Time

	HasGPS       bool
	LatitudeDeg  float64
	LongitudeDeg float64
	AltitudeM    int

	RxNb    uint32 // number of radio packets received
	RxOK    uint32 // number of those that passed CRC
	RxBad   uint32 // number of those that failed CRC
	RxNoCRC uint32 // number of those with no CRC check performed
	RxFw    uint32 // number that passed the forward policy
	DwNb    uint32 // number of PULL_RESP datagrams accepted for transmission
	TxNb    uint32 // number of packets actually transmitted

	// AckRatioPct is the percentage of PUSH_DATA datagrams that were
	// acknowledged; Fragment renders it with one decimal.
	AckRatioPct float64

	Platform    string
	Email       string
	Description string
}

type statusJSON struct {
	Time string       `json:"time"`
	Lati *json.Number `json:"lati,omitempty"`
	Long *json.Number `json:"long,omitempty"`
	Alti *int         `json:"alti,omitempty"`
	RxNb    uint32     `json:"rxnb"`
	RxOK    uint32     `json:"rxok"`
	RxBad   uint32     `json:"rxbad,omitempty"`
	RxNoCRC uint32     `json:"rxnocrc,omitempty"`
	RxFw    uint32     `json:"rxfw"`
	Ackr    json.Number `json:"ackr"`
	DwNb uint32        `json:"dwnb"`
	TxNb uint32        `json:"txnb"`
	Pfrm string        `json:"pfrm"`
	Mail string        `json:"mail"`
	Desc string        `json:"desc"`
}

// Fragment renders the `"stat":{...}` body that the upstream fanout
// attaches to the rxpk array when a report is pending.
func (r StatusReport) Fragment() (json.RawMessage, error) {
	j := statusJSON{
		Time:    r.Time.UTC().Format("2006-01-02 15:04:05 GMT"),
		RxNb:    r.RxNb,
		RxOK:    r.RxOK,
		RxBad:   r.RxBad,
		RxNoCRC: r.RxNoCRC,
		RxFw:    r.RxFw,
		Ackr:    json.Number(fmt.Sprintf("%.1f", r.AckRatioPct)),
		DwNb:    r.DwNb,
		TxNb:    r.TxNb,
		Pfrm:    r.Platform,
		Mail:    r.Email,
		Desc:    r.Description,
	}
	if r.HasGPS {
		lat := json.Number(fmt.Sprintf("%.5f", r.LatitudeDeg))
		long := json.Number(fmt.Sprintf("%.5f", r.LongitudeDeg))
		alt := r.AltitudeM
		j.Lati = &lat
		j.Long = &long
		j.Alti = &alt
	}
	return json.Marshal(j)
}
