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

package gps

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lora-gateway/pktfwd/hal"
	"github.com/lora-gateway/pktfwd/stats"
	"github.com/lora-gateway/pktfwd/timeref"
)

func newTestWorker(t *testing.T, beaconPeriod, beaconOffset time.Duration, onArm func(bool)) (*Worker, *hal.Mock) {
	t.Helper()
	mock := hal.NewMock()
	store := timeref.NewStore()
	pos := &stats.GPSPosition{}
	return &Worker{
		conc:         mock,
		concMu:       &sync.Mutex{},
		store:        store,
		pos:          pos,
		beaconPeriod: beaconPeriod,
		beaconOffset: beaconOffset,
		onBeaconArm:  onArm,
	}, mock
}

func TestHandleLineSyncsTimeref(t *testing.T) {
	w, mock := newTestWorker(t, 0, 0, nil)
	mock.TrigCntV = 500000

	w.handleLine("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A")

	ref, ok := w.store.Snapshot()
	require.True(t, ok)
	require.Equal(t, uint32(500000), ref.CountUs)
	require.Equal(t, 1994, ref.UTC.Year())

	lat, long, _, valid := w.pos.Get()
	require.True(t, valid)
	require.InDelta(t, 48.1173, lat, 1e-3)
	require.InDelta(t, 11.5167, long, 1e-3)
}

func TestHandleLineIgnoresVoidFix(t *testing.T) {
	w, _ := newTestWorker(t, 0, 0, nil)
	w.handleLine("$GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A")
	_, ok := w.store.Snapshot()
	require.False(t, ok)
}

func TestHandleLineArmsBeacon(t *testing.T) {
	var armed *bool
	// 1994-03-23 12:35:19 UTC is Unix 764426119; (764426119+1) % 128 == 8.
	w, _ := newTestWorker(t, 128*time.Second, 8*time.Second, func(a bool) { armed = &a })
	w.handleLine("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A")
	require.NotNil(t, armed)
	require.True(t, *armed)
}

func TestHandleLineSecondSyncEstimatesXtalErr(t *testing.T) {
	w, mock := newTestWorker(t, 0, 0, nil)
	mock.TrigCntV = 0
	w.handleLine("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A")

	mock.TrigCntV = 1_000_100 // counter runs 100us fast over the 1s interval
	w.handleLine("$GPRMC,123520,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A")

	ref, ok := w.store.Snapshot()
	require.True(t, ok)
	require.InDelta(t, 1_000_000.0/1_000_100.0, ref.XtalErr, 1e-6)
}
