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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePullRespTimestamped(t *testing.T) {
	body := []byte(`{"txpk":{"modu":"LORA","datr":"SF7BW125","codr":"4/5","freq":868.1,"rfch":0,"size":3,"data":"AP8Q","tmst":123456}}`)
	tx, err := ParsePullResp(body)
	require.NoError(t, err)
	require.Equal(t, TxTimestamped, tx.Mode)
	require.Equal(t, uint32(123456), tx.CountUs)
	require.Equal(t, uint64(868100000), tx.FreqHz)
	require.Equal(t, uint8(7), tx.DatarateLoRa)
	require.Equal(t, uint32(BW125kHz), tx.BandwidthHz)
	require.Equal(t, 3, len(tx.Payload))
}

func TestParsePullRespImmediateFSK(t *testing.T) {
	body := []byte(`{"txpk":{"imme":true,"modu":"FSK","freq":868.3,"rfch":0,"size":4,"data":"AQIDBA==","datr":50000,"fdev":25000}}`)
	tx, err := ParsePullResp(body)
	require.NoError(t, err)
	require.Equal(t, TxImmediate, tx.Mode)
	require.Equal(t, ModFSK, tx.Modulation)
	require.Equal(t, uint32(50000), tx.DatarateFSK)
	require.Equal(t, uint32(25), tx.FreqDevKHz)
	require.Equal(t, []byte{1, 2, 3, 4}, tx.Payload)
}

func TestParsePullRespOnGPSTime(t *testing.T) {
	body := []byte(`{"txpk":{"modu":"LORA","datr":"SF9BW500","codr":"4/5","freq":869.525,"rfch":0,"size":2,"data":"AQI=","time":"2026-07-31T12:00:00.500000Z"}}`)
	tx, err := ParsePullResp(body)
	require.NoError(t, err)
	require.Equal(t, TxOnGPSTime, tx.Mode)
	require.False(t, tx.UTCTime.IsZero())
}

func TestParsePullRespBadSizeMismatch(t *testing.T) {
	body := []byte(`{"txpk":{"modu":"LORA","datr":"SF7BW125","codr":"4/5","freq":868.1,"rfch":0,"size":99,"data":"AP8Q","tmst":1}}`)
	_, err := ParsePullResp(body)
	require.Error(t, err)
}

func TestParsePullRespUnknownModulation(t *testing.T) {
	body := []byte(`{"txpk":{"modu":"BOGUS","freq":868.1,"rfch":0,"size":1,"data":"AA==","tmst":1}}`)
	_, err := ParsePullResp(body)
	require.Error(t, err)
}

func TestParsePullRespMissingTxpk(t *testing.T) {
	_, err := ParsePullResp([]byte(`{}`))
	require.Error(t, err)
}

func TestParsePullRespDefaultsPreamble(t *testing.T) {
	body := []byte(`{"txpk":{"modu":"LORA","datr":"SF7BW125","codr":"4/5","freq":868.1,"rfch":0,"size":1,"data":"AA==","tmst":1}}`)
	tx, err := ParsePullResp(body)
	require.NoError(t, err)
	require.Equal(t, uint16(8), tx.PreambleSymbs)
}
