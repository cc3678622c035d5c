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

func TestCRC8CCITTEmpty(t *testing.T) {
	require.Equal(t, uint8(0xFF), CRC8CCITT(nil))
}

func TestCRC16CCITTEmpty(t *testing.T) {
	require.Equal(t, uint16(0xFFFF), CRC16CCITT(nil))
}

func TestCRC8CCITTDeterministic(t *testing.T) {
	data := []byte{0xC0, 0xFF, 0xEE, 0x01, 0x02, 0x03, 0x04}
	a := CRC8CCITT(data)
	b := CRC8CCITT(data)
	require.Equal(t, a, b)
}

func TestCRC16CCITTDeterministic(t *testing.T) {
	data := []byte{0x00, 0x10, 0x20, 0x30, 0x40, 0x50, 0x60}
	a := CRC16CCITT(data)
	b := CRC16CCITT(data)
	require.Equal(t, a, b)
}
