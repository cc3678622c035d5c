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

package xtal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lora-gateway/pktfwd/timeref"
)

func TestNewIsInvalid(t *testing.T) {
	c := New()
	require.False(t, c.Valid())
	require.Equal(t, 1.0, c.Value())
}

func TestTickInvalidatesOnStaleOrMissingRef(t *testing.T) {
	c := New()
	now := time.Now()
	c.Tick(timeref.Ref{}, false, now)
	require.False(t, c.Valid())

	stale := timeref.Ref{SysTime: now.Add(-40 * time.Second), XtalErr: 1.0}
	c.Tick(stale, true, now)
	require.False(t, c.Valid())
}

func TestTickInitializesAfter128Samples(t *testing.T) {
	c := New()
	now := time.Now()
	ref := timeref.Ref{SysTime: now, XtalErr: 1.0}

	for i := 0; i < InitSamples; i++ {
		c.Tick(ref, true, now)
	}

	require.True(t, c.Valid())
	require.InDelta(t, 1.0, c.Value(), 1e-9)
}

func TestTickSteadyStateIIR(t *testing.T) {
	c := New()
	now := time.Now()
	ref := timeref.Ref{SysTime: now, XtalErr: 1.0}
	for i := 0; i < InitSamples; i++ {
		c.Tick(ref, true, now)
	}

	// A single off-nominal sample should nudge the correction away from
	// 1.0 but not by the full 1/err step (it's filtered over M=256).
	off := timeref.Ref{SysTime: now, XtalErr: 1.1}
	c.Tick(off, true, now)
	require.NotEqual(t, 1.0, c.Value())
	require.InDelta(t, 1.0, c.Value(), 0.01)
}

func TestTickInvalidationResetsInitProgress(t *testing.T) {
	c := New()
	now := time.Now()
	ref := timeref.Ref{SysTime: now, XtalErr: 1.0}
	// One sample short of completing initialization.
	for i := 0; i < InitSamples-1; i++ {
		c.Tick(ref, true, now)
	}

	c.Tick(timeref.Ref{}, false, now) // invalidate: resets the accumulator

	// A single additional sample must not complete initialization, since
	// the accumulator was reset rather than merely paused.
	c.Tick(ref, true, now)
	require.Equal(t, 1.0, c.Value())
}
