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

// Package xtal maintains the low-pass filtered crystal-frequency
// correction the beacon scheduler applies to its TX frequency, and the
// one-second validation tick that keeps it honest against the GPS time
// reference (spec.md section 4.7). It plays the role facebook/time's
// servo package plays for PTP hardware clocks, but the required filter is
// a plain single-pole IIR on the reciprocal error rather than a PI servo —
// see DESIGN.md for why the servo package wasn't reused here.
package xtal

import (
	"sync"
	"time"

	"github.com/lora-gateway/pktfwd/timeref"
)

// InitSamples is the number of xtal_err samples averaged to seed the
// correction (spec.md: K=128).
const InitSamples = 128

// FilterLength is the IIR time constant M used once initialized.
const FilterLength = 256

// Correction holds the current crystal correction factor and validity.
type Correction struct {
	mu sync.Mutex

	valid       bool
	value       float64
	initialized bool
	count       int
	accum       float64
}

// New returns an invalid, uninitialized correction, matching the forwarder's
// state before its first valid PPS interval.
func New() *Correction {
	return &Correction{value: 1.0}
}

// Valid reports whether the correction may currently be trusted.
func (c *Correction) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid
}

// Value returns the current correction factor (1.0 until initialized).
func (c *Correction) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// invalidate resets the correction to its startup state. Caller must hold the lock.
func (c *Correction) invalidateLocked() {
	c.valid = false
	c.value = 1.0
	c.initialized = false
	c.count = 0
	c.accum = 0
}

// Tick runs one second's worth of validation against the current time
// reference and, if valid, folds a fresh xtal_err sample into the filter.
// It is meant to be called once a second from a dedicated goroutine.
func (c *Correction) Tick(ref timeref.Ref, refSet bool, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !refSet || timeref.Stale(ref, now) {
		c.invalidateLocked()
		return
	}

	if ref.XtalErr == 0 {
		// A zero xtal_err is not a usable sample.
		return
	}

	if !c.initialized {
		// Init phase accumulates the raw xtal_err samples; the seed
		// correction is 128 / sum(xtal_err), per spec. The correction
		// becomes valid only once it has been seeded.
		c.accum += ref.XtalErr
		c.count++
		if c.count >= InitSamples {
			c.value = float64(InitSamples) / c.accum
			c.initialized = true
			c.valid = true
		}
		return
	}

	// Steady state runs a single-pole IIR over the reciprocal error.
	inv := 1.0 / ref.XtalErr
	c.value = c.value - c.value/FilterLength + inv/FilterLength
}
