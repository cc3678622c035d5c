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

// Package timeref maintains the anchor that lets the forwarder translate
// between the concentrator's free-running microsecond counter and UTC, and
// the crystal-error estimate the beacon scheduler needs to correct its TX
// frequency (spec.md sections 3, 4.6, 4.7).
package timeref

import (
	"errors"
	"sync"
	"time"
)

// MaxAge is the staleness threshold: once now-systime exceeds this, the
// reference must be treated as stale by every consumer (spec.md section 3).
const MaxAge = 30 * time.Second

// Ref is a single PPS-anchored time reference snapshot.
type Ref struct {
	// SysTime is the local monotonic/wall clock reading captured when
	// this reference was produced.
	SysTime time.Time
	// UTC is the UTC second at the last PPS edge.
	UTC time.Time
	// CountUs is the concentrator counter value at that same PPS edge.
	CountUs uint32
	// XtalErr is the ratio of ideal to observed counter advance over the
	// last PPS interval, sampled for the XTAL validator.
	XtalErr float64
}

// ErrNoReference is returned by conversions when no GPS sync has happened yet.
var ErrNoReference = errors.New("timeref: no time reference established yet")

// Store is the lock-protected holder for the current Ref. The GPS worker
// is the sole writer; every other worker only ever reads a snapshot.
type Store struct {
	mu  sync.Mutex
	ref Ref
	set bool
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Sync installs a new reference, captured at a PPS edge. Matches the
// external gps_sync(time_ref, trig_cnt, utc) interface of spec.md section 6:
// on the first sync after start, xtalErr carries no meaningful history, so
// the caller passes 1.0 until a second PPS interval has elapsed.
func (s *Store) Sync(countUs uint32, utc time.Time, xtalErr float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ref = Ref{
		SysTime: time.Now(),
		UTC:     utc,
		CountUs: countUs,
		XtalErr: xtalErr,
	}
	s.set = true
}

// Snapshot copies the current reference out under lock, per spec.md's rule
// that the time reference may be consumed only while holding its lock, then
// copied into caller-local storage.
func (s *Store) Snapshot() (Ref, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ref, s.set
}

// Stale reports whether a snapshot is too old to trust, evaluated
// externally: the stored value is never mutated to express staleness.
func Stale(r Ref, now time.Time) bool {
	age := now.Sub(r.SysTime)
	return age < 0 || age > MaxAge
}

// CountToUTC converts a concentrator counter value to UTC using the given
// reference, handling 32-bit counter wraparound by taking the nearest
// occurrence to the reference's own UTC.
func CountToUTC(r Ref, count uint32) time.Time {
	delta := int64(count) - int64(r.CountUs)
	// count_us is a wrapping 32-bit counter; fold the difference into the
	// signed range so offsets near a wrap don't appear to jump by ~2^32.
	const wrap = int64(1) << 32
	if delta > wrap/2 {
		delta -= wrap
	} else if delta < -wrap/2 {
		delta += wrap
	}
	return r.UTC.Add(time.Duration(delta) * time.Microsecond)
}

// UTCToCount converts a UTC instant to the concentrator counter value it
// corresponds to, given the current reference.
func UTCToCount(r Ref, utc time.Time) uint32 {
	delta := utc.Sub(r.UTC).Microseconds()
	return uint32(int64(r.CountUs) + delta) //nolint:gosec
}
