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

package ghost

import (
	"sync"

	"github.com/lora-gateway/pktfwd/semtech"
)

// Mock is a lock-protected in-memory Source for tests, playing the role a
// hand-rolled fake plays for phc.DeviceController in phc/pps_source_test.go.
type Mock struct {
	mu     sync.Mutex
	queued []semtech.Uplink
}

// NewMock returns an empty mock ghost source.
func NewMock() *Mock {
	return &Mock{}
}

// Enqueue makes frames available to the next Receive call, in order.
func (m *Mock) Enqueue(frames ...semtech.Uplink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, frames...)
}

// Receive implements Source.
func (m *Mock) Receive(max int) []semtech.Uplink {
	m.mu.Lock()
	defer m.mu.Unlock()
	if max > len(m.queued) {
		max = len(m.queued)
	}
	out := m.queued[:max]
	m.queued = m.queued[max:]
	return out
}
