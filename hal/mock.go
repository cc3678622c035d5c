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

package hal

import (
	"sync"

	"github.com/lora-gateway/pktfwd/semtech"
)

// Mock is a minimal, lock-protected Concentrator test double, the way
// phc.DeviceController is faked by hand in phc/pps_source_test.go rather
// than through a generated mock package.
type Mock struct {
	mu sync.Mutex

	Queued    []semtech.Uplink
	Sent      []semtech.TxDescriptor
	TrigCntV  uint32
	StatusV   TxStatus
	RecvErr   error
	SendErr   error
	StatusErr error
	TrigErr   error
	StopErr   error

	stopCount int
}

// NewMock returns an idle mock concentrator.
func NewMock() *Mock {
	return &Mock{StatusV: TxFree}
}

// Start implements Concentrator.
func (m *Mock) Start() error { return nil }

// Stop implements Concentrator.
func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCount++
	return m.StopErr
}

// StopCount returns the number of Stop calls so far.
func (m *Mock) StopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCount
}

// Enqueue makes frames available to the next Receive call, in order.
func (m *Mock) Enqueue(frames ...semtech.Uplink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queued = append(m.Queued, frames...)
}

// Receive implements Concentrator.
func (m *Mock) Receive(max int) ([]semtech.Uplink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecvErr != nil {
		return nil, m.RecvErr
	}
	if max > len(m.Queued) {
		max = len(m.Queued)
	}
	out := m.Queued[:max]
	m.Queued = m.Queued[max:]
	return out, nil
}

// Send implements Concentrator.
func (m *Mock) Send(tx semtech.TxDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Sent = append(m.Sent, tx)
	return nil
}

// Status implements Concentrator.
func (m *Mock) Status() (TxStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StatusV, m.StatusErr
}

// TrigCnt implements Concentrator.
func (m *Mock) TrigCnt() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.TrigCntV, m.TrigErr
}

// SentCount returns the number of accepted Send calls so far.
func (m *Mock) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}
