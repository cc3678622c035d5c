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

package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsStartedInitiallyFalse(t *testing.T) {
	r := New(3)
	require.False(t, r.IsStarted(0))
	require.False(t, r.IsStarted(2))
}

func TestSetStartedWakesWaitStarted(t *testing.T) {
	r := New(2)
	done := make(chan struct{})
	go func() {
		r.WaitStarted(1)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitStarted returned before SetStarted")
	case <-time.After(20 * time.Millisecond):
	}

	r.SetStarted(1)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitStarted did not unblock")
	}
	require.True(t, r.IsStarted(1))
	require.False(t, r.IsStarted(0))
}

func TestWaitAnyStarted(t *testing.T) {
	r := New(3)
	done := make(chan struct{})
	go func() {
		r.WaitAnyStarted()
		close(done)
	}()

	r.SetStarted(2)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitAnyStarted did not unblock")
	}
}

func TestStartedServers(t *testing.T) {
	r := New(4)
	r.SetStarted(3)
	r.SetStarted(1)
	require.Equal(t, []int{1, 3}, r.StartedServers())
}
