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

package forwarder

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lora-gateway/pktfwd/config"
	"github.com/lora-gateway/pktfwd/hal"
)

func listenUDP(t *testing.T) (*net.UDPConn, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

func TestForwarderRunStopsOnContextCancel(t *testing.T) {
	_, upPort := listenUDP(t)
	_, downPort := listenUDP(t)

	cfg := &config.Config{
		DynamicConfig: config.DynamicConfig{
			FwdValidPkt:  true,
			StatInterval: time.Hour,
		},
		RadioEnabled: true,
		Servers: []config.ServerConfig{
			{
				Address:       "127.0.0.1",
				PortUp:        upPort,
				PortDown:      downPort,
				Enabled:       true,
				PullTimeoutMs: config.DefaultPullTimeoutMs,
				KeepaliveSec:  config.DefaultKeepaliveSec,
			},
		},
	}

	conc := hal.NewMock()
	f, err := New(cfg, conc)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = f.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, conc.StopCount())
}

func TestForwarderRunSkipsHardwareShutdownOnQuit(t *testing.T) {
	_, upPort := listenUDP(t)
	_, downPort := listenUDP(t)

	cfg := &config.Config{
		DynamicConfig: config.DynamicConfig{StatInterval: time.Hour},
		RadioEnabled:  true,
		Servers: []config.ServerConfig{
			{Address: "127.0.0.1", PortUp: upPort, PortDown: downPort, Enabled: true, PullTimeoutMs: config.DefaultPullTimeoutMs, KeepaliveSec: config.DefaultKeepaliveSec},
		},
	}

	conc := hal.NewMock()
	f, err := New(cfg, conc)
	require.NoError(t, err)
	f.RequestQuit()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, f.Run(ctx))
	require.Equal(t, 0, conc.StopCount())
}
