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

package connector

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lora-gateway/pktfwd/config"
	"github.com/lora-gateway/pktfwd/registry"
)

func listen(t *testing.T) (*net.UDPConn, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

func TestConnectorStartsServer(t *testing.T) {
	_, upPort := listen(t)
	_, downPort := listen(t)

	reg := registry.New(1)
	c := New(0, config.ServerConfig{Address: "127.0.0.1", PortUp: upPort, PortDown: downPort}, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	reg.WaitStarted(0)
	require.NotNil(t, c.Up())
	require.NotNil(t, c.Down())
}

func TestConnectorReconnectsOnFailure(t *testing.T) {
	_, upPort := listen(t)
	_, downPort := listen(t)

	reg := registry.New(1)
	c := New(0, config.ServerConfig{Address: "127.0.0.1", PortUp: upPort, PortDown: downPort}, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	reg.WaitStarted(0)

	first := c.Up()
	c.Fail()

	require.Eventually(t, func() bool {
		cur := c.Up()
		return cur != nil && cur != first
	}, time.Second, time.Millisecond)
}
