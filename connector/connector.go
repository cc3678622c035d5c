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

// Package connector resolves and maintains the two single-peer UDP sockets
// (upstream, downstream) each configured server needs, and marks the
// server STARTED in the registry once both are up (spec.md section 4.2).
// It plays the retry-forever role backoff.go plays for sptp's GM
// candidates, but unconditionally: DNS/routing outages here must be
// tolerated indefinitely, not just backed off.
package connector

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lora-gateway/pktfwd/config"
	"github.com/lora-gateway/pktfwd/dscp"
	"github.com/lora-gateway/pktfwd/registry"
)

// RetryBackoff is the fixed delay between connection attempts. spec.md's
// open questions flag the absence of jitter/exponential growth here as a
// known, intentionally unchanged property of the source design.
const RetryBackoff = 5 * time.Second

// DSCPValue is the DSCP code point applied to both sockets once connected.
// The original forwarder does not mark its sockets; this is a domain-stack
// addition exercising golang.org/x/sys/unix the way sptp's event sockets do.
const DSCPValue = 46

// Connector owns one server's upstream and downstream sockets, redialing
// both whenever a consumer reports a failure via Fail.
type Connector struct {
	idx    int
	server config.ServerConfig
	reg    *registry.Registry

	mu      sync.Mutex
	up      *net.UDPConn
	down    *net.UDPConn
	failCh  chan struct{}
}

// New creates a Connector for configured server idx.
func New(idx int, server config.ServerConfig, reg *registry.Registry) *Connector {
	return &Connector{idx: idx, server: server, reg: reg, failCh: make(chan struct{}, 1)}
}

// Fail tears down the current sockets and requests a reconnect. Safe to
// call from any goroutine; idempotent while a reconnect is already pending.
func (c *Connector) Fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	select {
	case c.failCh <- struct{}{}:
	default:
	}
}

func (c *Connector) closeLocked() {
	if c.up != nil {
		c.up.Close()
		c.up = nil
	}
	if c.down != nil {
		c.down.Close()
		c.down = nil
	}
}

// Up returns the current upstream socket, or nil if not connected.
func (c *Connector) Up() *net.UDPConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.up
}

// Down returns the current downstream socket, or nil if not connected.
func (c *Connector) Down() *net.UDPConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.down
}

// PushTimeout returns this server's configured push_timeout_ms, the
// receive timeout C4 applies (halved) while polling for a PUSH_ACK
// (spec.md section 4.2/4.3).
func (c *Connector) PushTimeout() time.Duration {
	return time.Duration(c.server.PushTimeoutMs) * time.Millisecond
}

// Run dials both sockets, retrying every RetryBackoff until it succeeds,
// marks the server STARTED, then waits for either ctx cancellation or a
// reported failure, in which case it redials. It returns only when ctx is
// done.
func (c *Connector) Run(ctx context.Context) {
	for {
		if err := ctx.Err(); err != nil {
			return
		}
		if !c.connectOnce(ctx) {
			return
		}
		c.reg.SetStarted(c.idx)
		log.Infof("connector[%d]: connected to %s (up %d, down %d)", c.idx, c.server.Address, c.server.PortUp, c.server.PortDown)

		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.closeLocked()
			c.mu.Unlock()
			return
		case <-c.failCh:
			log.Warningf("connector[%d]: reconnecting to %s", c.idx, c.server.Address)
		}
	}
}

// connectOnce blocks, retrying with RetryBackoff, until both sockets are
// dialed or ctx is cancelled. Returns false iff ctx was cancelled first.
func (c *Connector) connectOnce(ctx context.Context) bool {
	for {
		up, down, err := dialPair(c.server)
		if err == nil {
			c.mu.Lock()
			c.up, c.down = up, down
			c.mu.Unlock()
			return true
		}
		log.Warningf("connector[%d]: %v, retrying in %s", c.idx, err, RetryBackoff)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(RetryBackoff):
		}
	}
}

func dialPair(server config.ServerConfig) (up, down *net.UDPConn, err error) {
	up, err = dial(server.Address, server.PortUp)
	if err != nil {
		return nil, nil, fmt.Errorf("connector: upstream socket: %w", err)
	}
	down, err = dial(server.Address, server.PortDown)
	if err != nil {
		up.Close()
		return nil, nil, fmt.Errorf("connector: downstream socket: %w", err)
	}
	if err := dscp.Set(up, DSCPValue); err != nil {
		log.Warningf("connector: %v", err)
	}
	if err := dscp.Set(down, DSCPValue); err != nil {
		log.Warningf("connector: %v", err)
	}
	return up, down, nil
}

func dial(host string, port int) (*net.UDPConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("resolving %s:%d: %w", host, port, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s:%d: %w", host, port, err)
	}
	return conn, nil
}
