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

// Package dscp marks the upstream and downstream UDP sockets with a DSCP
// code point, the same sockopt dance sptp/client.enableDSCP does for its
// event sockets, so forwarder traffic can be prioritized by the network.
package dscp

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Set applies dscp (0-63) to conn's underlying file descriptor, choosing
// the IPv4 or IPv6 sockopt depending on conn's local address family.
func Set(conn *net.UDPConn, dscp int) error {
	sc, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("dscp: %w", err)
	}

	localAddr, _ := conn.LocalAddr().(*net.UDPAddr)
	var isV4 bool
	if localAddr != nil {
		isV4 = localAddr.IP.To4() != nil
	}

	var sockErr error
	err = sc.Control(func(fd uintptr) {
		if isV4 {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, dscp<<2)
		} else {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, dscp<<2)
		}
	})
	if err != nil {
		return fmt.Errorf("dscp: %w", err)
	}
	if sockErr != nil {
		return fmt.Errorf("dscp: setsockopt: %w", sockErr)
	}
	return nil
}
