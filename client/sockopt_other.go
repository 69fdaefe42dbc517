//go:build !linux

// File: client/sockopt_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import "net"

func tuneConn(conn net.Conn, noDelay bool) error {
	if tc, ok := conn.(*net.TCPConn); ok {
		return tc.SetNoDelay(noDelay)
	}
	return nil
}
