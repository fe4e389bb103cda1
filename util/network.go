package util

import (
	"net"
	"strconv"
)

// FormatAddr joins host and port, bracketing IPv6 literals.
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// FindFreePort asks the kernel for an unused loopback TCP port.  The
// port is released before returning, so a racing process may take it.
func FindFreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	return port, ln.Close()
}
