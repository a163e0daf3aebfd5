package connection

import (
	"fmt"
	"net"
)

// GetFreePort asks the kernel for a free TCP port on host (default
// "localhost") by binding port 0, reading the assigned port and closing the
// listener again. Nothing holds the port afterwards; a caller that binds it
// later may lose it to another process.
func GetFreePort(host string) (int, error) {
	if host == "" {
		host = "localhost"
	}
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("failed to resolve tcp address %q: %w", host, err)
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	defer l.Close()

	port := l.Addr().(*net.TCPAddr).Port
	if port == 0 {
		return 0, fmt.Errorf("kernel assigned port 0 unexpectedly")
	}
	return port, nil
}
