package proxy

import (
	"fmt"
	"net"
	"time"
)

// dialUpstream connects to the real TCP server. The relayed traffic is
// latency-sensitive and unbuffered, so Nagle is disabled on the new socket.
func dialUpstream(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial upstream %s: %w", addr, err)
	}
	setNoDelay(conn)
	return conn, nil
}

func setNoDelay(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}
