package tcp

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// Dial connects to a pool server.
func Dial(addr string, timeout time.Duration) (*TcpConn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
	}
	return NewConn(conn), nil
}
