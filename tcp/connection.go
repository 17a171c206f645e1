package tcp

import (
	"net"
	"sync"

	zkpool "github.com/JellyTony/zkpool"
	"github.com/JellyTony/zkpool/protocol"
	"github.com/pkg/errors"
)

// TcpConn reads and writes newline framed messages on a socket. Reads belong
// to one goroutine; writes are serialized.
type TcpConn struct {
	net.Conn
	dec *protocol.Decoder
	wmu sync.Mutex
}

// NewConn NewConn
func NewConn(conn net.Conn) *TcpConn {
	return &TcpConn{
		Conn: conn,
		dec:  protocol.NewDecoder(conn),
	}
}

// Upgrade is the zkpool.Upgrader for plain TCP.
func Upgrade(raw net.Conn) (zkpool.Conn, error) {
	return NewConn(raw), nil
}

// ReadMessage ReadMessage
func (c *TcpConn) ReadMessage() (protocol.Message, error) {
	return c.dec.Decode()
}

// WriteMessage WriteMessage
func (c *TcpConn) WriteMessage(msg protocol.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return WriteMessage(c.Conn, msg)
}

// WriteMessage frames msg and writes it to conn.
func WriteMessage(conn net.Conn, msg protocol.Message) error {
	b, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if _, err := conn.Write(b); err != nil {
		return errors.Wrapf(err, "write %s", msg.Name())
	}
	return nil
}
