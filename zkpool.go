// Package zkpool holds the contracts shared by the transports and the pool
// applications, and the protocol version gate.
package zkpool

import (
	"context"
	"net"
	"time"

	"github.com/JellyTony/zkpool/protocol"
)

// Conn is a connection speaking the line-delimited protocol.
type Conn interface {
	net.Conn
	ReadMessage() (protocol.Message, error)
	WriteMessage(msg protocol.Message) error
}

// Upgrader turns an accepted socket into a Conn.
type Upgrader func(raw net.Conn) (Conn, error)

// Agent is the server side view of an accepted peer.
type Agent interface {
	ID() string
	RemoteAddr() string
	Push(msg protocol.Message) error
}

// Acceptor runs the handshake on a new connection and returns the channel id.
type Acceptor interface {
	Accept(conn Conn, timeout time.Duration) (string, error)
}

// MessageListener receives every message after the handshake.
type MessageListener interface {
	Receive(ag Agent, msg protocol.Message)
}

// StateListener is told when a channel goes away.
type StateListener interface {
	Disconnect(id string) error
}

type Server interface {
	SetAcceptor(Acceptor)
	SetMessageListener(MessageListener)
	SetStateListener(StateListener)
	Start() error
	Push(id string, msg protocol.Message) error
	Shutdown(ctx context.Context) error
}
