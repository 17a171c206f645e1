package websocket

import (
	"context"
	"io"
	"net"
	"sync"

	zkpool "github.com/JellyTony/zkpool"
	"github.com/JellyTony/zkpool/protocol"
	"github.com/gobwas/ws"
	"github.com/pkg/errors"
)

// WsConn carries the line protocol inside websocket text frames. A frame may
// hold any number of lines; lines may also span frames.
type WsConn struct {
	net.Conn
	r      io.Reader
	client bool
	codec  *protocol.Codec
	err    error
	wmu    sync.Mutex
}

func NewConn(conn net.Conn, client bool) *WsConn {
	return &WsConn{Conn: conn, r: conn, client: client, codec: protocol.NewCodec()}
}

// Upgrade runs the server side handshake; it is a zkpool.Upgrader.
func Upgrade(raw net.Conn) (zkpool.Conn, error) {
	if _, err := ws.Upgrade(raw); err != nil {
		return nil, errors.Wrap(err, "websocket upgrade")
	}
	return NewConn(raw, false), nil
}

// Dial connects to a ws:// url.
func Dial(ctx context.Context, url string) (*WsConn, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	c := NewConn(conn, true)
	if br != nil {
		c.r = io.MultiReader(br, conn)
	}
	return c, nil
}

// ReadMessage returns the next message. A data frame that would push the
// buffered bytes past one maximal line is refused before its payload is read.
func (c *WsConn) ReadMessage() (protocol.Message, error) {
	if c.err != nil {
		return nil, c.err
	}
	for {
		msg, err := c.codec.Decode()
		if err != nil || msg != nil {
			return msg, err
		}
		h, err := ws.ReadHeader(c.r)
		if err != nil {
			return nil, err
		}
		limit := int64(protocol.MaxFrameLength + 1 - c.codec.Buffered())
		if h.OpCode.IsControl() {
			limit = ws.MaxControlFramePayloadSize
		}
		if h.Length < 0 || h.Length > limit {
			c.err = protocol.NewFramingError(protocol.ErrFrameTooLong)
			return nil, c.err
		}
		payload := make([]byte, int(h.Length))
		if _, err := io.ReadFull(c.r, payload); err != nil {
			return nil, err
		}
		if h.Masked {
			ws.Cipher(payload, h.Mask, 0)
		}
		switch h.OpCode {
		case ws.OpClose:
			return nil, io.EOF
		case ws.OpPing:
			if err := c.writeFrame(ws.NewPongFrame(payload)); err != nil {
				return nil, err
			}
		case ws.OpText, ws.OpBinary, ws.OpContinuation:
			c.codec.Feed(payload)
		}
	}
}

func (c *WsConn) WriteMessage(msg protocol.Message) error {
	b, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return c.writeFrame(ws.NewTextFrame(b))
}

func (c *WsConn) writeFrame(f ws.Frame) error {
	if c.client {
		f = ws.MaskFrameInPlace(f)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return ws.WriteFrame(c.Conn, f)
}
