package tcp

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	zkpool "github.com/JellyTony/zkpool"
	"github.com/JellyTony/zkpool/logger"
	"github.com/JellyTony/zkpool/protocol"
)

var ErrChannelNotFound = errors.New("channel not found")

var _ zkpool.Server = (*Server)(nil)

type ServerOptions struct {
	// AcceptTimeout bounds the handshake.
	AcceptTimeout time.Duration
	// Upgrade wraps accepted sockets, plain TCP by default.
	Upgrade zkpool.Upgrader
}

// Server accepts peers, runs the handshake through the Acceptor and then
// hands every decoded message to the MessageListener.
type Server struct {
	addr     string
	opts     ServerOptions
	acceptor zkpool.Acceptor
	listener zkpool.MessageListener
	state    zkpool.StateListener

	mu       sync.RWMutex
	ln       net.Listener
	channels map[string]*channel
	quit     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func NewServer(addr string, opts ServerOptions) *Server {
	if opts.AcceptTimeout <= 0 {
		opts.AcceptTimeout = 10 * time.Second
	}
	if opts.Upgrade == nil {
		opts.Upgrade = Upgrade
	}
	return &Server{
		addr:     addr,
		opts:     opts,
		channels: make(map[string]*channel),
		quit:     make(chan struct{}),
	}
}

func (s *Server) SetAcceptor(a zkpool.Acceptor)               { s.acceptor = a }
func (s *Server) SetMessageListener(l zkpool.MessageListener) { s.listener = l }
func (s *Server) SetStateListener(l zkpool.StateListener)     { s.state = l }

// Listen binds the address. Start calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	if s.acceptor == nil || s.listener == nil {
		return errors.New("tcp: acceptor and message listener are required")
	}
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.RLock()
	ln := s.ln
	s.mu.RUnlock()
	logger.WithFields(logger.Fields{"module": "tcp.server", "addr": ln.Addr().String()}).Info("started")
	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.WithFields(logger.Fields{"module": "tcp.server"}).WithError(err).Warn("accept failed")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(raw)
		}()
	}
}

func (s *Server) serve(raw net.Conn) {
	remote := raw.RemoteAddr().String()
	// the deadline also bounds the websocket upgrade handshake
	_ = raw.SetDeadline(time.Now().Add(s.opts.AcceptTimeout))
	conn, err := s.opts.Upgrade(raw)
	if err != nil {
		logger.WithFields(logger.Fields{"module": "tcp.server", "remote": remote}).WithError(err).Warn("upgrade failed")
		_ = raw.Close()
		return
	}
	id, err := s.acceptor.Accept(conn, s.opts.AcceptTimeout)
	if err != nil {
		_ = conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})
	ch := &channel{id: id, conn: conn}
	if !s.register(ch) {
		_ = conn.Close()
		return
	}
	defer s.unregister(id)

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if protocol.IsShape(err) {
				logger.WithFields(logger.Fields{"module": "tcp.server", "channel_id": id, "error": err}).Warn("malformed frame dropped")
				if resp, ok := protocol.ErrorResponse(err); ok {
					_ = ch.Push(resp)
				}
				continue
			}
			logger.WithFields(logger.Fields{"module": "tcp.server", "channel_id": id, "error": err}).Info("connection closed")
			return
		}
		s.listener.Receive(ch, msg)
	}
}

func (s *Server) register(ch *channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.quit:
		return false
	default:
	}
	s.channels[ch.id] = ch
	return true
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	ch, ok := s.channels[id]
	delete(s.channels, id)
	s.mu.Unlock()
	if ok {
		_ = ch.conn.Close()
	}
	if s.state != nil {
		_ = s.state.Disconnect(id)
	}
}

// Push writes msg to one channel.
func (s *Server) Push(id string, msg protocol.Message) error {
	s.mu.RLock()
	ch, ok := s.channels[id]
	s.mu.RUnlock()
	if !ok {
		return ErrChannelNotFound
	}
	return ch.Push(msg)
}

// Shutdown stops accepting, closes every channel and waits for the
// connection goroutines until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.once.Do(func() {
		close(s.quit)
		s.mu.Lock()
		if s.ln != nil {
			_ = s.ln.Close()
		}
		for _, ch := range s.channels {
			_ = ch.conn.Close()
		}
		s.mu.Unlock()
	})
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type channel struct {
	id   string
	conn zkpool.Conn
}

func (c *channel) ID() string { return c.id }

func (c *channel) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *channel) Push(msg protocol.Message) error { return c.conn.WriteMessage(msg) }
