package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	zkpool "github.com/JellyTony/zkpool"
	"github.com/JellyTony/zkpool/logger"
	"github.com/JellyTony/zkpool/protocol"
	"github.com/JellyTony/zkpool/speed"
	"github.com/JellyTony/zkpool/tcp"
	"github.com/JellyTony/zkpool/websocket"
	"golang.org/x/crypto/sha3"
)

type Options struct {
	Addr string
	// Transport is "tcp" or "ws".
	Transport string
	Account   string
	Worker    string
	Password  string
	Version   string
	// SessionID resumes an earlier session when set.
	SessionID     string
	Timeout       time.Duration
	SpeedInterval time.Duration
}

// Client is a reference miner: it subscribes, authorizes, answers every job
// with one solution and reports its speed periodically.
type Client struct {
	opts      Options
	conn      zkpool.Conn
	sessionID string
	nextID    atomic.Uint64
	solved    atomic.Uint64
	accepted  atomic.Uint64
	rejected  atomic.Uint64
	started   time.Time
	// ids of submits still waiting for an answer, owned by Run
	pending map[protocol.RequestID]struct{}
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.SpeedInterval <= 0 {
		opts.SpeedInterval = 30 * time.Second
	}
	if opts.Version == "" {
		opts.Version = zkpool.DefaultVersion
	}
	return &Client{opts: opts, pending: make(map[protocol.RequestID]struct{})}
}

// Connect dials the pool and runs the handshake.
func (c *Client) Connect(ctx context.Context) error {
	var conn zkpool.Conn
	var err error
	switch c.opts.Transport {
	case "ws":
		dctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		conn, err = websocket.Dial(dctx, "ws://"+c.opts.Addr+"/")
		cancel()
	case "", "tcp":
		conn, err = tcp.Dial(c.opts.Addr, c.opts.Timeout)
	default:
		return fmt.Errorf("unknown transport %q", c.opts.Transport)
	}
	if err != nil {
		return err
	}
	c.conn = conn
	if err := c.handshake(); err != nil {
		_ = conn.Close()
		return err
	}
	c.started = time.Now()
	return nil
}

func (c *Client) handshake() error {
	_ = c.conn.SetDeadline(time.Now().Add(c.opts.Timeout))
	defer c.conn.SetDeadline(time.Time{})

	sub := protocol.Subscribe{ID: c.id(), UserAgent: zkpool.UserAgent("Miner"), ProtocolVersion: c.opts.Version}
	if c.opts.SessionID != "" {
		sub.SessionID = protocol.StringPtr(c.opts.SessionID)
	}
	resp, err := c.call(sub, sub.ID)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	items := resp.Result.Items()
	if len(items) == 0 {
		return errors.New("subscribe: missing session id")
	}
	sid, ok := items[0].Str()
	if !ok {
		return errors.New("subscribe: session id is not a string")
	}
	c.sessionID = sid

	auth := protocol.Authorize{ID: c.id(), AccountName: c.opts.Account, WorkerName: c.opts.Worker}
	if c.opts.Password != "" {
		auth.WorkerPassword = protocol.StringPtr(c.opts.Password)
	}
	if _, err := c.call(auth, auth.ID); err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	logger.WithFields(logger.Fields{"module": "client", "session_id": sid, "account": c.opts.Account, "worker": c.opts.Worker}).Info("authorized")
	return nil
}

// call writes a request and waits for its response.
func (c *Client) call(req protocol.Message, id protocol.RequestID) (protocol.Response, error) {
	if err := c.conn.WriteMessage(req); err != nil {
		return protocol.Response{}, err
	}
	for {
		msg, err := c.conn.ReadMessage()
		if err != nil {
			return protocol.Response{}, err
		}
		resp, ok := msg.(protocol.Response)
		if !ok || resp.ID != id {
			continue
		}
		if resp.IsError() {
			return resp, resp.Error
		}
		return resp, nil
	}
}

// Run mines until ctx is done or the connection fails.
func (c *Client) Run(ctx context.Context) error {
	if c.conn == nil {
		return errors.New("client: not connected")
	}
	msgs := make(chan protocol.Message, 16)
	errc := make(chan error, 1)
	go func() {
		for {
			msg, err := c.conn.ReadMessage()
			if err != nil {
				if protocol.IsShape(err) {
					logger.WithFields(logger.Fields{"module": "client", "error": err}).Warn("malformed frame dropped")
					continue
				}
				errc <- err
				return
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(c.opts.SpeedInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.Close()
			return nil
		case err := <-errc:
			return err
		case <-ticker.C:
			v := c.Speed()
			if err := c.conn.WriteMessage(protocol.LocalSpeed{ID: c.id(), Speed: speed.Format(v)}); err != nil {
				return err
			}
		case msg := <-msgs:
			if err := c.handle(msg); err != nil {
				return err
			}
		}
	}
}

func (c *Client) handle(msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.Notify:
		logger.WithFields(logger.Fields{"module": "client", "job_id": m.JobID, "clean": m.CleanJobs}).Info("job received")
		sub := protocol.Submit{ID: c.id(), JobID: m.JobID, ProverSolution: solve(m)}
		c.solved.Add(1)
		c.pending[sub.ID] = struct{}{}
		return c.conn.WriteMessage(sub)
	case protocol.Response:
		c.report(m)
	default:
		logger.WithFields(logger.Fields{"module": "client", "method": msg.Name()}).Warn("unexpected message")
	}
	return nil
}

func (c *Client) report(r protocol.Response) {
	_, isSubmit := c.pending[r.ID]
	delete(c.pending, r.ID)
	if !r.IsError() {
		if isSubmit {
			c.accepted.Add(1)
		}
		logger.WithFields(logger.Fields{"module": "client", "id": r.ID.String(), "submit": isSubmit}).Debug("request ok")
		return
	}
	if isSubmit {
		c.rejected.Add(1)
	}
	pe, err := r.Error.PoolError()
	if err != nil {
		logger.WithFields(logger.Fields{"module": "client", "id": r.ID.String(), "code": r.Error.Code}).Warn(r.Error.Message)
		return
	}
	logger.WithFields(logger.Fields{"module": "client", "id": r.ID.String(), "kind": pe.Kind.String(), "reason": pe.Reason}).Warn("submit rejected")
}

// Speed is the number of solutions per second since the handshake.
func (c *Client) Speed() float64 {
	el := time.Since(c.started).Seconds()
	if el <= 0 {
		return 0
	}
	return float64(c.solved.Load()) / el
}

func (c *Client) SessionID() string { return c.sessionID }

func (c *Client) Accepted() uint64 { return c.accepted.Load() }

func (c *Client) Rejected() uint64 { return c.rejected.Load() }

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) id() protocol.RequestID {
	return protocol.NumID(c.nextID.Add(1) - 1)
}

// solve stands in for the prover: a keccak of the job and a random nonce.
func solve(n protocol.Notify) string {
	nonce := make([]byte, 8)
	_, _ = rand.Read(nonce)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(n.JobID))
	h.Write([]byte(n.EpochChallenge))
	h.Write([]byte(n.Address))
	h.Write(nonce)
	return protocol.EncodeOpaque(h.Sum(nil))
}
