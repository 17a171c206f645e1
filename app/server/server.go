package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	zkpool "github.com/JellyTony/zkpool"
	"github.com/JellyTony/zkpool/events"
	"github.com/JellyTony/zkpool/logger"
	"github.com/JellyTony/zkpool/speed"
	"github.com/JellyTony/zkpool/tcp"
	"github.com/JellyTony/zkpool/websocket"
)

const (
	TransportTCP       = "tcp"
	TransportWebsocket = "ws"
)

type Options struct {
	Addr string
	// Transport is TransportTCP or TransportWebsocket.
	Transport     string
	AcceptTimeout time.Duration
	// Version is the protocol version this server speaks.
	Version string
	Config  Config
}

type ShutdownStatus struct {
	StartAt      time.Time
	EndAt        time.Time
	MQStopped    bool
	MQErrors     int
	StoreClosed  bool
	ServerClosed bool
	Duration     time.Duration
}

type AppServer struct {
	srv         *tcp.Server
	coord       *Coordinator
	stopConsume chan struct{}
	stopOnce    sync.Once
	mqWG        sync.WaitGroup
	mqErrors    atomic.Int64
	statusMu    sync.Mutex
	status      ShutdownStatus
}

func NewAppServer(opts Options, store StatsStore, mq MessageQueue) (*AppServer, error) {
	if err := opts.Config.validate(); err != nil {
		return nil, err
	}
	gate, err := zkpool.NewVersionGate(opts.Version)
	if err != nil {
		return nil, err
	}
	var upgrade zkpool.Upgrader
	switch opts.Transport {
	case "", TransportTCP:
		upgrade = tcp.Upgrade
	case TransportWebsocket:
		upgrade = websocket.Upgrade
	default:
		return nil, fmt.Errorf("unknown transport %q", opts.Transport)
	}
	s := tcp.NewServer(opts.Addr, tcp.ServerOptions{AcceptTimeout: opts.AcceptTimeout, Upgrade: upgrade})
	coord := NewCoordinator(s, store, mq, gate, opts.Config)
	s.SetAcceptor(NewAcceptor(coord))
	s.SetMessageListener(NewListener(coord))
	s.SetStateListener(NewState(coord))
	return &AppServer{srv: s, coord: coord, stopConsume: make(chan struct{})}, nil
}

// Listen binds the address so Addr is usable before Start.
func (a *AppServer) Listen() error { return a.srv.Listen() }

func (a *AppServer) Addr() net.Addr { return a.srv.Addr() }

func (a *AppServer) Coordinator() *Coordinator { return a.coord }

// Start consumes share events into the store, starts the job broadcast and
// serves until Shutdown.
func (a *AppServer) Start(ctx context.Context) error {
	ch := a.coord.mq.Subscribe()
	a.mqWG.Add(1)
	go func() {
		defer a.mqWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.stopConsume:
				a.drain(ch)
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				a.count(evt)
			}
		}
	}()
	a.coord.StartBroadcast()
	return a.srv.Start()
}

// drain counts the events already queued when the consumer is stopped.
func (a *AppServer) drain(ch <-chan events.ShareEvent) {
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			a.count(evt)
		default:
			return
		}
	}
}

func (a *AppServer) count(evt events.ShareEvent) {
	if err := a.coord.store.Increment(evt.Account, evt.Worker, evt.Time); err != nil {
		logger.WithFields(logger.Fields{"module": "server", "account": evt.Account, "worker": evt.Worker, "time": evt.Time}).Errorf("store increment failed: %v", err)
		a.mqErrors.Add(1)
	}
}

// Shares returns the accepted shares of an account, or of one worker, in the
// minute containing t.
func (a *AppServer) Shares(account, worker string, t time.Time) (int, error) {
	return a.coord.store.Get(account, worker, t.Truncate(time.Minute))
}

// Speed returns the windowed speed reported by a live session.
func (a *AppServer) Speed(sessionID string) (speed.ProverSpeed, bool) {
	s, ok := a.coord.SessionBySessionID(sessionID)
	if !ok {
		return speed.ProverSpeed{}, false
	}
	return s.Speed.Snapshot(time.Now()), true
}

// Shutdown stops share intake first by closing the transport, then lets the
// consumer count what is queued before the queue and the store are closed.
func (a *AppServer) Shutdown(ctx context.Context) error {
	a.updateStatus(func(st *ShutdownStatus) { st.StartAt = time.Now() })
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := a.srv.Shutdown(cctx)
	if err != nil {
		logger.WithError(err).Error("server shutdown failed")
	} else {
		a.updateStatus(func(st *ShutdownStatus) { st.ServerClosed = true })
	}
	a.coord.Stop()

	a.stopOnce.Do(func() { close(a.stopConsume) })
	done := make(chan struct{})
	go func() { a.mqWG.Wait(); close(done) }()
	select {
	case <-done:
	case <-cctx.Done():
	}
	a.updateStatus(func(st *ShutdownStatus) { st.MQStopped = true })

	if err := retry(cctx, 3, 500*time.Millisecond, a.coord.mq.Close); err != nil {
		logger.WithError(err).Error("mq close failed")
	}
	if err := retry(cctx, 3, 500*time.Millisecond, a.coord.store.Close); err != nil {
		logger.WithError(err).Error("store close failed")
	} else {
		a.updateStatus(func(st *ShutdownStatus) { st.StoreClosed = true })
	}

	a.updateStatus(func(st *ShutdownStatus) {
		st.MQErrors = int(a.mqErrors.Load())
		st.EndAt = time.Now()
		st.Duration = st.EndAt.Sub(st.StartAt)
	})
	logger.WithFields(logger.Fields{"module": "server", "duration": a.Status().Duration}).Info("shutdown done")
	return err
}

func retry(ctx context.Context, n int, backoff time.Duration, f func() error) error {
	var err error
	for i := 0; i < n; i++ {
		if err = f(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
	}
	return err
}

func (a *AppServer) updateStatus(f func(*ShutdownStatus)) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	f(&a.status)
}

func (a *AppServer) Status() ShutdownStatus {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	return a.status
}
