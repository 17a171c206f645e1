package server

import (
	"crypto/rand"
	"time"

	zkpool "github.com/JellyTony/zkpool"
	"github.com/JellyTony/zkpool/jobid"
	"github.com/JellyTony/zkpool/logger"
	"github.com/JellyTony/zkpool/protocol"
	"github.com/JellyTony/zkpool/speed"
	"github.com/segmentio/ksuid"
	"golang.org/x/time/rate"
)

func NewCoordinator(p ServerPusher, store StatsStore, mq MessageQueue, gate *zkpool.VersionGate, cfg Config) *Coordinator {
	if cfg.Address == "" {
		cfg.Address = randomHex(32)
	}
	return &Coordinator{
		cfg:      cfg,
		gate:     gate,
		serverID: ksuid.New().String(),
		sessions: make(map[string]*Session),
		srv:      p,
		store:    store,
		mq:       mq,
		stopCh:   make(chan struct{}),
	}
}

// RegisterSession adds an authorized worker and returns its session.
func (c *Coordinator) RegisterSession(channelID, sessionID, userAgent, version, account, worker string) *Session {
	s := &Session{
		ChannelID:   channelID,
		SessionID:   sessionID,
		UserAgent:   userAgent,
		Version:     version,
		AccountName: account,
		WorkerName:  worker,
		Speed:       speed.NewTracker(),
		Limiter:     rate.NewLimiter(rate.Limit(c.cfg.SubmitRate), c.cfg.SubmitBurst),
	}
	c.mu.Lock()
	c.sessions[channelID] = s
	c.mu.Unlock()
	return s
}

func (c *Coordinator) UnregisterSession(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, channelID)
}

func (c *Coordinator) session(channelID string) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[channelID]
	return s, ok
}

// SessionBySessionID finds a live session by the id returned on subscribe.
func (c *Coordinator) SessionBySessionID(sessionID string) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sessions {
		if s.SessionID == sessionID {
			return s, true
		}
	}
	return nil, false
}

// Sessions returns the number of live sessions.
func (c *Coordinator) Sessions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// CurrentJob returns the job being worked on, false before the first rotation.
func (c *Coordinator) CurrentJob() (Job, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.job == nil {
		return Job{}, false
	}
	return *c.job, true
}

func (c *Coordinator) StartBroadcast() { go c.loop() }

func (c *Coordinator) loop() {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		c.rotateJob()
		c.broadcastJob()
		select {
		case <-ticker.C:
			continue
		case <-c.stopCh:
			return
		}
	}
}

// rotateJob moves to the next height. The epoch challenge only changes when
// the height crosses into a new epoch.
func (c *Coordinator) rotateJob() Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	var height uint32 = 1
	if c.job != nil {
		height = c.job.Height + 1
	}
	epoch := height / c.cfg.EpochLength
	var challenge string
	if c.job != nil && c.job.Epoch == epoch {
		challenge = c.job.EpochChallenge
	} else {
		challenge = randomHex(32)
	}
	c.job = &Job{
		ID:             jobid.New(c.cfg.ServerAgent, height, epoch, c.serverID),
		Height:         height,
		Epoch:          epoch,
		EpochChallenge: challenge,
		Address:        c.cfg.Address,
		CreatedAt:      time.Now(),
	}
	return *c.job
}

func (c *Coordinator) broadcastJob() {
	c.mu.RLock()
	if c.job == nil {
		c.mu.RUnlock()
		return
	}
	job := *c.job
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	msg := job.Notify(true)
	for _, id := range ids {
		if err := c.srv.Push(id, msg); err != nil {
			logger.WithFields(logger.Fields{"module": "app.coordinator", "channel_id": id, "error": err}).Debug("push job failed")
		}
	}
	logger.WithFields(logger.Fields{"module": "app.coordinator", "job_id": job.ID, "height": job.Height, "epoch": job.Epoch, "sessions": len(ids)}).Info("broadcast job")
}

func (c *Coordinator) Stop() { c.stopOnce.Do(func() { close(c.stopCh) }) }

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return protocol.EncodeOpaque(buf)
}
