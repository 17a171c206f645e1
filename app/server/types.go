package server

import (
	"sync"
	"time"

	zkpool "github.com/JellyTony/zkpool"
	"github.com/JellyTony/zkpool/events"
	"github.com/JellyTony/zkpool/jobid"
	"github.com/JellyTony/zkpool/protocol"
	"github.com/JellyTony/zkpool/speed"
	"golang.org/x/time/rate"
)

// Session is one authorized worker connection.
type Session struct {
	ChannelID   string
	SessionID   string
	UserAgent   string
	Version     string
	AccountName string
	WorkerName  string
	Speed       *speed.Tracker
	Limiter     *rate.Limiter

	LastSubmitAt time.Time
	seenJob      string
	seen         map[string]struct{}
}

// Job is the work currently handed out to every session.
type Job struct {
	ID             string
	Height         uint32
	Epoch          uint32
	EpochChallenge string
	Address        string
	CreatedAt      time.Time
}

// Notify renders the job announcement.
func (j Job) Notify(clean bool) protocol.Notify {
	return protocol.Notify{JobID: j.ID, EpochChallenge: j.EpochChallenge, Address: j.Address, CleanJobs: clean}
}

type Config struct {
	// ServerAgent prefixes every job id and is returned on subscribe.
	ServerAgent string
	// Address is the pool address announced with each job, random when empty.
	Address string
	// Interval between two jobs.
	Interval time.Duration
	// EpochLength is the number of heights per epoch.
	EpochLength uint32
	SubmitRate  float64
	SubmitBurst int
}

func DefaultConfig() Config {
	return Config{
		ServerAgent: zkpool.UserAgent("Pool"),
		Interval:    10 * time.Second,
		EpochLength: 256,
		SubmitRate:  1,
		SubmitBurst: 1,
	}
}

func (c Config) validate() error {
	if c.Interval <= 0 {
		return errInvalidConfig("interval must be positive")
	}
	if c.EpochLength == 0 {
		return errInvalidConfig("epoch length must be positive")
	}
	if c.SubmitRate <= 0 || c.SubmitBurst <= 0 {
		return errInvalidConfig("submit rate and burst must be positive")
	}
	return jobid.JobID{ServerAgent: c.ServerAgent, ServerID: "-"}.Validate()
}

type errInvalidConfig string

func (e errInvalidConfig) Error() string { return "invalid config: " + string(e) }

type Coordinator struct {
	mu       sync.RWMutex
	cfg      Config
	gate     *zkpool.VersionGate
	serverID string
	sessions map[string]*Session
	job      *Job
	srv      ServerPusher
	store    StatsStore
	mq       MessageQueue
	stopCh   chan struct{}
	stopOnce sync.Once
}

type ServerPusher interface {
	Push(id string, msg protocol.Message) error
}

type StatsStore interface {
	Increment(account, worker string, minute time.Time) error
	Get(account, worker string, minute time.Time) (int, error)
	Close() error
}

type MessageQueue interface {
	Publish(evt events.ShareEvent) error
	Subscribe() <-chan events.ShareEvent
	Close() error
}
