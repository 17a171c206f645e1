package server

import (
	"time"

	zkpool "github.com/JellyTony/zkpool"
	"github.com/JellyTony/zkpool/events"
	"github.com/JellyTony/zkpool/jobid"
	"github.com/JellyTony/zkpool/logger"
	"github.com/JellyTony/zkpool/protocol"
	"github.com/JellyTony/zkpool/speed"
)

type Listener struct {
	coord *Coordinator
}

func NewListener(coord *Coordinator) *Listener {
	return &Listener{coord: coord}
}

func (l *Listener) Receive(ag zkpool.Agent, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.LocalSpeed:
		_ = ag.Push(l.handleLocalSpeed(ag.ID(), m))
	case protocol.Submit:
		_ = ag.Push(l.handleSubmit(ag.ID(), m))
	case protocol.Subscribe, protocol.Authorize:
		reject(ag.Push, msg, protocol.CodeInvalidRequest, errAlreadyAuthorized)
	default:
		logger.WithFields(logger.Fields{"module": "app.listener", "channel_id": ag.ID(), "method": msg.Name()}).Warn("unsupported message from client")
	}
}

func (l *Listener) handleLocalSpeed(channelID string, m protocol.LocalSpeed) protocol.Response {
	s, ok := l.coord.session(channelID)
	if !ok {
		return poolFailure(m.ID, protocol.NewInternalServerError())
	}
	v, err := speed.FromMessage(m)
	if err != nil {
		logger.WithFields(logger.Fields{"module": "app.listener", "channel_id": channelID, "speed": m.Speed}).Warn("invalid local speed")
		return protocol.Fail(m.ID, protocol.ErrorObject{Code: protocol.CodeInvalidParams, Message: err.Error()})
	}
	s.Speed.Record(time.Now(), v)
	logger.WithFields(logger.Fields{"module": "app.listener", "account": s.AccountName, "worker": s.WorkerName, "speed": speed.Format(v)}).Debug("local speed")
	return protocol.OK(m.ID, protocol.BoolResult(true))
}

func (l *Listener) handleSubmit(channelID string, m protocol.Submit) protocol.Response {
	pe, evt, ok := l.checkSubmit(channelID, m)
	if !ok {
		logger.WithFields(logger.Fields{"module": "app.listener", "channel_id": channelID, "job_id": m.JobID, "error": pe.String()}).Warn("submit rejected")
		return poolFailure(m.ID, pe)
	}
	if err := l.coord.mq.Publish(evt); err != nil {
		logger.WithFields(logger.Fields{"module": "app.listener", "account": evt.Account, "error": err}).Error("publish share failed")
		return poolFailure(m.ID, protocol.NewInternalServerError())
	}
	logger.WithFields(logger.Fields{"module": "app.listener", "account": evt.Account, "worker": evt.Worker, "job_id": m.JobID}).Info("submit accepted")
	return protocol.OK(m.ID, protocol.BoolResult(true))
}

// checkSubmit validates a submission against the current job. The order of
// the checks decides which reason a client sees.
func (l *Listener) checkSubmit(channelID string, m protocol.Submit) (protocol.PoolError, events.ShareEvent, bool) {
	s, ok := l.coord.session(channelID)
	if !ok {
		return protocol.NewInternalServerError(), events.ShareEvent{}, false
	}
	job, ok := l.coord.CurrentJob()
	if !ok {
		return protocol.NewServerNotReady(), events.ShareEvent{}, false
	}
	id, err := jobid.Parse(m.JobID)
	if err != nil {
		return protocol.NewInvalidProof("invalid job id"), events.ShareEvent{}, false
	}
	if id.ServerAgent != l.coord.cfg.ServerAgent || id.ServerID != l.coord.serverID {
		return protocol.NewInvalidProof("unknown job"), events.ShareEvent{}, false
	}
	if id.Height != job.Height || id.Epoch != job.Epoch {
		return protocol.NewStaleProof(), events.ShareEvent{}, false
	}
	if sol, err := protocol.DecodeOpaque(protocol.ProverSolutionField, m.ProverSolution); err != nil || len(sol) == 0 {
		return protocol.NewInvalidProof("malformed prover solution"), events.ShareEvent{}, false
	}
	if !s.Limiter.Allow() {
		return protocol.NewInvalidProof("submission too frequent"), events.ShareEvent{}, false
	}

	now := time.Now()
	l.coord.mu.Lock()
	if s.seenJob != m.JobID {
		s.seenJob = m.JobID
		s.seen = make(map[string]struct{})
	}
	if _, dup := s.seen[m.ProverSolution]; dup {
		l.coord.mu.Unlock()
		return protocol.NewInvalidProof("duplicate submission"), events.ShareEvent{}, false
	}
	s.seen[m.ProverSolution] = struct{}{}
	s.LastSubmitAt = now
	l.coord.mu.Unlock()

	return protocol.PoolError{}, events.ShareEvent{
		Account: s.AccountName,
		Worker:  s.WorkerName,
		JobID:   m.JobID,
		Height:  job.Height,
		Time:    now,
	}, true
}

type State struct {
	coord *Coordinator
}

func NewState(coord *Coordinator) *State { return &State{coord: coord} }

func (s *State) Disconnect(id string) error {
	s.coord.UnregisterSession(id)
	logger.WithFields(logger.Fields{"module": "app.state", "channel_id": id}).Debug("session closed")
	return nil
}
