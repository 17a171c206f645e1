package server

import (
	"errors"
	"strings"
	"time"

	zkpool "github.com/JellyTony/zkpool"
	"github.com/JellyTony/zkpool/logger"
	"github.com/JellyTony/zkpool/protocol"
	"github.com/segmentio/ksuid"
)

var (
	errSubscribeRequired = errors.New("mining.subscribe required")
	errAuthorizeRequired = errors.New("mining.authorize required")
	errEmptyAccount      = errors.New("account name is empty")
	errAlreadyAuthorized = errors.New("session already authorized")
)

// Acceptor runs the subscribe and authorize handshake, then sends the
// current job so the worker can start right away.
type Acceptor struct {
	coord *Coordinator
}

func NewAcceptor(coord *Coordinator) *Acceptor {
	return &Acceptor{coord: coord}
}

func (a *Acceptor) Accept(conn zkpool.Conn, timeout time.Duration) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	remote := conn.RemoteAddr().String()

	msg, err := conn.ReadMessage()
	if err != nil {
		logger.WithFields(logger.Fields{"module": "app.acceptor", "stage": "subscribe", "remote": remote, "error": err}).Warn("accept read error")
		return "", err
	}
	sub, ok := msg.(protocol.Subscribe)
	if !ok {
		reject(conn.WriteMessage, msg, protocol.CodeInvalidRequest, errSubscribeRequired)
		return "", errSubscribeRequired
	}
	version, err := a.coord.gate.Check(sub.ProtocolVersion)
	if err != nil {
		logger.WithFields(logger.Fields{"module": "app.acceptor", "remote": remote, "user_agent": sub.UserAgent, "version": sub.ProtocolVersion}).Warn("unsupported protocol version")
		reject(conn.WriteMessage, sub, protocol.CodeInvalidRequest, err)
		return "", err
	}
	sessionID := ksuid.New().String()
	if sub.SessionID != nil && *sub.SessionID != "" {
		sessionID = *sub.SessionID
	}
	result := protocol.ArrayResult(
		protocol.StringValue(sessionID),
		protocol.StringValue(a.coord.cfg.ServerAgent),
		protocol.StringValue(a.coord.gate.Current.String()),
	)
	if err := conn.WriteMessage(protocol.OK(sub.ID, result)); err != nil {
		return "", err
	}

	msg, err = conn.ReadMessage()
	if err != nil {
		logger.WithFields(logger.Fields{"module": "app.acceptor", "stage": "authorize", "remote": remote, "error": err}).Warn("accept read error")
		return "", err
	}
	auth, ok := msg.(protocol.Authorize)
	if !ok {
		reject(conn.WriteMessage, msg, protocol.CodeInvalidRequest, errAuthorizeRequired)
		return "", errAuthorizeRequired
	}
	if strings.TrimSpace(auth.AccountName) == "" {
		logger.WithFields(logger.Fields{"module": "app.acceptor", "remote": remote}).Warn("unauthorized: empty account")
		reject(conn.WriteMessage, auth, protocol.CodeInvalidParams, errEmptyAccount)
		return "", errEmptyAccount
	}
	if err := conn.WriteMessage(protocol.OK(auth.ID, protocol.BoolResult(true))); err != nil {
		return "", err
	}

	chID := ksuid.New().String()
	a.coord.RegisterSession(chID, sessionID, sub.UserAgent, version.String(), auth.AccountName, auth.WorkerName)
	logger.WithFields(logger.Fields{
		"module":     "app.acceptor",
		"account":    auth.AccountName,
		"worker":     auth.WorkerName,
		"session_id": sessionID,
		"channel_id": chID,
		"version":    version.String(),
	}).Info("authorized")

	if job, ok := a.coord.CurrentJob(); ok {
		if err := conn.WriteMessage(job.Notify(true)); err != nil {
			a.coord.UnregisterSession(chID)
			return "", err
		}
	}
	return chID, nil
}

// reject answers a request with an error object; notifications and
// responses get no answer.
func reject(send func(protocol.Message) error, msg protocol.Message, code int64, err error) {
	id, ok := requestID(msg)
	if !ok {
		return
	}
	_ = send(protocol.Fail(id, protocol.ErrorObject{Code: code, Message: err.Error()}))
}

func requestID(msg protocol.Message) (protocol.RequestID, bool) {
	switch m := msg.(type) {
	case protocol.Subscribe:
		return m.ID, true
	case protocol.Authorize:
		return m.ID, true
	case protocol.LocalSpeed:
		return m.ID, true
	case protocol.Submit:
		return m.ID, true
	}
	return protocol.RequestID{}, false
}

func poolFailure(id protocol.RequestID, pe protocol.PoolError) protocol.Response {
	return protocol.Fail(id, protocol.NewPoolErrorObject(pe))
}
