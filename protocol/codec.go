package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxFrameLength bounds one line on the wire, delimiter excluded. A notify is
// a few hundred bytes and a submit stays under 2KiB.
const MaxFrameLength = 4096

const (
	delimiter      = '\n'
	jsonrpcVersion = "2.0"
)

// Codec turns a byte stream into messages. Bytes are appended with Feed and
// messages extracted one at a time with Decode. A Codec belongs to a single
// connection and must not be used from several goroutines.
type Codec struct {
	buf    []byte
	maxLen int
	err    error
}

func NewCodec() *Codec {
	return NewCodecWithMaxLength(MaxFrameLength)
}

func NewCodecWithMaxLength(maxLen int) *Codec {
	if maxLen <= 0 {
		maxLen = MaxFrameLength
	}
	return &Codec{maxLen: maxLen}
}

// Feed appends bytes read from the peer.
func (c *Codec) Feed(p []byte) {
	if c.err != nil {
		return
	}
	c.buf = append(c.buf, p...)
}

// Buffered returns the number of bytes waiting for a delimiter.
func (c *Codec) Buffered() int { return len(c.buf) }

// Decode extracts the next message. It returns (nil, nil) when no complete
// line is buffered yet. A framing error is sticky: the stream can no longer be
// trusted and every later call returns the same error. A shape error only
// consumes the offending line.
func (c *Codec) Decode() (Message, error) {
	if c.err != nil {
		return nil, c.err
	}
	for {
		line, ok, err := c.nextLine()
		if err != nil {
			c.fail(err)
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		msg, err := ParseFrame(line)
		if err != nil {
			if IsFraming(err) {
				c.fail(err)
			}
			return nil, err
		}
		return msg, nil
	}
}

// Encode frames m for the wire.
func (c *Codec) Encode(m Message) ([]byte, error) {
	return Encode(m)
}

func (c *Codec) fail(err error) {
	c.err = err
	c.buf = nil
}

func (c *Codec) nextLine() ([]byte, bool, error) {
	limit := len(c.buf)
	if limit > c.maxLen+1 {
		limit = c.maxLen + 1
	}
	i := bytes.IndexByte(c.buf[:limit], delimiter)
	if i < 0 {
		if len(c.buf) > c.maxLen {
			return nil, false, framingError(ErrFrameTooLong)
		}
		return nil, false, nil
	}
	line := make([]byte, i)
	copy(line, c.buf[:i])
	n := copy(c.buf, c.buf[i+1:])
	c.buf = c.buf[:n]
	return line, true, nil
}

// Encode serializes m as compact JSON followed by the line delimiter.
func Encode(m Message) ([]byte, error) {
	b, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(b, delimiter), nil
}

type requestEnvelope struct {
	JSONRPC string     `json:"jsonrpc"`
	Method  string     `json:"method"`
	Params  []any      `json:"params"`
	ID      *RequestID `json:"id,omitempty"`
}

type resultEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  ResponsePayload `json:"result"`
	ID      RequestID       `json:"id"`
}

type errorEnvelope struct {
	JSONRPC string      `json:"jsonrpc"`
	Error   ErrorObject `json:"error"`
	ID      RequestID   `json:"id"`
}

// Marshal builds the JSON-RPC envelope for m without framing.
func Marshal(m Message) ([]byte, error) {
	var v any
	switch msg := m.(type) {
	case Subscribe:
		v = request(msg.Name(), &msg.ID, msg.UserAgent, msg.ProtocolVersion, msg.SessionID)
	case Authorize:
		v = request(msg.Name(), &msg.ID, msg.AccountName, msg.WorkerName, msg.WorkerPassword)
	case Notify:
		v = request(msg.Name(), nil, msg.JobID, msg.EpochChallenge, msg.Address, msg.CleanJobs)
	case LocalSpeed:
		v = request(msg.Name(), &msg.ID, msg.Speed)
	case Submit:
		v = request(msg.Name(), &msg.ID, msg.JobID, msg.ProverSolution)
	case Response:
		if msg.Error != nil {
			v = errorEnvelope{JSONRPC: jsonrpcVersion, Error: *msg.Error, ID: msg.ID}
		} else {
			v = resultEnvelope{JSONRPC: jsonrpcVersion, Result: msg.Result, ID: msg.ID}
		}
	default:
		return nil, fmt.Errorf("protocol: cannot encode %T", m)
	}
	return json.Marshal(v)
}

func request(method string, id *RequestID, params ...any) requestEnvelope {
	return requestEnvelope{JSONRPC: jsonrpcVersion, Method: method, Params: params, ID: id}
}

// ParseFrame decodes one line, delimiter already removed.
func ParseFrame(line []byte) (Message, error) {
	if !utf8.Valid(line) {
		return nil, framingError(ErrInvalidUTF8)
	}
	if !json.Valid(line) {
		return nil, &DecodeError{Kind: KindShape, Msg: "malformed json", Code: CodeParseError}
	}
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, shapeError("", "not an object", nil)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, shapeError("", "not an object", err)
	}
	if err := checkVersion(obj); err != nil {
		return nil, err
	}
	id, err := decodeID(obj)
	if err != nil {
		return nil, err
	}
	var msg Message
	if _, ok := obj["method"]; ok {
		msg, err = decodeRequest(obj, id)
	} else {
		msg, err = decodeResponse(obj, id)
	}
	var de *DecodeError
	if errors.As(err, &de) {
		de.ID = id
	}
	return msg, err
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func checkVersion(obj map[string]json.RawMessage) error {
	raw, ok := obj["jsonrpc"]
	if !ok {
		return nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil || v != jsonrpcVersion {
		return shapeError("jsonrpc", fmt.Sprintf("expected %q, got %s", jsonrpcVersion, raw), nil)
	}
	return nil
}

func decodeID(obj map[string]json.RawMessage) (RequestID, error) {
	var id RequestID
	raw, ok := obj["id"]
	if !ok || isNull(raw) {
		return id, nil
	}
	if err := json.Unmarshal(raw, &id); err != nil {
		return id, shapeError("id", "", err)
	}
	return id, nil
}

func decodeRequest(obj map[string]json.RawMessage, id RequestID) (Message, error) {
	raw := bytes.TrimSpace(obj["method"])
	if len(raw) == 0 || raw[0] != '"' {
		return nil, shapeError("method", "expected string", nil)
	}
	var method string
	if err := json.Unmarshal(raw, &method); err != nil {
		return nil, shapeError("method", "expected string", err)
	}
	p := params{method: method}
	if rawParams, ok := obj["params"]; ok && !isNull(rawParams) {
		if err := json.Unmarshal(rawParams, &p.raw); err != nil {
			return nil, paramError("params", "expected array", nil)
		}
	}

	switch method {
	case MethodSubscribe:
		if err := p.arity(3); err != nil {
			return nil, err
		}
		ua, err := p.str(0, "user_agent")
		if err != nil {
			return nil, err
		}
		version, err := p.str(1, "protocol_version")
		if err != nil {
			return nil, err
		}
		session, err := p.optStr(2, "session_id")
		if err != nil {
			return nil, err
		}
		return Subscribe{ID: id, UserAgent: ua, ProtocolVersion: version, SessionID: session}, nil
	case MethodAuthorize:
		if err := p.arity(3); err != nil {
			return nil, err
		}
		account, err := p.str(0, "account_name")
		if err != nil {
			return nil, err
		}
		worker, err := p.str(1, "worker_name")
		if err != nil {
			return nil, err
		}
		password, err := p.optStr(2, "worker_password")
		if err != nil {
			return nil, err
		}
		return Authorize{ID: id, AccountName: account, WorkerName: worker, WorkerPassword: password}, nil
	case MethodNotify:
		if err := p.arity(4); err != nil {
			return nil, err
		}
		jobID, err := p.str(0, "job_id")
		if err != nil {
			return nil, err
		}
		challenge, err := p.str(1, "epoch_challenge")
		if err != nil {
			return nil, err
		}
		address, err := p.str(2, "address")
		if err != nil {
			return nil, err
		}
		clean, err := p.boolean(3, "clean_jobs")
		if err != nil {
			return nil, err
		}
		return Notify{JobID: jobID, EpochChallenge: challenge, Address: address, CleanJobs: clean}, nil
	case MethodLocalSpeed:
		if err := p.arity(1); err != nil {
			return nil, err
		}
		speed, err := p.str(0, "speed")
		if err != nil {
			return nil, err
		}
		return LocalSpeed{ID: id, Speed: speed}, nil
	case MethodSubmit:
		if err := p.arity(2); err != nil {
			return nil, err
		}
		jobID, err := p.str(0, "job_id")
		if err != nil {
			return nil, err
		}
		solution, err := p.str(1, "prover_solution")
		if err != nil {
			return nil, err
		}
		return Submit{ID: id, JobID: jobID, ProverSolution: solution}, nil
	}
	return nil, &DecodeError{Kind: KindShape, Field: "method", Msg: fmt.Sprintf("%q", method), Err: ErrUnknownMethod, Code: CodeMethodNotFound}
}

func decodeResponse(obj map[string]json.RawMessage, id RequestID) (Message, error) {
	rawResult, hasResult := obj["result"]
	if rawErr, ok := obj["error"]; ok && !isNull(rawErr) {
		if hasResult && !isNull(rawResult) {
			return nil, shapeError("result", "response carries both result and error", nil)
		}
		eo, err := decodeErrorObject(rawErr)
		if err != nil {
			return nil, err
		}
		return Response{ID: id, Error: &eo}, nil
	}
	if !hasResult {
		return nil, shapeError("", "response carries neither result nor error", nil)
	}
	var payload ResponsePayload
	if err := payload.UnmarshalJSON(rawResult); err != nil {
		return nil, shapeError("result", "", err)
	}
	return Response{ID: id, Result: payload}, nil
}

type errorWire struct {
	Code    *int64          `json:"code"`
	Message *string         `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeErrorObject(raw json.RawMessage) (ErrorObject, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return ErrorObject{}, shapeError("error", "expected object", nil)
	}
	var w errorWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return ErrorObject{}, shapeError("error", "", err)
	}
	if w.Code == nil {
		return ErrorObject{}, shapeError("error.code", "missing", nil)
	}
	if w.Message == nil {
		return ErrorObject{}, shapeError("error.message", "missing", nil)
	}
	eo := ErrorObject{Code: *w.Code, Message: *w.Message}
	if !isNull(w.Data) {
		eo.Data = w.Data
	}
	return eo, nil
}

// params gives typed positional access to request params.
type params struct {
	method string
	raw    []json.RawMessage
}

func (p params) arity(n int) error {
	if len(p.raw) != n {
		return paramError("params", fmt.Sprintf("%s expects %d params, got %d", p.method, n, len(p.raw)), nil)
	}
	return nil
}

func (p params) kind(i int) byte {
	raw := bytes.TrimSpace(p.raw[i])
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}

func (p params) str(i int, name string) (string, error) {
	if p.kind(i) != '"' {
		return "", paramError(name, "expected string", nil)
	}
	var s string
	if err := json.Unmarshal(p.raw[i], &s); err != nil {
		return "", paramError(name, "expected string", err)
	}
	return s, nil
}

func (p params) optStr(i int, name string) (*string, error) {
	if p.kind(i) == 'n' {
		return nil, nil
	}
	if p.kind(i) != '"' {
		return nil, paramError(name, "expected string or null", nil)
	}
	s, err := p.str(i, name)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p params) boolean(i int, name string) (bool, error) {
	if k := p.kind(i); k != 't' && k != 'f' {
		return false, paramError(name, "expected bool", nil)
	}
	var b bool
	if err := json.Unmarshal(p.raw[i], &b); err != nil {
		return false, paramError(name, "expected bool", err)
	}
	return b, nil
}
