package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	MethodSubscribe  = "mining.subscribe"
	MethodAuthorize  = "mining.authorize"
	MethodNotify     = "mining.notify"
	MethodLocalSpeed = "mining.local_speed"
	MethodSubmit     = "mining.submit"
	MethodResponse   = "mining.response"
)

// Methods lists the request methods understood on the wire, in table order.
func Methods() []string {
	return []string{MethodSubscribe, MethodAuthorize, MethodNotify, MethodLocalSpeed, MethodSubmit}
}

// Message is one protocol operation. The set is closed: only the types in
// this package implement it.
type Message interface {
	// Name returns the canonical method string.
	Name() string
	message()
}

// RequestID is a JSON-RPC id, either an unsigned number or a string.
// The zero value is the numeric id 0.
type RequestID struct {
	num   uint64
	str   string
	isStr bool
}

func NumID(n uint64) RequestID { return RequestID{num: n} }

func StrID(s string) RequestID { return RequestID{str: s, isStr: true} }

func (id RequestID) IsString() bool { return id.isStr }

func (id RequestID) Num() uint64 { return id.num }

func (id RequestID) Str() string { return id.str }

func (id RequestID) String() string {
	if id.isStr {
		return id.str
	}
	return strconv.FormatUint(id.num, 10)
}

func (id RequestID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return []byte(strconv.FormatUint(id.num, 10)), nil
}

func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*id = RequestID{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StrID(s)
		return nil
	}
	n, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("id %s is neither a string nor an unsigned integer", data)
	}
	*id = NumID(n)
	return nil
}

// Subscribe opens a session. SessionID is nil for a fresh session.
type Subscribe struct {
	ID              RequestID
	UserAgent       string
	ProtocolVersion string
	SessionID       *string
}

// Authorize authenticates a worker of an account.
type Authorize struct {
	ID             RequestID
	AccountName    string
	WorkerName     string
	WorkerPassword *string
}

// Notify announces a new job. It is a notification and carries no id.
type Notify struct {
	JobID          string
	EpochChallenge string
	Address        string
	CleanJobs      bool
}

// LocalSpeed reports the client's own proving speed as a decimal string.
type LocalSpeed struct {
	ID    RequestID
	Speed string
}

// Submit hands in a prover solution for a job.
type Submit struct {
	ID             RequestID
	JobID          string
	ProverSolution string
}

// Response answers a request. A non-nil Error makes it an error response and
// Result is ignored; otherwise Result is the payload.
type Response struct {
	ID     RequestID
	Result ResponsePayload
	Error  *ErrorObject
}

func (Subscribe) Name() string  { return MethodSubscribe }
func (Authorize) Name() string  { return MethodAuthorize }
func (Notify) Name() string     { return MethodNotify }
func (LocalSpeed) Name() string { return MethodLocalSpeed }
func (Submit) Name() string     { return MethodSubmit }
func (Response) Name() string   { return MethodResponse }

func (Subscribe) message()  {}
func (Authorize) message()  {}
func (Notify) message()     {}
func (LocalSpeed) message() {}
func (Submit) message()     {}
func (Response) message()   {}

// OK builds a successful response.
func OK(id RequestID, result ResponsePayload) Response {
	return Response{ID: id, Result: result}
}

// Fail builds an error response.
func Fail(id RequestID, e ErrorObject) Response {
	return Response{ID: id, Error: &e}
}

// IsError reports whether r carries an error object.
func (r Response) IsError() bool { return r.Error != nil }

// StringPtr is a helper for the optional string fields.
func StringPtr(s string) *string { return &s }
