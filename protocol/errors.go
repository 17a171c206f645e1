package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     int64 = -32700
	CodeInvalidRequest int64 = -32600
	CodeMethodNotFound int64 = -32601
	CodeInvalidParams  int64 = -32602
	CodeInternalError  int64 = -32603
	CodeServerError    int64 = -32000
)

// ErrorObject is the JSON-RPC error member of a response.
type ErrorObject struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e ErrorObject) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// PoolError parses the message as a pool error reason.
func (e ErrorObject) PoolError() (PoolError, error) {
	return ParsePoolError(e.Message)
}

// NewPoolErrorObject wraps a pool error reason into an error object.
func NewPoolErrorObject(pe PoolError) ErrorObject {
	return ErrorObject{Code: CodeServerError, Message: pe.String()}
}

// PoolErrorKind names an application level rejection.
type PoolErrorKind uint8

const (
	// StaleProof: height or epoch rotated before the submission was processed.
	StaleProof PoolErrorKind = iota + 1
	// InvalidProof: the submission failed validation.
	InvalidProof
	// ServerNotReady: the server has not finished initialization.
	ServerNotReady
	// InternalServerError: unclassified server fault.
	InternalServerError
)

func (k PoolErrorKind) String() string {
	switch k {
	case StaleProof:
		return "StaleProof"
	case InvalidProof:
		return "InvalidProof"
	case ServerNotReady:
		return "ServerNotReady"
	case InternalServerError:
		return "InternalServerError"
	default:
		return fmt.Sprintf("PoolErrorKind(%d)", uint8(k))
	}
}

// PoolError is carried as the message of an ErrorObject. Reason is only
// meaningful for InvalidProof; an empty Reason means none.
type PoolError struct {
	Kind   PoolErrorKind
	Reason string
}

func NewStaleProof() PoolError { return PoolError{Kind: StaleProof} }

func NewInvalidProof(reason string) PoolError {
	return PoolError{Kind: InvalidProof, Reason: reason}
}

func NewServerNotReady() PoolError { return PoolError{Kind: ServerNotReady} }

func NewInternalServerError() PoolError { return PoolError{Kind: InternalServerError} }

// String renders the wire form: the reason name, followed directly by the
// reason text for InvalidProof.
func (e PoolError) String() string {
	if e.Kind == InvalidProof {
		return e.Kind.String() + e.Reason
	}
	return e.Kind.String()
}

func (e PoolError) Error() string { return e.String() }

// longest names first so a shorter name never shadows a longer one
var poolErrorOrder = []PoolErrorKind{InternalServerError, ServerNotReady, InvalidProof, StaleProof}

// ParsePoolError recovers a PoolError from its wire form.
func ParsePoolError(s string) (PoolError, error) {
	for _, k := range poolErrorOrder {
		rest, ok := strings.CutPrefix(s, k.String())
		if !ok {
			continue
		}
		if k == InvalidProof {
			return NewInvalidProof(rest), nil
		}
		return PoolError{Kind: k}, nil
	}
	return PoolError{}, fmt.Errorf("unsupported pool error message: %q", s)
}

// ErrorKind classifies decode failures.
type ErrorKind uint8

const (
	// KindFraming errors leave the stream unusable.
	KindFraming ErrorKind = iota + 1
	// KindShape errors reject one frame.
	KindShape
)

func (k ErrorKind) String() string {
	switch k {
	case KindFraming:
		return "framing"
	case KindShape:
		return "shape"
	default:
		return "unknown"
	}
}

var (
	ErrFrameTooLong  = errors.New("frame exceeds maximum length")
	ErrInvalidUTF8   = errors.New("frame is not valid utf-8")
	ErrUnknownMethod = errors.New("unknown method")
)

// DecodeError reports why a frame could not be decoded. Field names the
// offending member or parameter when there is one. Code is the JSON-RPC code
// a peer should be answered with, ID the request id when it could be read.
type DecodeError struct {
	Kind  ErrorKind
	Field string
	Msg   string
	Err   error
	Code  int64
	ID    RequestID
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Field != "" {
		b.WriteString(" at ")
		b.WriteString(e.Field)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// NewFramingError builds the error transports report when a frame breaks
// the framing rules before it reaches the codec, e.g. ErrFrameTooLong.
func NewFramingError(err error) error { return framingError(err) }

func framingError(err error) error {
	return &DecodeError{Kind: KindFraming, Err: err, Code: CodeParseError}
}

func shapeError(field, msg string, err error) error {
	return &DecodeError{Kind: KindShape, Field: field, Msg: msg, Err: err, Code: CodeInvalidRequest}
}

func paramError(field, msg string, err error) error {
	return &DecodeError{Kind: KindShape, Field: field, Msg: msg, Err: err, Code: CodeInvalidParams}
}

// ErrorResponse turns a shape error into the error response owed to the
// peer. The id is 0 when the frame carried none or it was unreadable.
func ErrorResponse(err error) (Response, bool) {
	var de *DecodeError
	if !errors.As(err, &de) || de.Kind != KindShape {
		return Response{}, false
	}
	return Fail(de.ID, ErrorObject{Code: de.Code, Message: de.Error()}), true
}

// IsFraming reports whether err is a framing decode error.
func IsFraming(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Kind == KindFraming
}

// IsShape reports whether err is a shape decode error.
func IsShape(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Kind == KindShape
}
