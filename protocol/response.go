package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// ScalarKind tags a Scalar.
type ScalarKind uint8

const (
	ScalarNull ScalarKind = iota
	ScalarString
	ScalarUint
)

// Scalar is one element of an array result: a string, an unsigned integer or null.
type Scalar struct {
	kind ScalarKind
	str  string
	num  uint64
}

func StringValue(s string) Scalar { return Scalar{kind: ScalarString, str: s} }

func UintValue(n uint64) Scalar { return Scalar{kind: ScalarUint, num: n} }

func NullValue() Scalar { return Scalar{} }

func (s Scalar) Kind() ScalarKind { return s.kind }

// Str returns the string value and whether the scalar is a string.
func (s Scalar) Str() (string, bool) { return s.str, s.kind == ScalarString }

// Uint returns the integer value and whether the scalar is an integer.
func (s Scalar) Uint() (uint64, bool) { return s.num, s.kind == ScalarUint }

func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case ScalarString:
		return json.Marshal(s.str)
	case ScalarUint:
		return []byte(strconv.FormatUint(s.num, 10)), nil
	default:
		return []byte("null"), nil
	}
}

// PayloadKind tags a ResponsePayload.
type PayloadKind uint8

const (
	PayloadNull PayloadKind = iota
	PayloadBool
	PayloadArray
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadBool:
		return "Bool"
	case PayloadArray:
		return "Array"
	default:
		return "Null"
	}
}

// ErrInvalidResponseParams is returned when a result is neither a boolean, an array nor null.
var ErrInvalidResponseParams = errors.New("invalid response params")

// ResponsePayload is the result of a successful response. The zero value is Null.
type ResponsePayload struct {
	kind  PayloadKind
	ok    bool
	items []Scalar
}

func BoolResult(b bool) ResponsePayload { return ResponsePayload{kind: PayloadBool, ok: b} }

func ArrayResult(items ...Scalar) ResponsePayload {
	if items == nil {
		items = []Scalar{}
	}
	return ResponsePayload{kind: PayloadArray, items: items}
}

func NullResult() ResponsePayload { return ResponsePayload{} }

func (p ResponsePayload) Kind() PayloadKind { return p.kind }

// Bool returns the boolean value and whether the payload is a Bool.
func (p ResponsePayload) Bool() (bool, bool) { return p.ok, p.kind == PayloadBool }

// Items returns the array elements, nil unless the payload is an Array.
func (p ResponsePayload) Items() []Scalar {
	if p.kind != PayloadArray {
		return nil
	}
	return p.items
}

func (p ResponsePayload) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case PayloadBool:
		return json.Marshal(p.ok)
	case PayloadArray:
		items := p.items
		if items == nil {
			items = []Scalar{}
		}
		return json.Marshal(items)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a boolean, an array or null. Array elements that are
// strings, unsigned integers or null are kept in order, anything else is
// skipped.
func (p *ResponsePayload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ErrInvalidResponseParams
	}
	switch data[0] {
	case 'n':
		if !bytes.Equal(data, []byte("null")) {
			return ErrInvalidResponseParams
		}
		*p = NullResult()
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return ErrInvalidResponseParams
		}
		*p = BoolResult(b)
		return nil
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return ErrInvalidResponseParams
		}
		items := make([]Scalar, 0, len(raw))
		for _, el := range raw {
			if s, ok := scalarOf(el); ok {
				items = append(items, s)
			}
		}
		*p = ArrayResult(items...)
		return nil
	}
	return ErrInvalidResponseParams
}

func scalarOf(raw json.RawMessage) (Scalar, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Scalar{}, false
	}
	switch c := raw[0]; {
	case c == 'n':
		return NullValue(), true
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Scalar{}, false
		}
		return StringValue(s), true
	case c == '-' || (c >= '0' && c <= '9'):
		n, err := strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return Scalar{}, false
		}
		return UintValue(n), true
	}
	return Scalar{}, false
}
