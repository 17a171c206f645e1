package protocol

import (
	"encoding/json"
	"testing"
)

func TestPayloadMarshal(t *testing.T) {
	cases := []struct {
		p    ResponsePayload
		want string
	}{
		{BoolResult(true), `true`},
		{BoolResult(false), `false`},
		{NullResult(), `null`},
		{ResponsePayload{}, `null`},
		{ArrayResult(), `[]`},
		{ArrayResult(StringValue("SERVER_AGENT1"), UintValue(42), NullValue()), `["SERVER_AGENT1",42,null]`},
	}
	for _, c := range cases {
		b, err := json.Marshal(c.p)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != c.want {
			t.Fatalf("got %s, want %s", b, c.want)
		}
	}
}

func TestPayloadUnmarshalKinds(t *testing.T) {
	var p ResponsePayload
	if err := json.Unmarshal([]byte(`true`), &p); err != nil || p.Kind() != PayloadBool {
		t.Fatal("bool")
	}
	if err := json.Unmarshal([]byte(`["x", 18446744073709551615]`), &p); err != nil || p.Kind() != PayloadArray {
		t.Fatal("array")
	}
	if n, ok := p.Items()[1].Uint(); !ok || n != 18446744073709551615 {
		t.Fatal("max uint64 should survive")
	}
	if err := p.UnmarshalJSON([]byte(`null`)); err != nil || p.Kind() != PayloadNull {
		t.Fatal("null")
	}
	if p.Items() != nil {
		t.Fatal("null payload has no items")
	}
	for _, bad := range []string{`{}`, `"s"`, `1`, `nul`} {
		if err := p.UnmarshalJSON([]byte(bad)); err != ErrInvalidResponseParams {
			t.Fatalf("%s: got %v", bad, err)
		}
	}
}
