package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

func sampleMessages() []Message {
	return []Message{
		Subscribe{ID: NumID(0), UserAgent: "ZKPool_Miner", ProtocolVersion: "0.2.0", SessionID: StringPtr("session")},
		Subscribe{ID: NumID(1), UserAgent: "ua", ProtocolVersion: "0.2.3"},
		Authorize{ID: NumID(2), AccountName: "account_name", WorkerName: "worker_name"},
		Authorize{ID: StrID("auth"), AccountName: "acc", WorkerName: "w1", WorkerPassword: StringPtr("x")},
		Notify{JobID: "job1", EpochChallenge: "challenge", Address: "addr", CleanJobs: true},
		Notify{JobID: "job2", EpochChallenge: "00ff", Address: "aleo1", CleanJobs: false},
		LocalSpeed{ID: NumID(3), Speed: "12.50"},
		Submit{ID: NumID(4), JobID: "agent/01000000_02000000_sid", ProverSolution: "deadbeef"},
		Response{ID: NumID(5), Result: BoolResult(true)},
		Response{ID: NumID(6), Result: ArrayResult(StringValue("a"), UintValue(7), NullValue())},
		Response{ID: NumID(7), Result: ArrayResult()},
		Response{ID: StrID("r"), Result: NullResult()},
		Fail(NumID(8), NewPoolErrorObject(NewInvalidProof("bad nonce"))),
		Fail(NumID(9), ErrorObject{Code: CodeInvalidParams, Message: "test error", Data: json.RawMessage(`{"k":1}`)}),
	}
}

func decodeOne(t *testing.T, b []byte) Message {
	t.Helper()
	c := NewCodec()
	c.Feed(b)
	msg, err := c.Decode()
	if err != nil {
		t.Fatalf("decode %q: %v", b, err)
	}
	if msg == nil {
		t.Fatalf("decode %q: no message", b)
	}
	return msg
}

func TestRoundTrip(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range sampleMessages() {
		b, err := Encode(m)
		if err != nil {
			t.Fatal(err)
		}
		if b[len(b)-1] != '\n' || bytes.Count(b, []byte{'\n'}) != 1 {
			t.Fatalf("bad framing %q", b)
		}
		out := decodeOne(t, b)
		if !reflect.DeepEqual(out, m) {
			t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", out, m)
		}
		seen[m.Name()] = true
	}
	for _, method := range Methods() {
		if !seen[method] {
			t.Fatalf("method %s not covered", method)
		}
	}
	if !seen[MethodResponse] {
		t.Fatal("response not covered")
	}
}

func TestReEncodeStable(t *testing.T) {
	for _, m := range sampleMessages() {
		b1, _ := Encode(m)
		b2, err := Encode(decodeOne(t, b1))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(b1, b2) {
			t.Fatalf("got %s, want %s", b2, b1)
		}
	}
}

func TestEncodeWireForm(t *testing.T) {
	cases := []struct {
		msg  Message
		want string
	}{
		{Notify{JobID: "job1", EpochChallenge: "challenge", Address: "addr", CleanJobs: true},
			`{"jsonrpc":"2.0","method":"mining.notify","params":["job1","challenge","addr",true]}`},
		{Subscribe{ID: NumID(1), UserAgent: "ua", ProtocolVersion: "0.2.0"},
			`{"jsonrpc":"2.0","method":"mining.subscribe","params":["ua","0.2.0",null],"id":1}`},
		{Submit{ID: StrID("s1"), JobID: "j", ProverSolution: "p"},
			`{"jsonrpc":"2.0","method":"mining.submit","params":["j","p"],"id":"s1"}`},
		{OK(NumID(5), BoolResult(true)), `{"jsonrpc":"2.0","result":true,"id":5}`},
		{OK(NumID(5), NullResult()), `{"jsonrpc":"2.0","result":null,"id":5}`},
		{Fail(NumID(3), NewPoolErrorObject(NewStaleProof())),
			`{"jsonrpc":"2.0","error":{"code":-32000,"message":"StaleProof"},"id":3}`},
	}
	for _, c := range cases {
		b, err := Encode(c.msg)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != c.want+"\n" {
			t.Fatalf("got %s, want %s", b, c.want)
		}
	}
}

func TestErrorTakesPrecedenceOnEncode(t *testing.T) {
	eo := NewPoolErrorObject(NewServerNotReady())
	m := Response{ID: NumID(1), Result: BoolResult(true), Error: &eo}
	b, _ := Encode(m)
	if bytes.Contains(b, []byte(`"result"`)) {
		t.Fatalf("both members encoded: %s", b)
	}
}

func TestDecodeResponses(t *testing.T) {
	out := decodeOne(t, []byte(`{"jsonrpc":"2.0","result":true,"id":5}`+"\n"))
	if !reflect.DeepEqual(out, Response{ID: NumID(5), Result: BoolResult(true)}) {
		t.Fatalf("got %#v", out)
	}
	out = decodeOne(t, []byte(`{"jsonrpc":"2.0","result":["a", 7, null],"id":5}`+"\n"))
	want := Response{ID: NumID(5), Result: ArrayResult(StringValue("a"), UintValue(7), NullValue())}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("got %#v", out)
	}
	out = decodeOne(t, []byte(`{"jsonrpc":"2.0","result":null,"id":"x"}`+"\n"))
	if !reflect.DeepEqual(out, Response{ID: StrID("x")}) {
		t.Fatalf("got %#v", out)
	}
}

func TestDecodeLenientArray(t *testing.T) {
	line := `{"jsonrpc":"2.0","result":["a", 1.5, -3, {"x":1}, [1], true, 18446744073709551616, 2],"id":1}` + "\n"
	out := decodeOne(t, []byte(line)).(Response)
	items := out.Result.Items()
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if s, ok := items[0].Str(); !ok || s != "a" {
		t.Fatal("first item")
	}
	if n, ok := items[1].Uint(); !ok || n != 2 {
		t.Fatal("second item")
	}
}

func TestDecodeErrorResponse(t *testing.T) {
	line := `{"jsonrpc":"2.0","error":{"code":-32000,"message":"InvalidProofbad nonce","data":null},"id":3}` + "\n"
	out := decodeOne(t, []byte(line)).(Response)
	if !out.IsError() {
		t.Fatal("expect error response")
	}
	if out.Error.Data != nil {
		t.Fatal("null data should be dropped")
	}
	pe, err := out.Error.PoolError()
	if err != nil {
		t.Fatal(err)
	}
	if pe != NewInvalidProof("bad nonce") {
		t.Fatalf("got %#v", pe)
	}
}

func TestDecodeMissingIDDefaultsToZero(t *testing.T) {
	out := decodeOne(t, []byte(`{"jsonrpc":"2.0","method":"mining.submit","params":["j","s"]}`+"\n"))
	want := Submit{ID: NumID(0), JobID: "j", ProverSolution: "s"}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("got %#v", out)
	}
	out = decodeOne(t, []byte(`{"jsonrpc":"2.0","method":"mining.local_speed","params":["1.5"],"id":null}`+"\n"))
	if out.(LocalSpeed).ID != NumID(0) {
		t.Fatal("null id should be 0")
	}
}

func decodeErr(t *testing.T, line string) error {
	t.Helper()
	c := NewCodec()
	c.Feed([]byte(line + "\n"))
	msg, err := c.Decode()
	if err == nil {
		t.Fatalf("decode %s: expect error, got %#v", line, msg)
	}
	return err
}

func TestDecodeShapeErrors(t *testing.T) {
	lines := []string{
		`{"jsonrpc":"2.0","method":"mining.subscribe","params":["ua","1.0"],"id":1}`,
		`{"jsonrpc":"2.0","method":"mining.subscribe","params":["ua",1,null],"id":1}`,
		`{"jsonrpc":"2.0","method":"mining.subscribe","params":["ua","1.0",5],"id":1}`,
		`{"jsonrpc":"2.0","method":"mining.authorize","params":["a",null,null],"id":1}`,
		`{"jsonrpc":"2.0","method":"mining.notify","params":["j","c","a","yes"]}`,
		`{"jsonrpc":"2.0","method":"mining.local_speed","params":[1.5],"id":1}`,
		`{"jsonrpc":"2.0","method":"mining.submit","params":{"job_id":"j"},"id":1}`,
		`{"jsonrpc":"2.0","method":"mining.submit","params":["j","s"],"id":-1}`,
		`{"jsonrpc":"2.0","method":5,"params":[],"id":1}`,
		`{"jsonrpc":"1.0","method":"mining.submit","params":["j","s"],"id":1}`,
		`{"jsonrpc":"2.0","result":{"a":1},"id":1}`,
		`{"jsonrpc":"2.0","result":"ok","id":1}`,
		`{"jsonrpc":"2.0","result":3,"id":1}`,
		`{"jsonrpc":"2.0","id":1}`,
		`{"jsonrpc":"2.0","result":true,"error":{"code":1,"message":"x"},"id":1}`,
		`{"jsonrpc":"2.0","error":"boom","id":1}`,
		`{"jsonrpc":"2.0","error":{"message":"x"},"id":1}`,
		`[1,2,3]`,
		`"text"`,
		`{"jsonrpc":`,
	}
	for _, line := range lines {
		err := decodeErr(t, line)
		if !IsShape(err) {
			t.Fatalf("%s: expect shape error, got %v", line, err)
		}
	}
}

func TestDecodeShapeErrorNamesField(t *testing.T) {
	err := decodeErr(t, `{"jsonrpc":"2.0","method":"mining.notify","params":["j","c","a","yes"]}`)
	var de *DecodeError
	if !errors.As(err, &de) || de.Field != "clean_jobs" {
		t.Fatalf("got %v", err)
	}
	err = decodeErr(t, `{"jsonrpc":"2.0","method":"mining.subscribe","params":["ua","1.0"],"id":1}`)
	if !errors.As(err, &de) || de.Field != "params" {
		t.Fatalf("got %v", err)
	}
}

func TestDecodeUnknownMethod(t *testing.T) {
	err := decodeErr(t, `{"jsonrpc":"2.0","method":"mining.unknown","params":[],"id":1}`)
	if !errors.Is(err, ErrUnknownMethod) || !strings.Contains(err.Error(), "unknown method") {
		t.Fatalf("got %v", err)
	}
}

func TestDecodeInvalidResponseParams(t *testing.T) {
	err := decodeErr(t, `{"jsonrpc":"2.0","result":{"a":1},"id":1}`)
	if !errors.Is(err, ErrInvalidResponseParams) {
		t.Fatalf("got %v", err)
	}
}

func TestShapeErrorKeepsStream(t *testing.T) {
	c := NewCodec()
	c.Feed([]byte(`{"jsonrpc":"2.0","method":"mining.unknown","params":[],"id":1}` + "\n"))
	good, _ := Encode(LocalSpeed{ID: NumID(2), Speed: "1"})
	c.Feed(good)
	if _, err := c.Decode(); err == nil {
		t.Fatal("expect error")
	}
	msg, err := c.Decode()
	if err != nil || msg == nil {
		t.Fatalf("next frame lost: %v", err)
	}
}

func TestDecodePartialFrames(t *testing.T) {
	b, _ := Encode(Notify{JobID: "job1", EpochChallenge: "challenge", Address: "addr", CleanJobs: true})
	c := NewCodec()
	for i := 0; i < len(b)-1; i++ {
		c.Feed(b[i : i+1])
		msg, err := c.Decode()
		if err != nil || msg != nil {
			t.Fatalf("byte %d: unexpected %v %v", i, msg, err)
		}
	}
	c.Feed(b[len(b)-1:])
	msg, err := c.Decode()
	if err != nil || msg == nil {
		t.Fatalf("final byte: %v", err)
	}
	if c.Buffered() != 0 {
		t.Fatal("buffer not drained")
	}
}

func TestDecodeSeveralFramesInOneChunk(t *testing.T) {
	var buf []byte
	for _, m := range sampleMessages() {
		b, _ := Encode(m)
		buf = append(buf, b...)
	}
	c := NewCodec()
	c.Feed(buf)
	for i, m := range sampleMessages() {
		out, err := c.Decode()
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(out, m) {
			t.Fatalf("frame %d mismatch", i)
		}
	}
	if out, err := c.Decode(); out != nil || err != nil {
		t.Fatal("expect no more messages")
	}
}

func TestDecodeSkipsBlankLinesAndCR(t *testing.T) {
	c := NewCodec()
	c.Feed([]byte("\n\r\n  \n" + `{"jsonrpc":"2.0","result":false,"id":1}` + "\r\n"))
	out, err := c.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if ok, isBool := out.(Response).Result.Bool(); !isBool || ok {
		t.Fatal("expect Bool(false)")
	}
}

func TestFrameLengthLimit(t *testing.T) {
	base, _ := Marshal(Submit{ID: NumID(1), JobID: "j"})
	solution := strings.Repeat("a", MaxFrameLength-len(base))
	exact, _ := Encode(Submit{ID: NumID(1), JobID: "j", ProverSolution: solution})
	if len(exact) != MaxFrameLength+1 {
		t.Fatalf("frame is %d bytes", len(exact))
	}
	out := decodeOne(t, exact)
	if out.(Submit).ProverSolution != solution {
		t.Fatal("solution mismatch")
	}

	over, _ := Encode(Submit{ID: NumID(1), JobID: "j", ProverSolution: solution + "a"})
	c := NewCodec()
	c.Feed(over)
	if _, err := c.Decode(); !IsFraming(err) || !errors.Is(err, ErrFrameTooLong) {
		t.Fatalf("expect framing error, got %v", err)
	}
}

func TestFrameTooLongWithoutDelimiter(t *testing.T) {
	c := NewCodec()
	c.Feed(bytes.Repeat([]byte{'{'}, MaxFrameLength))
	if msg, err := c.Decode(); msg != nil || err != nil {
		t.Fatal("4096 bytes without delimiter is still pending")
	}
	c.Feed([]byte{'{'})
	_, err := c.Decode()
	if !IsFraming(err) {
		t.Fatalf("expect framing error, got %v", err)
	}
	good, _ := Encode(LocalSpeed{ID: NumID(2), Speed: "1"})
	c.Feed(good)
	if _, err2 := c.Decode(); err2 != err {
		t.Fatal("framing error must be sticky")
	}
}

func TestDecodeInvalidUTF8(t *testing.T) {
	c := NewCodec()
	c.Feed([]byte{'{', '"', 0xff, '"', ':', '1', '}', '\n'})
	if _, err := c.Decode(); !IsFraming(err) || !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("expect utf-8 framing error, got %v", err)
	}
}

func TestDecoderStream(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, m := range sampleMessages() {
		if err := enc.Encode(m); err != nil {
			t.Fatal(err)
		}
	}
	dec := NewDecoder(&buf)
	for i := range sampleMessages() {
		if _, err := dec.Decode(); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if _, err := dec.Decode(); err != io.EOF {
		t.Fatalf("got %v, want EOF", err)
	}
}

func TestDecoderTruncatedStream(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"jsonrpc":"2.0","result":true`))
	if _, err := dec.Decode(); err != io.ErrUnexpectedEOF {
		t.Fatalf("got %v, want unexpected EOF", err)
	}
}
