package speed

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/JellyTony/zkpool/protocol"
)

func TestParse(t *testing.T) {
	v, err := FromMessage(protocol.LocalSpeed{ID: protocol.NumID(1), Speed: "3.14159"})
	if err != nil {
		t.Fatal(err)
	}
	if v != 3.14 {
		t.Fatalf("got %v", v)
	}
	if Format(v) != "3.14" {
		t.Fatal(Format(v))
	}
	for _, bad := range []string{"", "fast", "-1", "NaN", "Inf"} {
		if _, err := Parse(bad); !errors.Is(err, ErrInvalidSpeed) {
			t.Fatalf("%q: got %v", bad, err)
		}
	}
}

func TestProverSpeedString(t *testing.T) {
	sp := ProverSpeed{2, 2, 3, 4, 5}
	s := sp.String()
	if s != `{"speed_1m":2,"speed_5m":2,"speed_15m":3,"speed_30m":4,"speed_60m":5}` {
		t.Fatal(s)
	}
	back, err := ParseProverSpeed(s)
	if err != nil || back != sp {
		t.Fatalf("got %v %v", back, err)
	}
	if _, err := ParseProverSpeed("{"); err == nil {
		t.Fatal("expect error")
	}
}

func TestTrackerWindows(t *testing.T) {
	now := time.Now()
	tr := NewTracker()
	tr.Record(now.Add(-90*time.Minute), 1000)
	tr.Record(now.Add(-40*time.Minute), 60)
	tr.Record(now.Add(-10*time.Minute), 30)
	tr.Record(now.Add(-30*time.Second), 10)
	sp := tr.Snapshot(now)
	if sp.Speed1m != 10 {
		t.Fatalf("1m: %d", sp.Speed1m)
	}
	if sp.Speed5m != 10 {
		t.Fatalf("5m: %d", sp.Speed5m)
	}
	if sp.Speed15m != 20 || sp.Speed30m != 20 {
		t.Fatalf("15m/30m: %d %d", sp.Speed15m, sp.Speed30m)
	}
	if sp.Speed60m != 33 {
		t.Fatalf("60m: %d", sp.Speed60m)
	}
	if len(tr.samples) != 3 {
		t.Fatal("old sample not pruned")
	}
}

func TestParseRejectsOutOfRange(t *testing.T) {
	for _, in := range []string{"1e300", "4294967296", "-0.5"} {
		if _, err := Parse(in); !errors.Is(err, ErrInvalidSpeed) {
			t.Fatalf("%s: got %v", in, err)
		}
	}
	v, err := Parse("4294967295")
	if err != nil || v != 4294967295 {
		t.Fatalf("got %v, %v", v, err)
	}
}

func TestTrackerSampleCap(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	for i := 0; i < maxSamples+500; i++ {
		v := 1.0
		if i < 500 {
			v = 1000
		}
		tr.Record(now.Add(time.Duration(i)*time.Millisecond), v)
	}
	if len(tr.samples) != maxSamples {
		t.Fatalf("kept %d samples", len(tr.samples))
	}
	if got := tr.Snapshot(now.Add(time.Second * 4)); got.Speed1m != 1 {
		t.Fatalf("oldest samples not dropped: %+v", got)
	}
}

func TestSnapshotLargeValues(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	tr.Record(now, math.MaxUint32)
	tr.Record(now, math.MaxUint32)
	if got := tr.Snapshot(now); got.Speed60m != math.MaxUint32 {
		t.Fatalf("got %+v", got)
	}
}
