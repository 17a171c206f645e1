// Package speed handles the proving speed a miner reports with
// mining.local_speed and aggregates it over fixed windows.
package speed

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/JellyTony/zkpool/protocol"
)

var ErrInvalidSpeed = errors.New("invalid speed")

// Parse reads a reported speed in proofs per second, rounded to two decimals.
func Parse(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q, speed should be a decimal number", ErrInvalidSpeed, s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSpeed, s)
	}
	return math.Round(v*100) / 100, nil
}

// FromMessage extracts the speed of a local speed report.
func FromMessage(m protocol.LocalSpeed) (float64, error) {
	return Parse(m.Speed)
}

// Format renders v the way Parse expects it.
func Format(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// ProverSpeed is the average speed over the last 1, 5, 15, 30 and 60 minutes.
type ProverSpeed struct {
	Speed1m  uint32 `json:"speed_1m"`
	Speed5m  uint32 `json:"speed_5m"`
	Speed15m uint32 `json:"speed_15m"`
	Speed30m uint32 `json:"speed_30m"`
	Speed60m uint32 `json:"speed_60m"`
}

func (p ProverSpeed) String() string {
	b, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(b)
}

func ParseProverSpeed(s string) (ProverSpeed, error) {
	var p ProverSpeed
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return ProverSpeed{}, fmt.Errorf("%w: %v", ErrInvalidSpeed, err)
	}
	return p, nil
}

var windows = [...]time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute, 30 * time.Minute, time.Hour}

// maxSamples bounds a tracker that receives reports faster than once a second.
const maxSamples = 3600

type sample struct {
	at    time.Time
	value float64
}

// Tracker keeps the reports of one worker for the last hour.
type Tracker struct {
	mu      sync.Mutex
	samples []sample
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Record stores a report taken at the given time. Reports older than the
// largest window are dropped.
func (t *Tracker) Record(at time.Time, v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, sample{at: at, value: v})
	t.prune(at)
	if n := len(t.samples) - maxSamples; n > 0 {
		t.samples = append(t.samples[:0], t.samples[n:]...)
	}
}

// Snapshot averages the reports inside each window ending at now.
func (t *Tracker) Snapshot(now time.Time) ProverSpeed {
	t.mu.Lock()
	defer t.mu.Unlock()
	var avg [len(windows)]uint32
	for i, w := range windows {
		var sum float64
		var n int
		for _, s := range t.samples {
			if now.Sub(s.at) <= w {
				sum += s.value
				n++
			}
		}
		if n > 0 {
			avg[i] = uint32(math.Min(math.Round(sum/float64(n)), math.MaxUint32))
		}
	}
	return ProverSpeed{Speed1m: avg[0], Speed5m: avg[1], Speed15m: avg[2], Speed30m: avg[3], Speed60m: avg[4]}
}

func (t *Tracker) prune(now time.Time) {
	keep := t.samples[:0]
	for _, s := range t.samples {
		if now.Sub(s.at) <= windows[len(windows)-1] {
			keep = append(keep, s)
		}
	}
	t.samples = keep
}
