package engine

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// latencyWindow is how many recent batch durations a session keeps.
const latencyWindow = 256

// Stats is a point-in-time view of one session.
type Stats struct {
	ID          string    `json:"id"`
	State       State     `json:"state"`
	Visible     bool      `json:"visible"`
	Pending     int       `json:"pending"`
	Carry       int       `json:"carry_bytes"`
	Extracted   int       `json:"extracted"`
	Executed    int       `json:"executed"`
	Failed      int       `json:"failed"`
	Batches     int       `json:"batches"`
	StoreKeys   int       `json:"store_keys"`
	Globals     []string  `json:"globals"`
	LastExecute time.Time `json:"last_execute,omitempty"`
	Latency     Latency   `json:"batch_latency"`
}

// Latency summarizes recent batch durations in milliseconds.
type Latency struct {
	Samples int     `json:"samples"`
	Mean    float64 `json:"mean_ms"`
	StdDev  float64 `json:"stddev_ms"`
	P95     float64 `json:"p95_ms"`
	Max     float64 `json:"max_ms"`
}

// latencies is a ring of recent batch durations.
type latencies struct {
	samples []float64
	next    int
}

func (l *latencies) add(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	if len(l.samples) < latencyWindow {
		l.samples = append(l.samples, ms)
		return
	}
	l.samples[l.next] = ms
	l.next = (l.next + 1) % latencyWindow
}

func (l *latencies) summary() Latency {
	n := len(l.samples)
	if n == 0 {
		return Latency{}
	}
	sorted := make([]float64, n)
	copy(sorted, l.samples)
	sort.Float64s(sorted)

	out := Latency{
		Samples: n,
		Mean:    stat.Mean(sorted, nil),
		P95:     stat.Quantile(0.95, stat.Empirical, sorted, nil),
		Max:     sorted[n-1],
	}
	if n > 1 {
		out.StdDev = stat.StdDev(sorted, nil)
	}
	return out
}
