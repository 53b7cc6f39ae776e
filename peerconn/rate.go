package peerconn

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
)

// rateCounter is a sliding-window byte-rate estimator, standing in for the
// teacher's utils/syncutil and utils/bandwidth packages (only their
// _test.go files were retrieved from the pack, not their implementation),
// reconstructed here to the narrower contract peerconn actually needs:
// record bytes as they move, report bytes/sec over a trailing window.
type rateCounter struct {
	mu     sync.Mutex
	clk    clock.Clock
	window time.Duration

	samples []sample
}

type sample struct {
	at time.Time
	n  int
}

func newRateCounter(clk clock.Clock, window time.Duration) *rateCounter {
	return &rateCounter{clk: clk, window: window}
}

func (r *rateCounter) add(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, sample{at: r.clk.Now(), n: n})
}

// prune drops samples older than the window. Called periodically so rate()
// reflects recent activity even in the absence of new bytes.
func (r *rateCounter) prune() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(r.clk.Now())
}

func (r *rateCounter) pruneLocked(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.samples) && r.samples[i].at.Before(cutoff) {
		i++
	}
	r.samples = r.samples[i:]
}

func (r *rateCounter) rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	r.pruneLocked(now)

	if len(r.samples) == 0 {
		return 0
	}

	total := 0
	for _, s := range r.samples {
		total += s.n
	}
	return float64(total) / r.window.Seconds()
}
