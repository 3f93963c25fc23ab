package broadcast

import (
	"context"
	"sync"
	"time"

	"go-crash/internal/round"
	"golang.org/x/exp/slog"

	"go-crash/internal/lib/logger/sl"
)

const (
	// Observation window for request frequency.
	scoreWindow = 10 * time.Second

	// Thresholds of the individual signals.
	maxRequestsPerWindow = 200
	maxBurstPerSecond    = 10

	// Interval variance below these marks looks machine-generated.
	hardVarianceLimit = 0.001
	softVarianceLimit = 0.01

	// New observations blend into the running score; quiet traffic
	// decays it.
	blendOld   = 0.7
	blendNew   = 0.3
	decayRate  = 0.95
	alertLevel = 0.7
)

const SignalSuspiciousConnection = "suspicious_connection"

type clientRecord struct {
	times   []time.Time
	score   float64
	alerted bool
}

// Tracker scores per-client message patterns on the socket transport.
// Scores are observational: a suspicious client keeps receiving states,
// it just gets reported.
type Tracker struct {
	mu      sync.Mutex
	clients map[string]*clientRecord
	monitor round.Monitor
	log     *slog.Logger
}

func NewTracker(monitor round.Monitor, log *slog.Logger) *Tracker {
	return &Tracker{
		clients: make(map[string]*clientRecord),
		monitor: monitor,
		log:     log,
	}
}

// Observe records one inbound message and refreshes the client's score.
func (t *Tracker) Observe(remoteAddr string, at time.Time) {
	t.mu.Lock()

	rec := t.clients[remoteAddr]
	if rec == nil {
		rec = &clientRecord{}
		t.clients[remoteAddr] = rec
	}

	rec.times = append(rec.times, at)
	rec.times = prune(rec.times, at.Add(-scoreWindow))

	observed := scoreOf(rec.times, at)

	if observed > 0 {
		rec.score = blendOld*rec.score + blendNew*observed
	} else {
		rec.score *= decayRate
	}

	score := rec.score
	alert := score > alertLevel && !rec.alerted

	if alert {
		rec.alerted = true
	}

	if score <= alertLevel {
		rec.alerted = false
	}

	t.mu.Unlock()

	if !alert {
		return
	}

	t.log.Warn("connection pattern looks automated",
		sl.String("remote_addr", remoteAddr),
		sl.Any("score", score))

	if t.monitor != nil {
		t.monitor.Report(context.Background(), SignalSuspiciousConnection, 0,
			map[string]interface{}{
				"remote_addr": remoteAddr,
				"score":       score,
			})
	}
}

// Score returns the client's current suspicion score.
func (t *Tracker) Score(remoteAddr string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.clients[remoteAddr]
	if rec == nil {
		return 0
	}

	return rec.score
}

func prune(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]

	for _, ts := range times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	return kept
}

// scoreOf rates one window of message times. The strongest signal wins:
// unnaturally even spacing outranks plain volume.
func scoreOf(times []time.Time, now time.Time) float64 {
	var score float64

	if len(times) > maxRequestsPerWindow {
		score = maxScore(score, 0.9)
	}

	var burst int

	for _, ts := range times {
		if ts.After(now.Add(-time.Second)) {
			burst++
		}
	}

	if burst > maxBurstPerSecond {
		score = maxScore(score, 0.6)
	}

	if v, ok := intervalVariance(times); ok {
		switch {
		case v < hardVarianceLimit:
			score = maxScore(score, 0.8)
		case v < softVarianceLimit:
			score = maxScore(score, 0.4)
		}
	}

	return score
}

// intervalVariance is the variance of the gaps between messages, in
// seconds squared. Needs enough samples to mean anything.
func intervalVariance(times []time.Time) (float64, bool) {
	const minSamples = 10

	if len(times) < minSamples {
		return 0, false
	}

	intervals := make([]float64, 0, len(times)-1)

	for i := 1; i < len(times); i++ {
		intervals = append(intervals, times[i].Sub(times[i-1]).Seconds())
	}

	var mean float64
	for _, iv := range intervals {
		mean += iv
	}
	mean /= float64(len(intervals))

	var variance float64
	for _, iv := range intervals {
		d := iv - mean
		variance += d * d
	}

	return variance / float64(len(intervals)), true
}

func maxScore(a, b float64) float64 {
	if a > b {
		return a
	}

	return b
}
