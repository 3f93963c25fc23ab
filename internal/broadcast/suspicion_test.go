package broadcast

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type signalSink struct {
	mu      sync.Mutex
	signals []string
}

func (s *signalSink) Report(_ context.Context, signal string, _ int64, _ map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.signals = append(s.signals, signal)
}

func (s *signalSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.signals)
}

func TestTrackerFlagsMetronomicClient(t *testing.T) {
	sink := &signalSink{}
	tracker := NewTracker(sink, discardLogger())

	// Perfectly even 100ms spacing, the signature of a bot loop.
	at := time.Now()
	for i := 0; i < 60; i++ {
		tracker.Observe("10.0.0.1:5000", at)
		at = at.Add(100 * time.Millisecond)
	}

	assert.Greater(t, tracker.Score("10.0.0.1:5000"), alertLevel)
	assert.GreaterOrEqual(t, sink.count(), 1)
}

func TestTrackerAlertsOnce(t *testing.T) {
	sink := &signalSink{}
	tracker := NewTracker(sink, discardLogger())

	at := time.Now()
	for i := 0; i < 200; i++ {
		tracker.Observe("10.0.0.1:5000", at)
		at = at.Add(100 * time.Millisecond)
	}

	assert.Equal(t, 1, sink.count(), "one alert per excursion above the threshold")
}

func TestTrackerIgnoresHumanTraffic(t *testing.T) {
	sink := &signalSink{}
	tracker := NewTracker(sink, discardLogger())

	rng := rand.New(rand.NewSource(1))

	// A handful of messages with ragged, human-looking gaps.
	at := time.Now()
	for i := 0; i < 20; i++ {
		tracker.Observe("10.0.0.2:6000", at)
		at = at.Add(time.Duration(500+rng.Intn(2000)) * time.Millisecond)
	}

	assert.LessOrEqual(t, tracker.Score("10.0.0.2:6000"), alertLevel)
	assert.Zero(t, sink.count())
}

func TestTrackerScoreDecays(t *testing.T) {
	tracker := NewTracker(nil, discardLogger())

	at := time.Now()
	for i := 0; i < 60; i++ {
		tracker.Observe("10.0.0.3:7000", at)
		at = at.Add(100 * time.Millisecond)
	}

	flagged := tracker.Score("10.0.0.3:7000")

	// Long quiet gaps empty the window, so each message decays the score.
	for i := 0; i < 40; i++ {
		at = at.Add(30 * time.Second)
		tracker.Observe("10.0.0.3:7000", at)
	}

	assert.Less(t, tracker.Score("10.0.0.3:7000"), flagged)
}

func TestIntervalVariance(t *testing.T) {
	base := time.Now()

	var even []time.Time
	for i := 0; i < 20; i++ {
		even = append(even, base.Add(time.Duration(i)*100*time.Millisecond))
	}

	v, ok := intervalVariance(even)
	assert.True(t, ok)
	assert.Less(t, v, hardVarianceLimit)

	_, ok = intervalVariance(even[:5])
	assert.False(t, ok, "too few samples to judge")
}
