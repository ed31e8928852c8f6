// Package relay classifies incoming event submissions, records accepted ones
// in a bounded history and hands them to a broadcaster for fan-out.
package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ai-hq/server/internal/event"
	"github.com/ai-hq/server/internal/metrics"
)

type Outcome int

const (
	Rejected Outcome = iota
	Accepted
	Ignored
)

var outcomeNames = map[Outcome]string{
	Rejected: metrics.OutcomeMalformed,
	Accepted: metrics.OutcomeAccepted,
	Ignored:  metrics.OutcomeIgnored,
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return "unknown"
}

// Broadcaster fans an accepted event out to live subscribers. Broadcast must
// not block on subscriber I/O.
type Broadcaster interface {
	Broadcast(e event.Event)
}

type Relay struct {
	// mu orders history appends with their broadcasts so every subscriber
	// sees events in history order.
	mu          sync.Mutex
	history     *event.History
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Relay)

func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithClock replaces the time source used to stamp history entries.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

func New(b Broadcaster, opts ...Option) *Relay {
	r := &Relay{
		history:     event.NewHistory(),
		broadcaster: b,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit parses and dispatches one raw submission. Errors wrap
// event.ErrMalformedPayload and leave all state untouched.
func (r *Relay) Submit(raw []byte) (Outcome, error) {
	e, err := event.Parse(raw)
	if err != nil {
		metrics.ObserveSubmission("", metrics.OutcomeMalformed)
		r.logger.Warn("rejected event", "error", err)
		return Rejected, err
	}

	r.logger.Info("event",
		"type", e.Type,
		"tool", e.Tool,
		"session", e.SessionID,
		"title", e.Title,
	)

	// session_end is dropped entirely: characters stay at their desks
	// between actions instead of leaving on stray end signals.
	if e.Suppressed() {
		r.logger.Info("ignoring session_end (characters persist)", "session", e.SessionID)
		metrics.ObserveSubmission(e.Type, metrics.OutcomeIgnored)
		return Ignored, nil
	}

	r.mu.Lock()
	r.history.Add(event.NewHistoryEntry(e, r.now()))
	r.broadcaster.Broadcast(e)
	r.mu.Unlock()

	metrics.ObserveSubmission(e.Type, metrics.OutcomeAccepted)
	return Accepted, nil
}

// RecentHistory returns the retained entries, newest first.
func (r *Relay) RecentHistory() []event.HistoryEntry {
	return r.history.Recent()
}
