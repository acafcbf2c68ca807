// Package activity keeps the recent-events log shown on the dashboard.
//
// Webhook deliveries and review submissions are recorded here and pushed to
// observers on the webhook channel wrapped as {"type":"webhook_event",
// "detail":...}. Analysis runs are recorded by watching the analysis
// channel; those entries are stored only, since observers already received
// the run's own status messages.
package activity

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/prreview/internal/broadcast"
	"github.com/dshills/prreview/internal/ring"
)

// Event types.
const (
	TypeWebhookReceived   = "webhook_received"
	TypePRReviewStarted   = "pr_review_started"
	TypePRReviewError     = "pr_review_error"
	TypeAnalysisStarted   = "analysis_started"
	TypeAnalysisCompleted = "analysis_completed"
	TypeError             = "error"
)

// DefaultCapacity is the number of events retained.
const DefaultCapacity = 1000

// EnvelopeType tags activity entries pushed to observers.
const EnvelopeType = "webhook_event"

// Event is one activity log entry.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	Repository string         `json:"repository,omitempty"`
	PRNumber   int            `json:"pr_number,omitempty"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
}

// Envelope is the push form of an Event.
type Envelope struct {
	Type   string `json:"type"`
	Detail Event  `json:"detail"`
}

// Describer is implemented by analysis-channel payloads that belong in the
// activity log.
type Describer interface {
	Activity() (Event, bool)
}

// Publisher sends payloads to observers.
type Publisher interface {
	Broadcast(channel string, payload any) broadcast.Message
}

// Log is a bounded, concurrency-safe event log.
type Log struct {
	mu     sync.RWMutex
	events *ring.Buffer[Event]
	pub    Publisher
	now    func() time.Time
}

// NewLog creates a log retaining capacity events. pub may be nil.
func NewLog(capacity int, pub Publisher) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{events: ring.New[Event](capacity), pub: pub, now: time.Now}
}

// Record stores e, filling in ID and Timestamp when empty, and pushes it
// to observers on the webhook channel.
func (l *Log) Record(e Event) Event {
	e = l.store(e)
	if l.pub != nil {
		l.pub.Broadcast(broadcast.ChannelWebhook, Envelope{Type: EnvelopeType, Detail: e})
	}
	return e
}

// List returns events newest first, filtered by type when typ is not
// empty. A non-positive limit returns every match.
func (l *Log) List(typ string, limit int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, 0)
	for i := l.events.Len() - 1; i >= 0; i-- {
		e := l.events.At(i)
		if typ != "" && e.Type != typ {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Recent returns the last n events, oldest first.
func (l *Log) Recent(n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.events.Last(n)
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.events.Len()
}

// Watch records Describer payloads published on the analysis channel.
func (l *Log) Watch(b *broadcast.Broadcaster) (unsubscribe func()) {
	return b.Subscribe(broadcast.ChannelAnalysis, func(m broadcast.Message) error {
		d, ok := m.Payload.(Describer)
		if !ok {
			return nil
		}
		if e, ok := d.Activity(); ok {
			if e.Timestamp.IsZero() {
				e.Timestamp = m.Time
			}
			l.store(e)
		}
		return nil
	}, broadcast.WithName("activity"))
}

func (l *Log) store(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}

	l.mu.Lock()
	l.events.Push(e)
	l.mu.Unlock()
	return e
}
