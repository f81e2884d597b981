package alert

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event kinds. Everything that affects money (rejections, unknown outcomes,
// reconciliation anomalies) must be raised; infrastructure retries are only
// raised once exhausted.
const (
	KindOrderFailed           = "order_failed"
	KindOrderRejected         = "order_rejected"
	KindOrderUnknown          = "order_unknown"
	KindOrderFilled           = "order_filled"
	KindRiskLimit             = "risk_limit"
	KindRetryExhausted        = "retry_exhausted"
	KindReconciliationAnomaly = "reconciliation_anomaly"
)

// Event is a structured failure/fill notification produced by the core.
// Delivery is fire-and-forget; producers never block on it.
type Event struct {
	ID        string         `json:"id"`
	Severity  string         `json:"severity"`
	Kind      string         `json:"kind"`
	IntentID  string         `json:"intent_id,omitempty"`
	MarketID  string         `json:"market_id,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEvent builds an event with a fresh ID and timestamp.
func NewEvent(severity, kind, intentID, message string) Event {
	return Event{
		ID:        uuid.NewString(),
		Severity:  severity,
		Kind:      kind,
		IntentID:  intentID,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}

// Sink receives events. Implementations must be safe for concurrent use and
// must not assume the caller waits for delivery.
type Sink interface {
	Deliver(event Event) error
}

// Dispatcher fans events out to the configured sinks from a background
// worker. Publish never blocks the caller: when the buffer is full the event
// is dropped and counted, which is preferable to stalling order execution.
type Dispatcher struct {
	log     *logger.Entry
	sinks   []Sink
	events  chan Event
	done    chan struct{}
	dropped atomic.Int64
}

// NewDispatcher creates a dispatcher with the given buffer size and starts
// its delivery worker. Close drains the buffer before returning.
func NewDispatcher(log *logger.Entry, bufferSize int, sinks ...Sink) *Dispatcher {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	if bufferSize <= 0 {
		bufferSize = 64
	}

	d := &Dispatcher{
		log:    log,
		sinks:  sinks,
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}

	go d.run()

	return d
}

// Publish enqueues an event for delivery. Never blocks.
func (d *Dispatcher) Publish(event Event) {
	select {
	case d.events <- event:
	default:
		d.dropped.Add(1)
		d.log.WithFields(map[string]interface{}{
			"kind":      event.Kind,
			"intent_id": event.IntentID,
		}).Warn("alert buffer full, event dropped")
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops the worker after draining queued events.
func (d *Dispatcher) Close() {
	close(d.events)
	<-d.done

	if dropped := d.dropped.Load(); dropped > 0 {
		d.log.WithField("dropped", dropped).Warn("alerts were dropped during this run")
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for event := range d.events {
		for _, sink := range d.sinks {
			if err := sink.Deliver(event); err != nil {
				// Sink failures must not affect core control flow.
				d.log.WithError(err).WithFields(map[string]interface{}{
					"kind":      event.Kind,
					"intent_id": event.IntentID,
				}).Error("alert delivery failed")
			}
		}
	}
}

// LogSink writes events to the structured log. It is always configured so
// that alerts are observable even without an external receiver.
type LogSink struct {
	Log *logger.Entry
}

// Deliver logs the event at a level matching its severity.
func (s LogSink) Deliver(event Event) error {
	log := s.Log
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}

	entry := log.WithFields(map[string]interface{}{
		"alert_id":  event.ID,
		"kind":      event.Kind,
		"intent_id": event.IntentID,
		"market_id": event.MarketID,
		"details":   event.Details,
	})

	switch event.Severity {
	case SeverityCritical:
		entry.Error(event.Message)
	case SeverityWarning:
		entry.Warn(event.Message)
	default:
		entry.Info(event.Message)
	}

	return nil
}
