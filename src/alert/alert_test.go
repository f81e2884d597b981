package alert

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
)

type recordingSink struct {
	mu        sync.Mutex
	delivered []Event

	entered chan struct{} // signalled on each Deliver entry, when set
	release chan struct{} // Deliver blocks on this, when set
}

func (s *recordingSink) Deliver(event Event) error {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, event)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func TestNewEventPopulatesIdentity(t *testing.T) {
	event := NewEvent(SeverityWarning, KindOrderUnknown, "intent-1", "outcome unknown")

	if event.ID == "" {
		t.Fatalf("event must carry a generated id")
	}
	if event.CreatedAt.IsZero() {
		t.Fatalf("event must carry a timestamp")
	}
	if event.Severity != SeverityWarning || event.Kind != KindOrderUnknown {
		t.Fatalf("unexpected event %+v", event)
	}

	other := NewEvent(SeverityWarning, KindOrderUnknown, "intent-1", "outcome unknown")
	if other.ID == event.ID {
		t.Fatalf("event ids must be unique")
	}
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	log, _ := logrustest.NewNullLogger()
	sink := &recordingSink{}

	d := NewDispatcher(logrus.NewEntry(log), 8, sink)

	for i := 0; i < 5; i++ {
		d.Publish(NewEvent(SeverityInfo, KindOrderFilled, "intent-1", "filled"))
	}

	// Close drains the buffer before returning.
	d.Close()

	if sink.count() != 5 {
		t.Fatalf("expected 5 delivered events after close, got %d", sink.count())
	}
}

func TestDispatcherPublishNeverBlocks(t *testing.T) {
	log, _ := logrustest.NewNullLogger()
	sink := &recordingSink{
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}

	d := NewDispatcher(logrus.NewEntry(log), 1, sink)

	// First event reaches the sink and blocks there.
	d.Publish(NewEvent(SeverityInfo, KindOrderFilled, "a", "one"))
	select {
	case <-sink.entered:
	case <-time.After(time.Second):
		t.Fatalf("worker never picked up the first event")
	}

	// Second fills the buffer, third must be dropped rather than block.
	d.Publish(NewEvent(SeverityInfo, KindOrderFilled, "b", "two"))

	done := make(chan struct{})
	go func() {
		d.Publish(NewEvent(SeverityInfo, KindOrderFilled, "c", "three"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked on a full buffer")
	}

	close(sink.release)
	<-sink.entered // second delivery
	d.Close()

	if sink.count() != 2 {
		t.Fatalf("expected 2 delivered events (one dropped), got %d", sink.count())
	}
	if d.Dropped() != 1 {
		t.Fatalf("expected drop counter 1, got %d", d.Dropped())
	}
}

func TestLogSinkDeliver(t *testing.T) {
	log, hook := logrustest.NewNullLogger()
	sink := LogSink{Log: logrus.NewEntry(log)}

	event := NewEvent(SeverityCritical, KindOrderRejected, "intent-1", "exchange rejected order")
	if err := sink.Deliver(event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(hook.Entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(hook.Entries))
	}
	entry := hook.LastEntry()
	if entry.Level != logrus.ErrorLevel {
		t.Fatalf("critical events must log at error level, got %s", entry.Level)
	}
	if entry.Data["kind"] != KindOrderRejected {
		t.Fatalf("kind field missing from log entry: %+v", entry.Data)
	}
}
