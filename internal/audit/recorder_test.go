package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type memRepo struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (m *memRepo) Create(_ context.Context, e *Entry) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memRepo) List(context.Context, Filter) (*ListResult, error) {
	return &ListResult{Entries: m.entries, Total: len(m.entries)}, nil
}

type countingSink struct{ n int }

func (s *countingSink) Publish(context.Context, *Entry) { s.n++ }

func TestRecorder_PersistsThenFansOut(t *testing.T) {
	repo := &memRepo{}
	a, b := &countingSink{}, &countingSink{}
	rec := NewRecorder(repo, nil, a, b)

	if err := rec.Record(context.Background(), &Entry{Action: ActionLogout, Result: ResultSuccess}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if len(repo.entries) != 1 || a.n != 1 || b.n != 1 {
		t.Errorf("repo=%d sinkA=%d sinkB=%d, want 1 each", len(repo.entries), a.n, b.n)
	}
}

func TestRecorder_PersistFailureSkipsSinks(t *testing.T) {
	repo := &memRepo{err: errors.New("disk full")}
	sink := &countingSink{}
	rec := NewRecorder(repo, nil, sink)

	if err := rec.Record(context.Background(), &Entry{Action: ActionLogout, Result: ResultSuccess}); err == nil {
		t.Fatal("Record() should return the persistence error")
	}
	if sink.n != 0 {
		t.Error("sinks must not see entries that were not persisted")
	}
}

type fakePublisher struct {
	mu      sync.Mutex
	topic   string
	payload []byte
	qos     byte
	calls   int
	err     error

	// block, when set, holds every Publish until it is closed.
	block chan struct{}
}

func (p *fakePublisher) Publish(topic string, payload []byte, qos byte, _ bool) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic, p.payload, p.qos = topic, payload, qos
	p.calls++
	return p.err
}

func TestMQTTSink_Publish(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, func(action string) string { return "healthcore/auth/events/" + action }, 1, nil)

	sink.Publish(context.Background(), &Entry{ID: "aud-1", UserID: "usr-1", Action: ActionLockout, Result: ResultFailure, TraceID: "t-1"})
	sink.Close()

	if pub.topic != "healthcore/auth/events/lockout" || pub.qos != 1 {
		t.Errorf("published to %q qos %d", pub.topic, pub.qos)
	}
	var got Entry
	if err := json.Unmarshal(pub.payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.UserID != "usr-1" || got.TraceID != "t-1" || got.Action != ActionLockout {
		t.Errorf("payload = %+v", got)
	}
}

func TestMQTTSink_PublishErrorIsSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	sink := NewMQTTSink(pub, func(string) string { return "t" }, 0, nil)

	// Must not panic or block.
	sink.Publish(context.Background(), &Entry{Action: ActionLogout, Result: ResultSuccess})
	sink.Close()
	if pub.calls != 1 {
		t.Errorf("publish attempts = %d, want 1", pub.calls)
	}
}

func TestMQTTSink_SlowBrokerDoesNotBlock(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	sink := newMQTTSink(pub, func(string) string { return "t" }, 1, nil, 2)

	returned := make(chan struct{})
	go func() {
		defer close(returned)
		for range 5 {
			sink.Publish(context.Background(), &Entry{Action: ActionLoginFailure, Result: ResultFailure})
		}
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stalled broker")
	}

	close(pub.block)
	sink.Close()
	// One entry in flight plus a queue of two; the rest were dropped.
	if pub.calls < 1 || pub.calls > 3 {
		t.Errorf("publish calls = %d, want between 1 and 3", pub.calls)
	}
}

func TestMQTTSink_CloseDrainsQueue(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, func(string) string { return "t" }, 0, nil)
	for range 10 {
		sink.Publish(context.Background(), &Entry{Action: ActionRefresh, Result: ResultSuccess})
	}
	sink.Close()
	sink.Close()

	if pub.calls != 10 {
		t.Errorf("publish calls = %d, want 10", pub.calls)
	}
}

type fakeEventWriter struct{ action, result string }

func (w *fakeEventWriter) WriteAuthEvent(action, result string) {
	w.action, w.result = action, result
}

func TestMetricsSink_Publish(t *testing.T) {
	w := &fakeEventWriter{}
	NewMetricsSink(w).Publish(context.Background(), &Entry{Action: ActionRefresh, Result: ResultSuccess})

	if w.action != "refresh" || w.result != "success" {
		t.Errorf("WriteAuthEvent(%q, %q)", w.action, w.result)
	}
}
