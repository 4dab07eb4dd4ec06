package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Publisher is the subset of the MQTT client used by MQTTSink.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// DefaultMQTTQueueSize bounds the entries waiting for the broker.
const DefaultMQTTQueueSize = 256

// MQTTSink publishes each entry as JSON to a per-action topic. Publishing
// runs on a background worker so a slow broker never delays a login. When
// the queue is full the entry is dropped and logged; it is already
// persisted in the audit table.
type MQTTSink struct {
	pub      Publisher
	topicFor func(action string) string
	qos      byte
	logger   *slog.Logger

	queue     chan Entry
	done      chan struct{}
	closeOnce sync.Once
}

// NewMQTTSink creates a sink publishing through pub and starts its worker.
// topicFor maps an action name to its topic. Close stops the worker.
func NewMQTTSink(pub Publisher, topicFor func(action string) string, qos byte, logger *slog.Logger) *MQTTSink {
	return newMQTTSink(pub, topicFor, qos, logger, DefaultMQTTQueueSize)
}

func newMQTTSink(pub Publisher, topicFor func(action string) string, qos byte, logger *slog.Logger, queueSize int) *MQTTSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MQTTSink{
		pub:      pub,
		topicFor: topicFor,
		qos:      qos,
		logger:   logger,
		queue:    make(chan Entry, queueSize),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Publish implements Sink. It never blocks.
func (s *MQTTSink) Publish(_ context.Context, entry *Entry) {
	select {
	case s.queue <- *entry:
	default:
		s.logger.Warn("audit event queue full, dropping MQTT publish",
			"action", entry.Action,
			"trace_id", entry.TraceID,
		)
	}
}

// Close publishes whatever is queued and stops the worker. Publish must
// not be called after Close.
func (s *MQTTSink) Close() {
	s.closeOnce.Do(func() { close(s.queue) })
	<-s.done
}

func (s *MQTTSink) run() {
	defer close(s.done)
	for entry := range s.queue {
		s.publish(&entry)
	}
}

func (s *MQTTSink) publish(entry *Entry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warn("marshalling audit event", "error", err)
		return
	}

	topic := s.topicFor(string(entry.Action))
	if err := s.pub.Publish(topic, payload, s.qos, false); err != nil {
		s.logger.Warn("publishing audit event",
			"topic", topic,
			"trace_id", entry.TraceID,
			"error", err,
		)
	}
}

// EventWriter is the subset of the InfluxDB client used by MetricsSink.
type EventWriter interface {
	WriteAuthEvent(action, result string)
}

// MetricsSink records one time-series point per entry for dashboards.
type MetricsSink struct {
	w EventWriter
}

// NewMetricsSink creates a sink writing through w.
func NewMetricsSink(w EventWriter) *MetricsSink {
	return &MetricsSink{w: w}
}

// Publish implements Sink.
func (s *MetricsSink) Publish(_ context.Context, entry *Entry) {
	s.w.WriteAuthEvent(string(entry.Action), string(entry.Result))
}
