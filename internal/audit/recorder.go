package audit

import (
	"context"
	"fmt"
	"log/slog"
)

// Sink receives every persisted entry. Delivery is best effort: a sink
// failure is logged by the sink and never fails the audited operation.
type Sink interface {
	Publish(ctx context.Context, entry *Entry)
}

// Recorder persists entries and then fans them out to the sinks.
type Recorder struct {
	repo   Repository
	sinks  []Sink
	logger *slog.Logger
}

// NewRecorder creates a recorder writing to repo and notifying sinks.
func NewRecorder(repo Repository, logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, sinks: sinks, logger: logger}
}

// Record persists entry. A persistence failure is returned so the caller
// can surface it; sinks are only notified for persisted entries.
func (r *Recorder) Record(ctx context.Context, entry *Entry) error {
	if err := r.repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("recording audit entry: %w", err)
	}

	r.logger.Debug("audit entry recorded",
		"action", entry.Action,
		"result", entry.Result,
		"user_id", entry.UserID,
		"trace_id", entry.TraceID,
	)

	for _, s := range r.sinks {
		s.Publish(ctx, entry)
	}
	return nil
}
