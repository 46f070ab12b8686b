package generation

import (
	"context"

	"go.uber.org/zap"
)

// Notifier hears about record changes. Implementations must not block for
// long and must not fail the workflow.
type Notifier interface {
	RecordUpdated(ctx context.Context, id string)
	VideoCompleted(ctx context.Context, id, gcsURI string)
}

type NopNotifier struct{}

func (NopNotifier) RecordUpdated(context.Context, string)          {}
func (NopNotifier) VideoCompleted(context.Context, string, string) {}

// Notifiers fans every call out to each member in order.
type Notifiers []Notifier

func (n Notifiers) RecordUpdated(ctx context.Context, id string) {
	for _, x := range n {
		x.RecordUpdated(ctx, id)
	}
}

func (n Notifiers) VideoCompleted(ctx context.Context, id, gcsURI string) {
	for _, x := range n {
		x.VideoCompleted(ctx, id, gcsURI)
	}
}

// CompletedEvent is published when a worker finishes a video.
type CompletedEvent struct {
	ID     string `json:"id"`
	GCSURI string `json:"gcsUri"`
}

// EventNotifier publishes completion events to a broker queue.
type EventNotifier struct {
	pub    Publisher
	queue  string
	logger *zap.Logger
}

func NewEventNotifier(pub Publisher, queue string, logger *zap.Logger) *EventNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventNotifier{pub: pub, queue: queue, logger: logger}
}

func (e *EventNotifier) RecordUpdated(context.Context, string) {}

func (e *EventNotifier) VideoCompleted(ctx context.Context, id, gcsURI string) {
	if err := e.pub.PublishJSON(ctx, e.queue, CompletedEvent{ID: id, GCSURI: gcsURI}); err != nil {
		e.logger.Warn("failed to publish completion event", zap.String("id", id), zap.Error(err))
	}
}
