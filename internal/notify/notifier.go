// Package notify delivers booking events to external sinks. Delivery is best
// effort: callers log failures and never undo the booking.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const EventBookingCreated = "booking.created"

// Event is the envelope sent to every sink.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEvent wraps payload in an envelope with a fresh id.
func NewEvent(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    data,
	}, nil
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
	// Name identifies the driver in logs and metrics.
	Name() string
}

// NoopNotifier only logs. It is the default when no sink is configured.
type NoopNotifier struct {
	logger zerolog.Logger
}

func NewNoopNotifier(logger zerolog.Logger) *NoopNotifier {
	return &NoopNotifier{logger: logger}
}

func (n *NoopNotifier) Notify(_ context.Context, ev Event) error {
	n.logger.Debug().Str("event_id", ev.ID).Str("event_type", ev.Type).Msg("noop notify")
	return nil
}

func (n *NoopNotifier) Name() string { return "noop" }
