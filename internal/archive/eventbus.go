package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/dynamicworkspace/presence-sensor/internal/calibration"
	"github.com/dynamicworkspace/presence-sensor/internal/posture"
)

const postureEventsStream = "POSTURE_EVENTS"
const postureEventsSubjectBase = "posture"

// postureEvent is the JSON payload published for every committed posture
// transition, independent of any connected websocket client.
type postureEvent struct {
	SessionID string    `json:"session_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	At        time.Time `json:"at"`
}

// EventBus publishes committed posture transitions to NATS JetStream so
// external automation (do-not-disturb toggles, dashboards) can subscribe
// without a websocket connection. Grounded on queue.Producer's
// connect/EnsureStreams/Publish idiom; calibration events are not published
// here since they have no external subscriber in this spec.
type EventBus struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// NewEventBus connects to NATS and wraps it in a JetStream context.
func NewEventBus(natsURL string) (*EventBus, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &EventBus{nc: nc, js: js}, nil
}

// EnsureStream creates the posture events stream if it doesn't exist.
func (b *EventBus) EnsureStream(ctx context.Context) error {
	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        postureEventsStream,
		Subjects:    []string{postureEventsSubjectBase + ".>"},
		Retention:   jetstream.InterestPolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     1000000,
		Storage:     jetstream.FileStorage,
		Description: "Committed posture state transitions",
	})
	if err != nil {
		return fmt.Errorf("ensure posture events stream: %w", err)
	}
	return nil
}

func (b *EventBus) RecordTransition(ctx context.Context, sessionID uuid.UUID, t posture.Transition) error {
	payload, err := json.Marshal(postureEvent{
		SessionID: sessionID.String(),
		From:      string(t.From),
		To:        string(t.To),
		At:        t.At,
	})
	if err != nil {
		return fmt.Errorf("marshal posture event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", postureEventsSubjectBase, sessionID)
	if _, err := b.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish posture event: %w", err)
	}
	return nil
}

func (b *EventBus) RecordCalibration(context.Context, uuid.UUID, calibration.Phase, []byte, calibration.Profile) error {
	return nil
}

// Ping checks connectivity for the readiness endpoint.
func (b *EventBus) Ping(context.Context) error {
	if !b.nc.IsConnected() {
		return fmt.Errorf("nats: not connected")
	}
	return nil
}

func (b *EventBus) Close() {
	b.nc.Close()
}
