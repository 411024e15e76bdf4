// Package wake receives server-sent wake commands over Pub/Sub and turns
// them into burst transitions on the tracking supervisor.
package wake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Waker is the supervisor-side hook a wake command lands on.
type Waker interface {
	Wake()
}

// ListenerConfig holds configuration for the wake listener.
type ListenerConfig struct {
	ProjectID        string
	SubscriptionName string
	Waker            Waker
	Logger           zerolog.Logger
}

// command is the wake message payload. DeviceID is optional; the
// subscription is already device-scoped, the field exists for log
// correlation.
type command struct {
	Command  string `json:"command"`
	DeviceID string `json:"device_id,omitempty"`
}

// Listener consumes the device's wake subscription.
type Listener struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	waker            Waker
	logger           zerolog.Logger
}

// NewListener creates a wake listener.
func NewListener(ctx context.Context, cfg ListenerConfig) (*Listener, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Wake commands are tiny and rare; keep the pipeline small.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 4
	subscriber.ReceiveSettings.MaxExtension = time.Minute

	return &Listener{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		waker:            cfg.Waker,
		logger:           cfg.Logger,
	}, nil
}

// Start blocks receiving wake commands until the context is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	l.logger.Info().
		Str("subscription", l.subscriptionName).
		Msg("starting wake listener")

	return l.subscriber.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
		l.handleMessage(msg)
	})
}

// Close closes the Pub/Sub client.
func (l *Listener) Close() error {
	return l.client.Close()
}

func (l *Listener) handleMessage(msg *pubsub.Message) {
	logger := l.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	cmd, err := decodeCommand(msg.Data)
	if err != nil {
		logger.Error().Err(err).Msg("failed to parse wake message")
		// Malformed payloads never become parseable; redelivery is noise.
		msg.Ack()
		return
	}

	switch cmd.Command {
	case "wake":
		l.waker.Wake()
		logger.Info().Str("device_id", cmd.DeviceID).Msg("wake command applied")
	default:
		logger.Warn().Str("command", cmd.Command).Msg("unknown wake command")
	}
	msg.Ack()
}

// decodeCommand parses a wake message payload.
func decodeCommand(data []byte) (command, error) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return command{}, fmt.Errorf("unmarshal wake command: %w", err)
	}
	if cmd.Command == "" {
		return command{}, fmt.Errorf("wake command missing command field")
	}
	return cmd, nil
}
