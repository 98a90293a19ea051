package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Config holds configuration for the Pub/Sub relay.
type Config struct {
	ProjectID string

	// RequestSubscription receives requests from the chat bot.
	RequestSubscription string

	// ReplyTopic is where replies are published.
	ReplyTopic string
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv() Config {
	return Config{
		ProjectID:           os.Getenv("PUBSUB_PROJECT_ID"),
		RequestSubscription: getEnvOrDefault("BOT_REQUEST_SUBSCRIPTION", "raincheck-bot-requests"),
		ReplyTopic:          getEnvOrDefault("BOT_REPLY_TOPIC", "raincheck-bot-replies"),
	}
}

// Enabled reports whether a project is configured.
func (c Config) Enabled() bool {
	return c.ProjectID != ""
}

// PubSubRelay feeds requests from a subscription to a Dispatcher and
// publishes the replies. Replies of one request share an ordering key so the
// bot sees them in sequence.
type PubSubRelay struct {
	client     *pubsub.Client
	subscriber *pubsub.Subscriber
	publisher  *pubsub.Publisher
	config     Config
	dispatcher *Dispatcher
	logger     zerolog.Logger
}

// NewPubSubRelay creates a new relay.
func NewPubSubRelay(ctx context.Context, cfg Config, dispatcher *Dispatcher, logger zerolog.Logger) (*PubSubRelay, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.RequestSubscription)
	subscriber.ReceiveSettings.MaxOutstandingMessages = 10
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	publisher := client.Publisher(cfg.ReplyTopic)
	publisher.EnableMessageOrdering = true

	return &PubSubRelay{
		client:     client,
		subscriber: subscriber,
		publisher:  publisher,
		config:     cfg,
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// Start processes requests until ctx is cancelled.
func (r *PubSubRelay) Start(ctx context.Context) error {
	r.logger.Info().
		Str("subscription", r.config.RequestSubscription).
		Str("topic", r.config.ReplyTopic).
		Msg("starting bot relay")

	return r.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		r.handleMessage(ctx, msg)
	})
}

// Close flushes pending replies and closes the client.
func (r *PubSubRelay) Close() error {
	r.publisher.Stop()
	return r.client.Close()
}

func (r *PubSubRelay) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := r.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	err := r.dispatcher.Handle(ctx, msg.Data, r.publish)
	switch {
	case errors.Is(err, ErrMalformedRequest):
		// redelivery cannot fix it
		logger.Warn().Err(err).Msg("dropping malformed request")
		msg.Ack()
		return
	case err != nil:
		logger.Error().Err(err).Msg("failed to publish reply")
		msg.Nack()
		return
	}

	logger.Debug().
		Dur("duration", time.Since(startTime)).
		Msg("request handled")
	msg.Ack()
}

func (r *PubSubRelay) publish(ctx context.Context, reply Reply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encoding reply: %w", err)
	}

	result := r.publisher.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: reply.RequestID,
		Attributes: map[string]string{
			"requestId": reply.RequestID,
			"session":   reply.Session,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		r.publisher.ResumePublish(reply.RequestID)
		return fmt.Errorf("publishing reply: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
