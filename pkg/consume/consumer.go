package consume

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/illmade-knight/go-pubsub-harness/pkg/broker"
	"github.com/rs/zerolog"
)

var (
	// ErrClientRequired is returned when a Consumer is built without a client.
	ErrClientRequired = errors.New("consume: pubsub client is required")
	// ErrHandlerRequired is returned when a session is started without a handler.
	ErrHandlerRequired = errors.New("consume: handler is required")
	// ErrSubscriptionNotFound is returned when the subscription does not exist on the broker.
	ErrSubscriptionNotFound = errors.New("consume: subscription not found")
	// ErrIdleTimeout ends a session when no message arrives within the idle timeout.
	ErrIdleTimeout = errors.New("consume: no message received within idle timeout")
	// ErrReceive wraps a streaming pull failure that ended a session.
	ErrReceive = errors.New("consume: streaming pull failed")
)

// ConsumerConfig holds configuration for the Consumer and its sessions.
type ConsumerConfig struct {
	MaxOutstandingMessages int
	NumGoroutines          int
	// MaxExtension caps automatic lease extension per message. Zero keeps the
	// client default; once it passes an unsettled message is redelivered.
	MaxExtension time.Duration
	// IdleTimeout ends a session when no message arrives for this long. Zero disables it.
	IdleTimeout time.Duration
	// StopTimeout bounds how long Stop waits for in-flight handlers.
	StopTimeout   time.Duration
	ExistsTimeout time.Duration
	// NackOnError requests redelivery when a handler fails. When false a
	// failed delivery is acknowledged anyway.
	NackOnError bool
}

// NewConsumerDefaults provides a config with sensible defaults, overridable
// with CONSUMER_MAX_OUTSTANDING, CONSUMER_NUM_GOROUTINES and CONSUMER_IDLE_TIMEOUT.
func NewConsumerDefaults() *ConsumerConfig {
	cfg := &ConsumerConfig{
		MaxOutstandingMessages: 100,
		NumGoroutines:          5,
		StopTimeout:            30 * time.Second,
		ExistsTimeout:          20 * time.Second,
		NackOnError:            true,
	}
	if mo := os.Getenv("CONSUMER_MAX_OUTSTANDING"); mo != "" {
		if val, err := strconv.Atoi(mo); err == nil {
			cfg.MaxOutstandingMessages = val
		}
	}
	if ng := os.Getenv("CONSUMER_NUM_GOROUTINES"); ng != "" {
		if val, err := strconv.Atoi(ng); err == nil {
			cfg.NumGoroutines = val
		}
	}
	if it := os.Getenv("CONSUMER_IDLE_TIMEOUT"); it != "" {
		if val, err := time.ParseDuration(it); err == nil {
			cfg.IdleTimeout = val
		}
	}
	return cfg
}

// Consumer opens streaming pull sessions against subscriptions.
type Consumer struct {
	client *pubsub.Client
	cfg    ConsumerConfig
	logger zerolog.Logger
}

// NewConsumer creates a new Consumer.
func NewConsumer(cfg *ConsumerConfig, client *pubsub.Client, logger zerolog.Logger) (*Consumer, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	if cfg == nil {
		cfg = NewConsumerDefaults()
	}
	return &Consumer{
		client: client,
		cfg:    *cfg,
		logger: logger.With().Str("component", "Consumer").Logger(),
	}, nil
}

// Start verifies the subscription exists and opens a session that calls h for
// every delivery on its own goroutines. The session ends when ctx is done,
// Stop is called, the idle timeout elapses or the stream fails.
func (c *Consumer) Start(ctx context.Context, subscriptionID string, h Handler) (*Session, error) {
	if h == nil {
		return nil, ErrHandlerRequired
	}
	if err := c.checkSubscription(ctx, subscriptionID); err != nil {
		return nil, err
	}

	sub := c.client.Subscriber(subscriptionID)
	sub.ReceiveSettings.MaxOutstandingMessages = c.cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = c.cfg.NumGoroutines
	if c.cfg.MaxExtension != 0 {
		sub.ReceiveSettings.MaxExtension = c.cfg.MaxExtension
	}

	s := newSession(subscriptionID, sub, h, c.cfg, c.logger)
	s.start(ctx)
	return s, nil
}

// Listen starts a session and blocks until it terminates. It returns nil when
// the session was cancelled.
func (c *Consumer) Listen(ctx context.Context, subscriptionID string, h Handler) error {
	s, err := c.Start(ctx, subscriptionID, h)
	if err != nil {
		return err
	}
	return s.Wait()
}

func (c *Consumer) checkSubscription(ctx context.Context, subscriptionID string) error {
	existsCtx := ctx
	if c.cfg.ExistsTimeout > 0 {
		var cancel context.CancelFunc
		existsCtx, cancel = context.WithTimeout(ctx, c.cfg.ExistsTimeout)
		defer cancel()
	}
	_, err := c.client.SubscriptionAdminClient.GetSubscription(existsCtx, &pubsubpb.GetSubscriptionRequest{
		Subscription: broker.SubscriptionName(c.client.Project(), subscriptionID),
	})
	switch {
	case err == nil:
		return nil
	case broker.IsNotFound(err):
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
	default:
		return fmt.Errorf("failed to check for subscription %s: %w", subscriptionID, err)
	}
}
