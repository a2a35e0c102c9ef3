package publish

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-pubsub-harness/pkg/payload"
	"github.com/rs/zerolog"
)

// CorrelationIDAttribute is stamped on every message unless the caller sets it.
const CorrelationIDAttribute = "correlation_id"

var (
	// ErrPublish wraps any broker or network failure while publishing.
	ErrPublish = errors.New("publish: broker rejected message")
	// ErrClientRequired is returned when a Publisher is built without a client.
	ErrClientRequired = errors.New("publish: pubsub client is required")
	// ErrTopicRequired is returned when Publish is called with an empty topic.
	ErrTopicRequired = errors.New("publish: topic is required")
)

// PublisherConfig holds configuration for the Publisher.
type PublisherConfig struct {
	// DefaultAttributes are attached to every message. Caller attributes win on conflict.
	DefaultAttributes map[string]string
	// Pacing is the delay between two consecutive sends of a batch.
	Pacing time.Duration
	// PublishTimeout bounds the wait for the broker's message id.
	PublishTimeout     time.Duration
	StampCorrelationID bool
}

// NewPublisherDefaults provides a config with sensible defaults. PUBLISH_PACING
// and PUBLISH_TIMEOUT override the durations.
func NewPublisherDefaults() *PublisherConfig {
	cfg := &PublisherConfig{
		DefaultAttributes:  map[string]string{},
		Pacing:             time.Second,
		PublishTimeout:     20 * time.Second,
		StampCorrelationID: true,
	}
	if p := os.Getenv("PUBLISH_PACING"); p != "" {
		if val, err := time.ParseDuration(p); err == nil {
			cfg.Pacing = val
		}
	}
	if pt := os.Getenv("PUBLISH_TIMEOUT"); pt != "" {
		if val, err := time.ParseDuration(pt); err == nil {
			cfg.PublishTimeout = val
		}
	}
	return cfg
}

// Publisher sends JSON documents to topics and waits for each confirmation.
// One underlying publisher is kept per topic and reused.
type Publisher struct {
	client *pubsub.Client
	cfg    PublisherConfig
	logger zerolog.Logger

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewPublisher creates a new Publisher.
func NewPublisher(cfg *PublisherConfig, client *pubsub.Client, logger zerolog.Logger) (*Publisher, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	if cfg == nil {
		cfg = NewPublisherDefaults()
	}
	return &Publisher{
		client:     client,
		cfg:        *cfg,
		logger:     logger.With().Str("component", "Publisher").Logger(),
		publishers: make(map[string]*pubsub.Publisher),
	}, nil
}

// Publish serializes doc to JSON and publishes it, blocking until the broker
// returns the message id. A document that cannot be serialized is never sent
// and the error wraps payload.ErrSerialization.
func (p *Publisher) Publish(ctx context.Context, topicID string, doc any, attributes map[string]string) (string, error) {
	data, err := payload.Encode(doc)
	if err != nil {
		p.logger.Error().Err(err).Str("topic_id", topicID).Msg("Failed to serialize payload.")
		return "", err
	}
	return p.PublishBytes(ctx, topicID, data, attributes)
}

// PublishBytes publishes an already encoded body.
func (p *Publisher) PublishBytes(ctx context.Context, topicID string, data []byte, attributes map[string]string) (string, error) {
	if topicID == "" {
		return "", ErrTopicRequired
	}
	attrs := p.attributes(attributes)

	res := p.publisher(topicID).Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	getCtx := ctx
	if p.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		getCtx, cancel = context.WithTimeout(ctx, p.cfg.PublishTimeout)
		defer cancel()
	}
	msgID, err := res.Get(getCtx)
	if err != nil {
		p.logger.Error().Err(err).Str("topic_id", topicID).Msg("Error during publishing.")
		return "", fmt.Errorf("%w: topic %s: %w", ErrPublish, topicID, err)
	}

	p.logger.Info().
		Str("topic_id", topicID).
		Str("msg_id", msgID).
		Str(CorrelationIDAttribute, attrs[CorrelationIDAttribute]).
		Bytes("payload", data).
		Msg("Message published.")
	return msgID, nil
}

// attributes merges the configured defaults with the caller's attributes.
func (p *Publisher) attributes(attributes map[string]string) map[string]string {
	attrs := make(map[string]string, len(p.cfg.DefaultAttributes)+len(attributes)+1)
	maps.Copy(attrs, p.cfg.DefaultAttributes)
	maps.Copy(attrs, attributes)
	if p.cfg.StampCorrelationID {
		if _, ok := attrs[CorrelationIDAttribute]; !ok {
			attrs[CorrelationIDAttribute] = uuid.NewString()
		}
	}
	return attrs
}

func (p *Publisher) publisher(topicID string) *pubsub.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pub, ok := p.publishers[topicID]; ok {
		return pub
	}
	pub := p.client.Publisher(topicID)
	p.publishers[topicID] = pub
	return pub
}

// Stop flushes and stops every topic publisher, respecting the context's timeout.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	pubs := make([]*pubsub.Publisher, 0, len(p.publishers))
	for _, pub := range p.publishers {
		pubs = append(pubs, pub)
	}
	p.publishers = make(map[string]*pubsub.Publisher)
	p.mu.Unlock()

	// Publisher.Stop is blocking, so we wrap it to respect the context timeout.
	stopDone := make(chan struct{})
	go func() {
		for _, pub := range pubs {
			pub.Stop()
		}
		close(stopDone)
	}()

	select {
	case <-stopDone:
		p.logger.Info().Int("topics", len(pubs)).Msg("Publisher stopped.")
		return nil
	case <-ctx.Done():
		p.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for publishers to flush and stop.")
		return ctx.Err()
	}
}
