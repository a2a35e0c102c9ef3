package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/illmade-knight/go-pubsub-harness/pkg/broker"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// noClientRetry turns off the admin client's own retry loop so withRetry alone
// decides how often a call is repeated.
var noClientRetry = gax.WithRetry(func() gax.Retryer { return nil })

var (
	// ErrTopicNotFound is returned when a subscription names a topic the broker does not have.
	ErrTopicNotFound = errors.New("provision: topic not found")
	// ErrClientRequired is returned when a Reconciler is built without a client.
	ErrClientRequired = errors.New("provision: pubsub client is required")
)

// ReconcilerConfig holds tuning for resource creation calls.
type ReconcilerConfig struct {
	// AckDeadline is applied to subscriptions created by the reconciler.
	AckDeadline time.Duration
	// RetryAttempts bounds how often a transient failure is retried per resource.
	RetryAttempts int
	RetryBase     time.Duration
	CallTimeout   time.Duration
}

// NewReconcilerDefaults provides a config with sensible defaults. RetryAttempts
// can be overridden with PROVISION_RETRY_ATTEMPTS.
func NewReconcilerDefaults() *ReconcilerConfig {
	cfg := &ReconcilerConfig{
		AckDeadline:   10 * time.Second,
		RetryAttempts: 3,
		RetryBase:     200 * time.Millisecond,
		CallTimeout:   15 * time.Second,
	}
	if ra := os.Getenv("PROVISION_RETRY_ATTEMPTS"); ra != "" {
		if val, err := strconv.Atoi(ra); err == nil && val >= 0 {
			cfg.RetryAttempts = val
		}
	}
	return cfg
}

// Reconciler applies a Topology to the broker. Every call is sequential and
// blocks until the broker answers.
type Reconciler struct {
	client *pubsub.Client
	cfg    ReconcilerConfig
	logger zerolog.Logger
}

// NewReconciler creates a Reconciler for the client's project.
func NewReconciler(cfg *ReconcilerConfig, client *pubsub.Client, logger zerolog.Logger) (*Reconciler, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	if cfg == nil {
		cfg = NewReconcilerDefaults()
	}
	return &Reconciler{
		client: client,
		cfg:    *cfg,
		logger: logger.With().Str("component", "Reconciler").Str("project_id", client.Project()).Logger(),
	}, nil
}

// Reconcile creates every topic and subscription in topo that is missing. It is
// best effort: failures are logged and recorded in the report and the remaining
// resources are still attempted. Subscriptions of a topic that could not be
// created are reported as skipped.
func (r *Reconciler) Reconcile(ctx context.Context, topo Topology) *Report {
	report := &Report{}
	r.logger.Info().
		Int("topics", len(topo)).
		Int("subscriptions", topo.Subscriptions()).
		Msg("Starting Pub/Sub configuration.")

	for _, spec := range topo {
		topicStatus, topicErr := r.EnsureTopic(ctx, spec.Name)
		report.add(Result{Kind: KindTopic, Name: spec.Name, Topic: spec.Name, Status: topicStatus, Err: topicErr})

		for _, sub := range spec.Subscriptions {
			if topicErr != nil {
				r.logger.Warn().Str("subscription_id", sub).Str("topic_id", spec.Name).Msg("Skipping subscription, its topic was not reconciled.")
				report.add(Result{
					Kind:   KindSubscription,
					Name:   sub,
					Topic:  spec.Name,
					Status: StatusSkipped,
					Err:    fmt.Errorf("topic %s not reconciled: %w", spec.Name, topicErr),
				})
				continue
			}
			subStatus, subErr := r.EnsureSubscription(ctx, sub, spec.Name)
			report.add(Result{Kind: KindSubscription, Name: sub, Topic: spec.Name, Status: subStatus, Err: subErr})
		}
	}

	r.logger.Info().
		Int("created", report.Created()).
		Int("existing", report.Existing()).
		Int("failed", report.Failed()).
		Msg("Configuration completed.")
	return report
}

// EnsureTopic creates the topic if it is absent. An existing topic is a success.
func (r *Reconciler) EnsureTopic(ctx context.Context, topicID string) (Status, error) {
	name := broker.TopicName(r.client.Project(), topicID)
	err := r.withRetry(ctx, func(ctx context.Context) error {
		_, err := r.client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: name}, noClientRetry)
		return err
	})

	switch {
	case err == nil:
		r.logger.Info().Str("topic_id", topicID).Msg("Topic created.")
		return StatusCreated, nil
	case broker.IsAlreadyExists(err):
		r.logger.Info().Str("topic_id", topicID).Msg("Topic exists.")
		return StatusExists, nil
	default:
		r.logger.Error().Err(err).Str("topic_id", topicID).Msg("Error creating topic.")
		return StatusFailed, fmt.Errorf("failed to create topic %s: %w", topicID, err)
	}
}

// EnsureSubscription creates a subscription bound to topicID if it is absent.
// When the topic does not exist the returned error wraps ErrTopicNotFound.
func (r *Reconciler) EnsureSubscription(ctx context.Context, subID, topicID string) (Status, error) {
	project := r.client.Project()
	req := &pubsubpb.Subscription{
		Name:               broker.SubscriptionName(project, subID),
		Topic:              broker.TopicName(project, topicID),
		AckDeadlineSeconds: int32(r.cfg.AckDeadline / time.Second),
	}
	err := r.withRetry(ctx, func(ctx context.Context) error {
		_, err := r.client.SubscriptionAdminClient.CreateSubscription(ctx, req, noClientRetry)
		return err
	})

	subLog := r.logger.With().Str("subscription_id", subID).Str("topic_id", topicID).Logger()
	switch {
	case err == nil:
		subLog.Info().Msg("Subscription created.")
		return StatusCreated, nil
	case broker.IsAlreadyExists(err):
		subLog.Info().Msg("Subscription exists.")
		return StatusExists, nil
	case broker.IsNotFound(err):
		subLog.Error().Err(err).Msg("Error creating subscription, topic not found.")
		return StatusFailed, fmt.Errorf("subscription %s: %w: %s", subID, ErrTopicNotFound, topicID)
	default:
		subLog.Error().Err(err).Msg("Error creating subscription.")
		return StatusFailed, fmt.Errorf("failed to create subscription %s: %w", subID, err)
	}
}

// withRetry runs fn with a per-call timeout, repeating it on transient broker errors.
func (r *Reconciler) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	base := r.cfg.RetryBase
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	backoff := retry.WithMaxRetries(uint64(max(r.cfg.RetryAttempts, 0)), retry.NewExponential(base))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx := ctx
		if r.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
			defer cancel()
		}
		err := fn(callCtx)
		if err == nil {
			return nil
		}
		// A call that ran out its own timeout is transient while the caller's ctx is live.
		timedOut := errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
		if broker.IsTransient(err) || timedOut {
			r.logger.Warn().Err(err).Msg("Transient broker error, retrying.")
			return retry.RetryableError(err)
		}
		return err
	})
}
