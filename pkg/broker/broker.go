package broker

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// ErrProjectIDRequired is returned when a client is requested without a project.
var ErrProjectIDRequired = errors.New("broker: project id is required")

// Config describes how to reach the broker. It is passed explicitly to every
// component, nothing is read from or written to the process environment here.
type Config struct {
	ProjectID string
	// EmulatorHost is a host:port of a local emulator. When set the client
	// dials it in plaintext without credentials.
	EmulatorHost    string
	CredentialsFile string // Optional
}

// NewClient creates a Pub/Sub client for cfg. Extra options are appended last
// so tests can inject a connection to an in-process server.
func NewClient(ctx context.Context, cfg *Config, logger zerolog.Logger, extra ...option.ClientOption) (*pubsub.Client, error) {
	if cfg == nil || cfg.ProjectID == "" {
		return nil, ErrProjectIDRequired
	}

	var opts []option.ClientOption
	if cfg.EmulatorHost != "" {
		opts = append(opts,
			option.WithEndpoint(cfg.EmulatorHost),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, extra...)

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("broker: pubsub new client: %w", err)
	}

	logger.Info().
		Str("project_id", cfg.ProjectID).
		Str("emulator_host", cfg.EmulatorHost).
		Msg("Pub/Sub client created.")
	return client, nil
}

// TopicName returns the fully qualified name of a topic.
func TopicName(projectID, topicID string) string {
	return fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
}

// SubscriptionName returns the fully qualified name of a subscription.
func SubscriptionName(projectID, subID string) string {
	return fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
}

// IsAlreadyExists reports whether err is the broker's already-exists status.
func IsAlreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}

// IsNotFound reports whether err is the broker's not-found status.
func IsNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// IsTransient reports whether a failed call is worth repeating.
func IsTransient(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	}
	return false
}
