package harness

import (
	"fmt"
	"os"
	"time"

	"github.com/illmade-knight/go-pubsub-harness/pkg/broker"
	"github.com/illmade-knight/go-pubsub-harness/pkg/consume"
	"github.com/illmade-knight/go-pubsub-harness/pkg/ledger"
	"github.com/illmade-knight/go-pubsub-harness/pkg/provision"
	"github.com/illmade-knight/go-pubsub-harness/pkg/publish"
)

const (
	DefaultEmulatorHost   = "localhost:8085"
	DefaultSubscriptionID = "sub-api-res"
)

// Config is everything the three entry points need. It is built once from the
// environment and handed to each component explicitly.
type Config struct {
	Broker         broker.Config
	LogLevel       string
	SubscriptionID string
	// TopologyFile optionally replaces the built-in topology.
	TopologyFile string
	// HealthAddr enables a /healthz endpoint on the subscribe command when set.
	HealthAddr string
	// Redis is nil when no ledger address is configured.
	Redis *ledger.RedisConfig

	Reconciler *provision.ReconcilerConfig
	Publisher  *publish.PublisherConfig
	Consumer   *consume.ConsumerConfig
}

// LoadConfigFromEnv reads PROJECT_ID, PUBSUB_EMULATOR_HOST (unset means the local
// emulator, set but empty means the real service), PUBSUB_CREDENTIALS_FILE,
// LOG_LEVEL, SUBSCRIPTION_ID, TOPOLOGY_FILE, HEALTH_ADDR and REDIS_ADDR. Component tuning
// comes from each component's defaults constructor.
func LoadConfigFromEnv() (*Config, error) {
	cfg := &Config{
		Broker: broker.Config{
			ProjectID:       os.Getenv("PROJECT_ID"),
			EmulatorHost:    emulatorHost(),
			CredentialsFile: os.Getenv("PUBSUB_CREDENTIALS_FILE"),
		},
		LogLevel:       getenvDefault("LOG_LEVEL", "info"),
		SubscriptionID: getenvDefault("SUBSCRIPTION_ID", DefaultSubscriptionID),
		TopologyFile:   os.Getenv("TOPOLOGY_FILE"),
		HealthAddr:     os.Getenv("HEALTH_ADDR"),
		Reconciler:     provision.NewReconcilerDefaults(),
		Publisher:      publish.NewPublisherDefaults(),
		Consumer:       consume.NewConsumerDefaults(),
	}
	cfg.Publisher.DefaultAttributes = DefaultAttributes()

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis = &ledger.RedisConfig{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			TTL:      24 * time.Hour,
		}
	}

	if cfg.Broker.ProjectID == "" {
		return nil, fmt.Errorf("PROJECT_ID must be set")
	}
	return cfg, nil
}

// Topology returns the topology from TopologyFile when set, the built-in one otherwise.
func (c *Config) Topology() (provision.Topology, error) {
	if c.TopologyFile == "" {
		return DefaultTopology(), nil
	}
	return LoadTopologyFile(c.TopologyFile)
}

func emulatorHost() string {
	if v, ok := os.LookupEnv("PUBSUB_EMULATOR_HOST"); ok {
		return v
	}
	return DefaultEmulatorHost
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
