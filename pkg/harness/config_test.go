package harness_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/illmade-knight/go-pubsub-harness/pkg/harness"
	"github.com/illmade-knight/go-pubsub-harness/pkg/provision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("PROJECT_ID", "local-project")
		unsetenv(t, "PUBSUB_EMULATOR_HOST")
		t.Setenv("SUBSCRIPTION_ID", "")
		t.Setenv("REDIS_ADDR", "")

		cfg, err := harness.LoadConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "local-project", cfg.Broker.ProjectID)
		assert.Equal(t, harness.DefaultEmulatorHost, cfg.Broker.EmulatorHost)
		assert.Equal(t, harness.DefaultSubscriptionID, cfg.SubscriptionID)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Nil(t, cfg.Redis)
		assert.Equal(t, harness.DefaultAttributes(), cfg.Publisher.DefaultAttributes)
		require.NotNil(t, cfg.Consumer)
		require.NotNil(t, cfg.Reconciler)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("PROJECT_ID", "p")
		t.Setenv("PUBSUB_EMULATOR_HOST", "pubsub:8681")
		t.Setenv("SUBSCRIPTION_ID", "sub-api-req")
		t.Setenv("REDIS_ADDR", "redis:6379")
		t.Setenv("PUBLISH_PACING", "250ms")

		cfg, err := harness.LoadConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "pubsub:8681", cfg.Broker.EmulatorHost)
		assert.Equal(t, "sub-api-req", cfg.SubscriptionID)
		require.NotNil(t, cfg.Redis)
		assert.Equal(t, "redis:6379", cfg.Redis.Addr)
		assert.Equal(t, "250ms", cfg.Publisher.Pacing.String())
	})

	t.Run("empty emulator host selects the real service", func(t *testing.T) {
		t.Setenv("PROJECT_ID", "real-project")
		t.Setenv("PUBSUB_EMULATOR_HOST", "")
		t.Setenv("PUBSUB_CREDENTIALS_FILE", "/etc/sa.json")

		cfg, err := harness.LoadConfigFromEnv()
		require.NoError(t, err)
		assert.Empty(t, cfg.Broker.EmulatorHost)
		assert.Equal(t, "/etc/sa.json", cfg.Broker.CredentialsFile)
	})

	t.Run("missing project", func(t *testing.T) {
		t.Setenv("PROJECT_ID", "")
		_, err := harness.LoadConfigFromEnv()
		require.Error(t, err)
	})
}

// unsetenv removes key for the duration of the test; t.Setenv restores it afterwards.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestConfig_Topology(t *testing.T) {
	cfg := &harness.Config{}
	topo, err := cfg.Topology()
	require.NoError(t, err)
	assert.Equal(t, harness.DefaultTopology(), topo)

	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte("topics:\n  - name: events\n    subscriptions: [sub-events-a, sub-events-b]\n"), 0o644))

	cfg.TopologyFile = path
	topo, err = cfg.Topology()
	require.NoError(t, err)
	assert.Equal(t, provision.Topology{{Name: "events", Subscriptions: []string{"sub-events-a", "sub-events-b"}}}, topo)

	cfg.TopologyFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = cfg.Topology()
	require.Error(t, err)
}

func TestParseTopology(t *testing.T) {
	testCases := []struct {
		name    string
		doc     string
		want    provision.Topology
		wantErr bool
	}{
		{
			name: "two topics",
			doc: `
topics:
  - name: api-req
    subscriptions:
      - sub-api-req
  - name: api-res
    subscriptions: [sub-api-res]
`,
			want: harness.DefaultTopology(),
		},
		{
			name:    "malformed yaml",
			doc:     "topics: [",
			wantErr: true,
		},
		{
			name:    "duplicate subscription",
			doc:     "topics:\n  - name: a\n    subscriptions: [s]\n  - name: b\n    subscriptions: [s]\n",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := harness.ParseTopology([]byte(tc.doc))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDefaultBatches(t *testing.T) {
	batches := harness.DefaultBatches()
	require.Len(t, batches, 1)
	assert.Equal(t, "api-req", batches[0].Topic)
	assert.Len(t, batches[0].Payloads, 1)
}
