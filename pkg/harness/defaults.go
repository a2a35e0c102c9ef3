package harness

import (
	"github.com/illmade-knight/go-pubsub-harness/pkg/payload"
	"github.com/illmade-knight/go-pubsub-harness/pkg/provision"
	"github.com/illmade-knight/go-pubsub-harness/pkg/publish"
)

// DefaultTopology is the request/response pair used by the API workers.
func DefaultTopology() provision.Topology {
	return provision.Topology{
		{Name: "api-req", Subscriptions: []string{"sub-api-req"}},
		{Name: "api-res", Subscriptions: []string{"sub-api-res"}},
	}
}

// DefaultAttributes are attached to every message the publish command sends.
func DefaultAttributes() map[string]string {
	return map[string]string{
		"origin": "go-harness",
		"type":   "test-element",
	}
}

// DefaultBatches is the payload list the publish command sends.
func DefaultBatches() []publish.Batch {
	return []publish.Batch{
		{
			Topic: "api-req",
			Payloads: []any{
				payload.APIRequest{
					Endpoint: "/data/league/season_sessions",
					Params:   map[string]string{"league_id": "4403", "season_id": "0"},
				},
			},
		},
	}
}
