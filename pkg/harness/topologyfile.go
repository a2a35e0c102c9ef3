package harness

import (
	"fmt"
	"os"

	"github.com/illmade-knight/go-pubsub-harness/pkg/provision"
	"gopkg.in/yaml.v3"
)

type topologyFile struct {
	Topics provision.Topology `yaml:"topics"`
}

// LoadTopologyFile reads a YAML document of the form
//
//	topics:
//	  - name: api-req
//	    subscriptions: [sub-api-req]
func LoadTopologyFile(path string) (provision.Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology file: %w", err)
	}
	return ParseTopology(data)
}

// ParseTopology decodes and validates a YAML topology document.
func ParseTopology(data []byte) (provision.Topology, error) {
	var f topologyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}
	if err := f.Topics.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}
	return f.Topics, nil
}
