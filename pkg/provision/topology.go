package provision

import (
	"errors"
	"fmt"
	"sort"
)

// TopicSpec declares one topic and the subscriptions bound to it, in order.
type TopicSpec struct {
	Name          string   `yaml:"name"`
	Subscriptions []string `yaml:"subscriptions"`
}

// Topology is the desired set of topics and their subscriptions.
type Topology []TopicSpec

// TopologyFromMap builds a Topology from a topic -> subscriptions mapping.
// Topics are sorted by name so that reconciliation order is stable.
func TopologyFromMap(m map[string][]string) Topology {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	topo := make(Topology, 0, len(names))
	for _, name := range names {
		subs := append([]string(nil), m[name]...)
		topo = append(topo, TopicSpec{Name: name, Subscriptions: subs})
	}
	return topo
}

// Validate checks that names are non-empty and unique. A subscription can be
// bound to one topic only, so a name declared under two topics is rejected.
func (t Topology) Validate() error {
	var errs []error
	topics := make(map[string]bool, len(t))
	subs := make(map[string]string)
	for i, spec := range t {
		if spec.Name == "" {
			errs = append(errs, fmt.Errorf("topic #%d has an empty name", i))
			continue
		}
		if topics[spec.Name] {
			errs = append(errs, fmt.Errorf("topic %s is declared more than once", spec.Name))
		}
		topics[spec.Name] = true

		for _, sub := range spec.Subscriptions {
			if sub == "" {
				errs = append(errs, fmt.Errorf("topic %s has a subscription with an empty name", spec.Name))
				continue
			}
			if owner, ok := subs[sub]; ok {
				errs = append(errs, fmt.Errorf("subscription %s is bound to both %s and %s", sub, owner, spec.Name))
				continue
			}
			subs[sub] = spec.Name
		}
	}
	return errors.Join(errs...)
}

// Subscriptions returns the number of declared subscriptions.
func (t Topology) Subscriptions() int {
	n := 0
	for _, spec := range t {
		n += len(spec.Subscriptions)
	}
	return n
}
