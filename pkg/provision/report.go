package provision

// Kind is the type of a broker resource.
type Kind string

const (
	KindTopic        Kind = "topic"
	KindSubscription Kind = "subscription"
)

// Status is the outcome of reconciling one resource.
type Status string

const (
	StatusCreated Status = "created"
	StatusExists  Status = "exists"
	StatusFailed  Status = "failed"
	// StatusSkipped means the resource was not attempted because its topic failed.
	StatusSkipped Status = "skipped"
)

// Result records what happened to a single declared resource.
type Result struct {
	Kind   Kind
	Name   string
	Topic  string
	Status Status
	Err    error
}

// Report holds one Result per declared resource, in reconciliation order.
type Report struct {
	Results []Result
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
}

func (r *Report) count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Created is the number of resources created by this run.
func (r *Report) Created() int { return r.count(StatusCreated) }

// Existing is the number of resources that were already present.
func (r *Report) Existing() int { return r.count(StatusExists) }

// Failed is the number of resources that failed or were skipped.
func (r *Report) Failed() int { return r.count(StatusFailed) + r.count(StatusSkipped) }

// OK reports whether every declared resource is now present on the broker.
func (r *Report) OK() bool { return r.Failed() == 0 }
