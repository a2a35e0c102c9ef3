package publish

import (
	"context"
	"time"
)

// Batch is a list of documents destined for one topic.
type Batch struct {
	Topic      string
	Payloads   []any
	Attributes map[string]string
}

// Result is the outcome of publishing one document of a batch.
type Result struct {
	Topic     string
	Index     int
	MessageID string
	Err       error
}

// Report collects one Result per document, in send order.
type Report struct {
	Results []Result
}

// Published is the number of documents the broker confirmed.
func (r *Report) Published() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Failed is the number of documents that were not confirmed.
func (r *Report) Failed() int { return len(r.Results) - r.Published() }

// PublishBatch publishes every document sequentially, one at a time, waiting
// the configured pacing between consecutive sends. A failed document is logged
// and the loop continues. When ctx is cancelled the remaining documents are
// reported with the context error.
func (p *Publisher) PublishBatch(ctx context.Context, batches []Batch) *Report {
	report := &Report{}
	sent := 0
	for _, b := range batches {
		p.logger.Info().Str("topic_id", b.Topic).Int("messages", len(b.Payloads)).Msg("Sending data.")
		for i, doc := range b.Payloads {
			if sent > 0 {
				if err := p.pause(ctx); err != nil {
					report.Results = append(report.Results, Result{Topic: b.Topic, Index: i, Err: err})
					continue
				}
			}
			sent++
			msgID, err := p.Publish(ctx, b.Topic, doc, b.Attributes)
			report.Results = append(report.Results, Result{Topic: b.Topic, Index: i, MessageID: msgID, Err: err})
		}
	}
	p.logger.Info().
		Int("published", report.Published()).
		Int("failed", report.Failed()).
		Msg("Sending completed.")
	return report
}

func (p *Publisher) pause(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.cfg.Pacing <= 0 {
		return nil
	}
	timer := time.NewTimer(p.cfg.Pacing)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
