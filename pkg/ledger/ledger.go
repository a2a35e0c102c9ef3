package ledger

import "context"

// Ledger counts how many times each message has been delivered to a
// subscription. A count above one means the broker redelivered the message.
type Ledger interface {
	// Record registers one delivery and returns the total seen so far.
	Record(ctx context.Context, subscription, messageID string) (int64, error)
	// Count returns the deliveries recorded for a message, zero if none.
	Count(ctx context.Context, subscription, messageID string) (int64, error)
	Close() error
}

func key(subscription, messageID string) string {
	return "deliveries:" + subscription + ":" + messageID
}
