package consume

import (
	"maps"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub/v2"
)

// Message is a read-only view of a received message.
type Message struct {
	// ID is the identifier the broker assigned at publish time.
	ID          string
	Data        []byte
	Attributes  map[string]string
	PublishTime time.Time
	// DeliveryAttempt is zero when the broker does not report attempts.
	DeliveryAttempt int
}

const (
	pending int32 = iota
	acked
	nacked
)

// AckHandle settles one delivery attempt. A redelivery of the same message
// comes with a new handle; a handle settles at most once.
type AckHandle struct {
	ack   func()
	nack  func()
	state atomic.Int32
}

// NewAckHandle wraps the settle functions of one delivery attempt.
func NewAckHandle(ack, nack func()) *AckHandle {
	return &AckHandle{ack: ack, nack: nack}
}

// Ack tells the broker the delivery was processed. It returns false if the
// handle was already settled.
func (h *AckHandle) Ack() bool {
	if !h.state.CompareAndSwap(pending, acked) {
		return false
	}
	if h.ack != nil {
		h.ack()
	}
	return true
}

// Nack asks the broker to redeliver the message. It returns false if the
// handle was already settled.
func (h *AckHandle) Nack() bool {
	if !h.state.CompareAndSwap(pending, nacked) {
		return false
	}
	if h.nack != nil {
		h.nack()
	}
	return true
}

// Settled reports whether Ack or Nack has been called.
func (h *AckHandle) Settled() bool { return h.state.Load() != pending }

// Acked reports whether the delivery was acknowledged.
func (h *AckHandle) Acked() bool { return h.state.Load() == acked }

// Delivery is one message handed to one subscription.
type Delivery struct {
	Subscription string
	Message      Message
	Handle       *AckHandle
}

func newDelivery(subscription string, msg *pubsub.Message) *Delivery {
	payloadCopy := make([]byte, len(msg.Data))
	copy(payloadCopy, msg.Data)

	attempt := 0
	if msg.DeliveryAttempt != nil {
		attempt = *msg.DeliveryAttempt
	}
	return &Delivery{
		Subscription: subscription,
		Message: Message{
			ID:              msg.ID,
			Data:            payloadCopy,
			Attributes:      maps.Clone(msg.Attributes),
			PublishTime:     msg.PublishTime,
			DeliveryAttempt: attempt,
		},
		Handle: NewAckHandle(msg.Ack, msg.Nack),
	}
}
