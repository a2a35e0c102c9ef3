package consume

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/illmade-knight/go-pubsub-harness/pkg/ledger"
	"github.com/illmade-knight/go-pubsub-harness/pkg/payload"
	"github.com/rs/zerolog"
)

// Handler processes one delivery. It may be called concurrently with itself.
// If it leaves the delivery unsettled the session acks it on a nil return and
// applies the consumer's error policy otherwise.
type Handler func(ctx context.Context, d *Delivery) error

// callHandler runs h and turns a panic into an error so one bad message
// cannot take the session down.
func callHandler(ctx context.Context, logger zerolog.Logger, h Handler, d *Delivery) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			logger.Error().
				Str("msg_id", d.Message.ID).
				Interface("panic", rvr).
				Str("stack", string(debug.Stack())).
				Msg("Panic in message handler.")
			err = fmt.Errorf("consume: panic in handler: %v", rvr)
		}
	}()
	return h(ctx, d)
}

// LogHandler logs every delivery with its attributes and payload. JSON bodies
// are logged as JSON, anything else in a quoted raw form. Decoding never
// fails the delivery. When l is not nil each delivery is recorded and
// redeliveries are reported.
func LogHandler(logger zerolog.Logger, l ledger.Ledger) Handler {
	return func(ctx context.Context, d *Delivery) error {
		msg := d.Message
		if l != nil {
			count, err := l.Record(ctx, d.Subscription, msg.ID)
			if err != nil {
				logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("Failed to record delivery.")
			} else if count > 1 {
				logger.Warn().Str("msg_id", msg.ID).Int64("deliveries", count).Msg("Message redelivered.")
			}
		}

		ev := logger.Info().
			Str("subscription_id", d.Subscription).
			Str("msg_id", msg.ID)
		if len(msg.Attributes) > 0 {
			attrs := zerolog.Dict()
			for k, v := range msg.Attributes {
				attrs = attrs.Str(k, v)
			}
			ev = ev.Dict("attributes", attrs)
		}

		decoded := payload.Decode(msg.Data)
		if decoded.JSON {
			ev.RawJSON("payload_json", msg.Data).Msg("Message received.")
			logger.Debug().Str("msg_id", msg.ID).Msg("Payload (JSON):\n" + payload.Pretty(msg.Data))
			return nil
		}
		ev.Str("payload_raw", fmt.Sprintf("%q", msg.Data)).Msg("Message received.")
		return nil
	}
}
