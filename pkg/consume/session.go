package consume

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// State is the lifecycle stage of a Session.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Session is one streaming pull against a subscription. It is not restartable.
type Session struct {
	subscriptionID string
	subscriber     *pubsub.Subscriber
	handler        Handler
	cfg            ConsumerConfig
	logger         zerolog.Logger

	state     atomic.Int32
	delivered atomic.Int64
	activity  chan struct{}
	cancel    context.CancelCauseFunc
	stopOnce  sync.Once
	done      chan struct{}
	err       error
}

func newSession(subscriptionID string, sub *pubsub.Subscriber, h Handler, cfg ConsumerConfig, logger zerolog.Logger) *Session {
	return &Session{
		subscriptionID: subscriptionID,
		subscriber:     sub,
		handler:        h,
		cfg:            cfg,
		logger:         logger.With().Str("subscription_id", subscriptionID).Logger(),
		activity:       make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
}

func (s *Session) start(ctx context.Context) {
	receiveCtx, cancel := context.WithCancelCause(ctx)
	s.cancel = cancel
	s.state.Store(int32(StateListening))

	if s.cfg.IdleTimeout > 0 {
		go s.watchIdle(receiveCtx)
	}

	go func() {
		defer close(s.done)
		s.logger.Info().Msg("Listening for messages.")

		err := s.subscriber.Receive(receiveCtx, s.dispatch)

		// Read the cause before releasing the context ourselves.
		cause := context.Cause(receiveCtx)
		cancel(context.Canceled)

		switch {
		case errors.Is(cause, ErrIdleTimeout):
			s.err = ErrIdleTimeout
		case err != nil && !errors.Is(err, context.Canceled):
			s.err = fmt.Errorf("%w: %w", ErrReceive, err)
		}
		s.state.Store(int32(StateTerminated))

		if s.err != nil {
			s.logger.Error().Err(s.err).Int64("delivered", s.delivered.Load()).Msg("Stopped listening.")
			return
		}
		s.logger.Info().Int64("delivered", s.delivered.Load()).Msg("Stopped listening.")
	}()
}

// dispatch is invoked by the client library for every delivery, possibly
// from several goroutines at once.
func (s *Session) dispatch(ctx context.Context, msg *pubsub.Message) {
	s.delivered.Add(1)
	select {
	case s.activity <- struct{}{}:
	default:
	}

	d := newDelivery(s.subscriptionID, msg)
	err := callHandler(ctx, s.logger, s.handler, d)
	if d.Handle.Settled() {
		return
	}
	if err != nil {
		if s.cfg.NackOnError {
			s.logger.Warn().Err(err).Str("msg_id", d.Message.ID).Msg("Handler failed, Nacking message.")
			d.Handle.Nack()
			return
		}
		s.logger.Warn().Err(err).Str("msg_id", d.Message.ID).Msg("Handler failed, Acking message anyway.")
	}
	d.Handle.Ack()
}

// watchIdle cancels the session when no delivery arrives within IdleTimeout.
func (s *Session) watchIdle(ctx context.Context) {
	timer := time.NewTimer(s.cfg.IdleTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.activity:
			timer.Reset(s.cfg.IdleTimeout)
		case <-timer.C:
			s.logger.Info().Dur("idle_timeout", s.cfg.IdleTimeout).Msg("No message received in time, cancelling session.")
			s.cancel(ErrIdleTimeout)
			return
		}
	}
}

// Stop cancels the session. Deliveries already being handled run to
// completion; no new ones are accepted. Stop waits up to StopTimeout.
func (s *Session) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info().Msg("Stopping session...")
		s.cancel(context.Canceled)

		timeout := s.cfg.StopTimeout
		if timeout <= 0 {
			<-s.done
			return
		}
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-s.done:
		case <-timer.C:
			s.logger.Error().Msg("Timeout waiting for in-flight deliveries to finish.")
			err = fmt.Errorf("consume: session %s did not stop within %s", s.subscriptionID, timeout)
		}
	})
	return err
}

// Wait blocks until the session terminates. It returns nil when the session
// was cancelled, ErrIdleTimeout when it went idle, or the stream error.
func (s *Session) Wait() error {
	<-s.done
	return s.err
}

// Done returns a channel that is closed when the session has terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle stage.
func (s *Session) State() State { return State(s.state.Load()) }

// Delivered returns how many deliveries the session has dispatched.
func (s *Session) Delivered() int64 { return s.delivered.Load() }

// Subscription returns the subscription the session pulls from.
func (s *Session) Subscription() string { return s.subscriptionID }
