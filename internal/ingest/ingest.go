// SPDX-License-Identifier: MIT

// Package ingest consumes motion envelopes from the Redis motion channel and
// feeds them to the dispatcher one at a time.
package ingest

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kesslerm/motionplay/internal/dispatch"
	logpkg "github.com/kesslerm/motionplay/internal/log"
	"github.com/kesslerm/motionplay/internal/metrics"
)

// Handler processes one raw motion message.
type Handler interface {
	Dispatch(ctx context.Context, raw []byte) (*dispatch.Outcome, error)
}

// Subscriber bridges the Redis pub/sub motion channel to a Handler. Delivery
// is at-least-once from the sensors' perspective; the dispatcher tolerates
// duplicates.
type Subscriber struct {
	client  *redis.Client
	channel string
	handler Handler
	log     zerolog.Logger
}

// New builds a Subscriber for the given channel.
func New(client *redis.Client, channel string, handler Handler) *Subscriber {
	return &Subscriber{
		client:  client,
		channel: channel,
		handler: handler,
		log:     logpkg.WithComponent("ingest"),
	}
}

// Run subscribes and consumes until the context is cancelled. Invalid
// messages are counted and dropped; they never stop the loop.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer func() { _ = sub.Close() }()

	// Force the subscription to be established before we report running.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	s.log.Info().Str("channel", s.channel).Msg("motion ingest started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("motion ingest stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("ingest: subscription channel closed")
			}
			s.consume(ctx, []byte(msg.Payload))
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, payload []byte) {
	// Tag each delivery so all downstream log lines correlate.
	ctx = logpkg.ContextWithRequestID(ctx, uuid.NewString())
	if _, err := s.handler.Dispatch(ctx, payload); err != nil {
		metrics.IncIngestMessage("invalid")
		s.log.Warn().Err(err).Msg("dropped invalid motion message")
		return
	}
	metrics.IncIngestMessage("dispatched")
}
