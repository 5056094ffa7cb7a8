package ingestion

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"PayLedger/internal/event"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	EventsStream   = "PAYLEDGER_EVENTS"
	AccountsStream = "PAYLEDGER_ACCOUNTS"

	EventsSubject   = "payledger.events.>"
	EOSSubject      = "payledger.events.eos"
	AccountsSubject = "payledger.accounts.>"

	// EOSHeader marks a message on any event subject as the end of the stream.
	EOSHeader = "Payledger-Eos"

	DefaultConsumer = "payledger-engine"
)

// NATSSource consumes JSON events from JetStream and feeds them into the
// engine's stream channel. A message on EOSSubject, or one carrying the
// EOSHeader, ends the stream.
//
// Messages are acked once handed to the channel, nak'ed if the context ends
// first and terminated if they cannot be decoded.
type NATSSource struct {
	js       jetstream.JetStream
	consumer string
	logger   zerolog.Logger

	eos atomic.Bool
}

// NewNATSSource creates a source reading through the durable consumer name.
// An empty name uses DefaultConsumer.
func NewNATSSource(js jetstream.JetStream, consumer string, logger zerolog.Logger) *NATSSource {
	if consumer == "" {
		consumer = DefaultConsumer
	}
	return &NATSSource{
		js:       js,
		consumer: consumer,
		logger:   logger.With().Str("source", "nats").Str("consumer", consumer).Logger(),
	}
}

// Run consumes until the end-of-stream sentinel arrives or ctx ends.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s, and a single
// in-flight message so that per-client order is preserved.
func (s *NATSSource) Run(ctx context.Context, out chan<- event.StreamMessage) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, EventsStream, jetstream.ConsumerConfig{
		Durable:       s.consumer,
		FilterSubject: EventsSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		MaxAckPending: 1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", s.consumer, err)
	}

	done := make(chan struct{})
	var once sync.Once
	var gate callbackGate

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if !gate.enter() {
			// Run has returned and out may already be closed.
			_ = msg.Nak()
			return
		}
		defer gate.exit()
		if s.handle(ctx, msg, out) {
			once.Do(func() { close(done) })
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", s.consumer, err)
	}
	defer func() {
		cc.Stop()
		select {
		case <-cc.Closed():
		case <-time.After(stopTimeout):
			s.logger.Warn().Msg("consumer did not close in time")
		}
		gate.closeAndWait()
	}()

	s.logger.Info().Str("subject", EventsSubject).Msg("subscribed")

	select {
	case <-done:
		s.logger.Info().Msg("end of stream received")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stopTimeout bounds the wait for the consumer to close after Stop.
const stopTimeout = 5 * time.Second

// callbackGate tracks message callbacks in flight so that Run returns only
// after none can still write to the output channel.
type callbackGate struct {
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// enter registers a callback. It reports false once the gate is closed.
func (g *callbackGate) enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.inflight.Add(1)
	return true
}

func (g *callbackGate) exit() { g.inflight.Done() }

// closeAndWait refuses new callbacks and waits for running ones to finish.
func (g *callbackGate) closeAndWait() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.inflight.Wait()
}

// handle processes one message and reports whether it was the end-of-stream sentinel.
func (s *NATSSource) handle(ctx context.Context, msg jetstream.Msg, out chan<- event.StreamMessage) bool {
	if ctx.Err() != nil {
		_ = msg.Nak()
		return false
	}
	if s.eos.Load() {
		// Already finished; leave it for the next run.
		_ = msg.Nak()
		return false
	}

	if isEndOfStream(msg) {
		if err := send(ctx, out, event.EndOfStream()); err != nil {
			_ = msg.Nak()
			return false
		}
		s.eos.Store(true)
		_ = msg.Ack()
		return true
	}

	ev, err := ParseJSON(msg.Data())
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("terminating undecodable message")
		_ = msg.TermWithReason(err.Error())
		return false
	}

	if err := send(ctx, out, event.Value(ev)); err != nil {
		_ = msg.Nak()
		return false
	}
	_ = msg.Ack()
	return false
}

func isEndOfStream(msg jetstream.Msg) bool {
	if msg.Subject() == EOSSubject {
		return true
	}
	headers := msg.Headers()
	return headers != nil && headers.Get(EOSHeader) == "1"
}

// PublishEvent publishes ev on payledger.events.<client> for a NATSSource to consume.
func PublishEvent(ctx context.Context, js jetstream.JetStream, ev event.Event) error {
	data, err := EncodeJSON(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	subject := fmt.Sprintf("payledger.events.%d", ev.Client)
	if _, err := js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// PublishEndOfStream publishes the end-of-stream sentinel.
func PublishEndOfStream(ctx context.Context, js jetstream.JetStream) error {
	if _, err := js.Publish(ctx, EOSSubject, nil); err != nil {
		return fmt.Errorf("publish %s: %w", EOSSubject, err)
	}
	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      EventsStream,
			Subjects:  []string{EventsSubject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      AccountsStream,
			Subjects:  []string{AccountsSubject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("payledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
