package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"alerthub/internal/config"
	"alerthub/internal/metrics"
	"alerthub/internal/permanent"

	"github.com/nats-io/nats.go"
)

const (
	transportNATS      = "nats"
	submitStreamMaxAge = 24 * time.Hour
)

// NATSSubscriber consumes alert payloads via JetStream queue consumer and submits them.
// Params: NATS connection, JetStream queue subscription, and submitter.
// Returns: NATS ingest lifecycle handle.
type NATSSubscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewNATSSubscriber creates JetStream queue consumer for alert ingestion.
// Params: NATS config, submitter, and optional logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(cfg config.NATSConfig, submitter Submitter, logger *slog.Logger) (*NATSSubscriber, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","), nats.Name("alerthub-ingest"))
	if err != nil {
		return nil, fmt.Errorf("connect nats ingest: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for ingest: %w", err)
	}
	if err := EnsureStream(js, cfg.SubmitStream, cfg.SubmitSubject, nats.WorkQueuePolicy, submitStreamMaxAge); err != nil {
		nc.Close()
		return nil, err
	}

	subscriber := &NATSSubscriber{
		nc:     nc,
		logger: logger,
	}
	ackWait := time.Duration(cfg.AckWaitSec) * time.Second
	nackDelay := time.Duration(cfg.NackDelayMS) * time.Millisecond
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.SubmitStream),
		nats.Durable(cfg.ConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(ackWait),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.MaxAckPending(cfg.MaxAckPending),
		nats.DeliverAll(),
	}
	sub, err := js.QueueSubscribe(cfg.SubmitSubject, cfg.DeliverGroup, func(message *nats.Msg) {
		subscriber.handle(message, submitter, ackWait, nackDelay)
	}, subOpts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.SubmitSubject, cfg.DeliverGroup, err)
	}
	subscriber.sub = sub
	return subscriber, nil
}

// handle submits one delivered payload.
// Params: message, submitter, ack wait bounding critical admission, and nack delay.
// Returns: none; permanent failures are acked, everything else is redelivered.
func (s *NATSSubscriber) handle(message *nats.Msg, submitter Submitter, ackWait, nackDelay time.Duration) {
	if message == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ackWait)
	defer cancel()

	ids, err := SubmitPayload(ctx, submitter, message.Data)
	switch {
	case err == nil:
		metrics.IngestMessagesTotal.WithLabelValues(transportNATS, "ok").Inc()
		if s.logger != nil {
			s.logger.Debug("nats ingest submitted", "subject", message.Subject, "alerts", len(ids))
		}
		s.ackMessage(message, "processed")
	case permanent.Is(err):
		metrics.IngestMessagesTotal.WithLabelValues(transportNATS, "rejected").Inc()
		if s.logger != nil {
			s.logger.Warn("nats ingest decode failed", "subject", message.Subject, "reason", permanent.ReasonOf(err), "error", err.Error())
		}
		s.ackMessage(message, permanent.ReasonOf(err))
	default:
		metrics.IngestMessagesTotal.WithLabelValues(transportNATS, "retry").Inc()
		if s.logger != nil {
			s.logger.Error("nats ingest submit failed", "subject", message.Subject, "error", err.Error())
		}
		s.nackMessage(message, nackDelay)
	}
}

// ackMessage acknowledges processed/invalid message and logs ack failures.
// Params: JetStream message and short reason.
// Returns: none.
func (s *NATSSubscriber) ackMessage(message *nats.Msg, reason string) {
	if err := message.Ack(); err != nil && s.logger != nil {
		s.logger.Warn("nats ingest ack failed", "subject", message.Subject, "reason", reason, "error", err.Error())
	}
}

// nackMessage asks JetStream to redeliver message and logs nack failures.
// Params: JetStream message and optional delay.
// Returns: none.
func (s *NATSSubscriber) nackMessage(message *nats.Msg, delay time.Duration) {
	var err error
	if delay > 0 {
		err = message.NakWithDelay(delay)
	} else {
		err = message.Nak()
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("nats ingest nack failed", "subject", message.Subject, "error", err.Error())
	}
}

// Close stops NATS subscription and closes connection.
// Params: none.
// Returns: close error from subscription drain.
func (s *NATSSubscriber) Close() error {
	if s == nil || s.nc == nil {
		return nil
	}
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.nc.Close()
			return err
		}
	}
	s.nc.Close()
	return nil
}

// EnsureStream ensures one JetStream stream exists with provided options.
// Params: JetStream context and stream settings.
// Returns: stream create/lookup error.
func EnsureStream(
	js nats.JetStreamContext,
	streamName string,
	subject string,
	retention nats.RetentionPolicy,
	maxAge time.Duration,
) error {
	if _, err := js.StreamInfo(streamName); err == nil {
		return nil
	} else if err != nats.ErrStreamNotFound && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		return fmt.Errorf("stream info %q: %w", streamName, err)
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: retention,
		Storage:   nats.FileStorage,
		MaxAge:    maxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", streamName, err)
	}
	return nil
}
