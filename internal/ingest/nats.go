package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"amroute/internal/config"

	"github.com/nats-io/nats.go"
)

// alertEnvelope is the queue message format carrying alerts for one account.
type alertEnvelope struct {
	AccountID string          `json:"account_id"`
	Alerts    []PostableAlert `json:"alerts"`
}

// NATSSubscriber consumes alert batches via JetStream queue consumers and
// forwards them to sink.
// Params: NATS connection, JetStream queue subscriptions, and alert sink.
// Returns: NATS ingest lifecycle handle.
type NATSSubscriber struct {
	nc     *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

// NewNATSSubscriber creates JetStream queue consumers for alert ingestion.
// All workers share one durable consumer and one deliver group, so each
// message is handled once per deployment.
// Params: ingest NATS config, sink, time source, and optional logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(cfg config.NATSIngestConfig, sink AlertSink, now func() time.Time, logger *slog.Logger) (*NATSSubscriber, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats ingest: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for ingest: %w", err)
	}

	subscriber := &NATSSubscriber{
		nc:     nc,
		logger: logger,
	}
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(cfg.ConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(time.Duration(cfg.AckWaitSeconds) * time.Second),
		nats.DeliverAll(),
	}
	handler := func(message *nats.Msg) {
		var envelope alertEnvelope
		if decodeErr := json.Unmarshal(message.Data, &envelope); decodeErr != nil {
			subscriber.logWarn("nats ingest decode failed", message.Subject, decodeErr)
			subscriber.ackMessage(message, "decode")
			return
		}
		if envelope.AccountID == "" || len(envelope.Alerts) == 0 {
			subscriber.logWarn("nats ingest envelope incomplete", message.Subject, nil)
			subscriber.ackMessage(message, "invalid")
			return
		}
		for i, alert := range envelope.Alerts {
			if validateErr := alert.Validate(); validateErr != nil {
				subscriber.logWarn("nats ingest alert invalid", message.Subject,
					fmt.Errorf("alert[%d]: %w", i, validateErr))
				subscriber.ackMessage(message, "invalid")
				return
			}
		}
		alerts := convertAlerts(envelope.Alerts, now())
		if pushErr := sink.PushAlerts(context.Background(), envelope.AccountID, alerts); pushErr != nil {
			if logger != nil {
				logger.Error("nats ingest push failed",
					"subject", message.Subject, "account", envelope.AccountID, "error", pushErr.Error())
			}
			subscriber.nackMessage(message)
			return
		}
		subscriber.ackMessage(message, "processed")
	}

	workers := max(cfg.Workers, 1)
	for i := 0; i < workers; i++ {
		sub, err := js.QueueSubscribe(cfg.Subject, cfg.DeliverGroup, handler, subOpts...)
		if err != nil {
			_ = subscriber.Close()
			return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.DeliverGroup, err)
		}
		subscriber.subs = append(subscriber.subs, sub)
	}
	return subscriber, nil
}

func (s *NATSSubscriber) logWarn(msg, subject string, err error) {
	if s.logger == nil {
		return
	}
	if err != nil {
		s.logger.Warn(msg, "subject", subject, "error", err.Error())
		return
	}
	s.logger.Warn(msg, "subject", subject)
}

// ackMessage acknowledges a processed or invalid message and logs ack failures.
// Params: JetStream message and short reason.
// Returns: none.
func (s *NATSSubscriber) ackMessage(message *nats.Msg, reason string) {
	if message == nil {
		return
	}
	if err := message.Ack(); err != nil && s.logger != nil {
		s.logger.Warn("nats ingest ack failed", "subject", message.Subject, "reason", reason, "error", err.Error())
	}
}

// nackMessage asks JetStream to redeliver a message and logs nack failures.
// Params: JetStream message.
// Returns: none.
func (s *NATSSubscriber) nackMessage(message *nats.Msg) {
	if message == nil {
		return
	}
	if err := message.Nak(); err != nil && s.logger != nil {
		s.logger.Warn("nats ingest nack failed", "subject", message.Subject, "error", err.Error())
	}
}

// Close stops the NATS subscriptions and closes the connection.
// Params: none.
// Returns: first drain error.
func (s *NATSSubscriber) Close() error {
	var firstErr error
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.nc.Close()
	return firstErr
}
