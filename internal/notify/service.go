// Package notify turns order events into the staff activity feed.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/wholesale-orders/internal/kafka"
	"github.com/ariefcatur/wholesale-orders/internal/orders"
	"github.com/ariefcatur/wholesale-orders/internal/redisx"
)

type Feed interface {
	MarkSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
	Push(ctx context.Context, entry string) error
}

type Invalidator interface {
	Del(ctx context.Context, keys ...string) error
}

type Entry struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OrderID    string    `json:"order_id"`
	Summary    string    `json:"summary"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Service struct {
	feed   Feed
	cache  Invalidator
	logger *zap.Logger
	tracer trace.Tracer
}

func NewService(feed Feed, cache Invalidator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		feed:   feed,
		cache:  cache,
		logger: logger,
		tracer: otel.Tracer("github.com/ariefcatur/wholesale-orders/internal/notify"),
	}
}

// HandleMessage is installed as the consumer handler.
func (s *Service) HandleMessage(ctx context.Context, m kafkago.Message) error {
	ctx = kafkax.ExtractTrace(ctx, &m)

	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// poison message: retrying cannot fix it
		s.logger.Error("drop undecodable message", zap.String("topic", m.Topic), zap.Error(err))
		return nil
	}
	if env.EventVersion != orders.EnvelopeVersion {
		s.logger.Warn("skip unknown envelope version",
			zap.String("event_id", env.EventID), zap.Int("event_version", env.EventVersion))
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "notify.HandleMessage", trace.WithAttributes(
		attribute.String("event.id", env.EventID),
		attribute.String("event.type", env.EventType),
	))
	defer span.End()

	first, err := s.feed.MarkSeen(ctx, env.EventID)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}
	if err := s.handle(ctx, env); err != nil {
		if ferr := s.feed.Forget(ctx, env.EventID); ferr != nil {
			s.logger.Warn("release dedup key", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *Service) handle(ctx context.Context, env orders.Envelope) error {
	summary, invalidate, err := summarize(env)
	if err != nil {
		return err
	}
	if summary == "" {
		return nil
	}
	if invalidate {
		if err := s.cache.Del(ctx, redisx.OrderKey(env.CorrelationID)); err != nil {
			return errors.Wrap(err, "invalidate order cache")
		}
	}
	b, err := json.Marshal(Entry{
		EventID:    env.EventID,
		EventType:  env.EventType,
		OrderID:    env.CorrelationID,
		Summary:    summary,
		OccurredAt: env.OccurredAt,
	})
	if err != nil {
		return errors.Wrap(err, "marshal feed entry")
	}
	if err := s.feed.Push(ctx, string(b)); err != nil {
		return err
	}
	s.logger.Info("feed entry", zap.String("event_type", env.EventType), zap.String("order_id", env.CorrelationID))
	return nil
}

// summarize renders one feed line and reports whether the order read cache is stale.
func summarize(env orders.Envelope) (string, bool, error) {
	switch env.EventType {
	case orders.EventOrderPlaced:
		p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("order %s placed by %s: %d lines, %s %s",
			p.OrderID, p.UserID, len(p.Items), p.Total.StringFixed(2), p.Currency), false, nil
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return "", false, err
		}
		line := fmt.Sprintf("order %s %s -> %s", p.OrderID, p.From, p.To)
		if p.Restocked {
			line += " (restocked)"
		}
		return line, true, nil
	case orders.EventDeliveryUpdated:
		p, err := kafkax.UnwrapPayload[orders.DeliveryUpdatedPayload](env.Payload)
		if err != nil {
			return "", false, err
		}
		line := fmt.Sprintf("order %s delivery %s", p.OrderID, p.Status)
		if p.TrackingNumber != "" {
			line += fmt.Sprintf(" (%s %s)", p.Courier, p.TrackingNumber)
		}
		return line, true, nil
	case orders.EventGuestOrderReceived:
		p, err := kafkax.UnwrapPayload[orders.GuestOrderReceivedPayload](env.Payload)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("guest inquiry %s from %s (%s, %s): %d items",
			p.GuestOrderID, p.BusinessName, p.CustomerName, p.Phone, p.TotalItems), false, nil
	}
	return "", false, nil
}
