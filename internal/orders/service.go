package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/ariefcatur/wholesale-orders/internal/orders"

// EventPublisher receives envelopes after the owning transaction committed.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, env Envelope)
}

type Service struct {
	store  Store
	events EventPublisher
	logger *zap.Logger
	tracer trace.Tracer
	name   string
	now    func() time.Time
}

func NewService(store Store, events EventPublisher, logger *zap.Logger, serviceName string) *Service {
	if events == nil {
		events = nopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		events: events,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		name:   serviceName,
		now:    time.Now,
	}
}

// PlaceOrder reserves stock for every line and persists the order in one transaction.
// Either all lines are decremented and the order exists, or nothing changed.
func (s *Service) PlaceOrder(ctx context.Context, caller Principal, req PlaceOrderRequest) (*Order, error) {
	if caller.Anonymous() {
		return nil, ErrUnauthenticated
	}
	if err := validateItems(req.Items); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "orders.PlaceOrder", trace.WithAttributes(
		attribute.String("user.id", caller.UserID),
		attribute.Int("order.lines", len(req.Items)),
	))
	defer span.End()

	var order *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ids := distinctProductIDs(req.Items)
		products, err := tx.FindProducts(ctx, ids)
		if err != nil {
			return errors.Wrap(err, "find products")
		}
		byID := make(map[string]Product, len(products))
		for _, p := range products {
			byID[p.ID] = p
		}
		if len(byID) != len(ids) {
			for _, id := range ids {
				if _, ok := byID[id]; !ok {
					return &NotFoundError{Entity: "product", ID: id}
				}
			}
		}
		currency := byID[ids[0]].Currency
		for _, id := range ids[1:] {
			if c := byID[id].Currency; c != currency {
				return validationf("order mixes currencies %s and %s", currency, c)
			}
		}

		for _, it := range lockOrder(req.Items) {
			ok, err := tx.DecrementStock(ctx, it.ProductID, it.Quantity)
			if err != nil {
				return errors.Wrapf(err, "decrement stock %s", it.ProductID)
			}
			if !ok {
				return &InsufficientStockError{
					ProductID:   it.ProductID,
					ProductName: byID[it.ProductID].Name,
					Requested:   it.Quantity,
				}
			}
		}

		order = s.newOrder(caller.UserID, currency, req, byID)
		return errors.Wrap(tx.InsertOrder(ctx, order), "insert order")
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	s.logger.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.String("total", order.Total.StringFixed(2)),
		zap.Int("lines", len(order.Items)),
	)
	s.publish(ctx, TopicOrderPlaced, EventOrderPlaced, order.ID, OrderPlacedPayload{
		OrderID:  order.ID,
		UserID:   order.UserID,
		Items:    toItemPrices(order.Items),
		Total:    order.Total,
		Currency: order.Currency,
	})
	return order, nil
}

func (s *Service) newOrder(userID, currency string, req PlaceOrderRequest, byID map[string]Product) *Order {
	now := s.now().UTC()
	o := &Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    StatusPending,
		Currency:  currency,
		Total:     decimal.Zero,
		Items:     make([]OrderItem, 0, len(req.Items)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, it := range req.Items {
		p := byID[it.ProductID]
		o.Items = append(o.Items, OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    it.Quantity,
			Price:       p.Price,
		})
		o.Total = o.Total.Add(p.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if req.Delivery != nil {
		d := &DeliveryInfo{OrderID: o.ID, UpdatedAt: now}
		req.Delivery.ApplyTo(d)
		o.Delivery = d
	}
	return o
}

func (s *Service) GetOrder(ctx context.Context, caller Principal, id string) (*Order, error) {
	if !isOrderID(id) {
		return nil, &NotFoundError{Entity: "order", ID: id}
	}
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeView(o, caller); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, caller Principal, f ListFilter) ([]Order, error) {
	if caller.Anonymous() {
		return nil, ErrUnauthenticated
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, validationf("unknown status %q", f.Status)
	}
	return s.store.ListOrders(ctx, VisibleFilter(caller, f))
}

// UpdateStatus moves an order along the lifecycle. Cancelling returns every line's quantity
// to stock in the same transaction.
func (s *Service) UpdateStatus(ctx context.Context, caller Principal, id string, to Status) (*Order, error) {
	if err := authorizeMutation(caller); err != nil {
		return nil, err
	}
	if !to.Valid() {
		return nil, validationf("unknown status %q", to)
	}
	if !isOrderID(id) {
		return nil, &NotFoundError{Entity: "order", ID: id}
	}

	ctx, span := s.tracer.Start(ctx, "orders.UpdateStatus", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.status.to", string(to)),
	))
	defer span.End()

	var (
		updated   *Order
		from      Status
		restocked bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, to) {
			return errors.Wrapf(ErrInvalidTransition, "%s -> %s", o.Status, to)
		}
		now := s.now().UTC()
		if err := tx.SetStatus(ctx, id, to, now); err != nil {
			return errors.Wrap(err, "set status")
		}
		if to == StatusCancelled {
			for _, it := range o.Items {
				if err := tx.RestockProduct(ctx, it.ProductID, it.Quantity); err != nil {
					return errors.Wrapf(err, "restock %s", it.ProductID)
				}
			}
			restocked = true
		}
		from = o.Status
		o.Status = to
		o.UpdatedAt = now
		updated = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.logger.Info("order status changed",
		zap.String("order_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("by", caller.UserID),
		zap.Bool("restocked", restocked),
	)
	s.publish(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, id, OrderStatusChangedPayload{
		OrderID: id, From: from, To: to, Restocked: restocked,
	})
	return updated, nil
}

// UpsertDelivery creates the delivery record or overwrites only the fields present in u.
func (s *Service) UpsertDelivery(ctx context.Context, caller Principal, id string, u DeliveryUpdate) (*DeliveryInfo, error) {
	if err := authorizeMutation(caller); err != nil {
		return nil, err
	}
	if !isOrderID(id) {
		return nil, &NotFoundError{Entity: "order", ID: id}
	}

	ctx, span := s.tracer.Start(ctx, "orders.UpsertDelivery", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	var out *DeliveryInfo
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		d := o.Delivery
		if d == nil {
			d = &DeliveryInfo{OrderID: id}
		}
		u.ApplyTo(d)
		d.UpdatedAt = s.now().UTC()
		if err := tx.SaveDelivery(ctx, d); err != nil {
			return errors.Wrap(err, "save delivery")
		}
		out = d
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.logger.Info("delivery updated", zap.String("order_id", id), zap.String("status", out.Status))
	s.publish(ctx, TopicDeliveryUpdated, EventDeliveryUpdated, id, DeliveryUpdatedPayload{
		OrderID:        id,
		Status:         out.Status,
		Courier:        out.Courier,
		TrackingNumber: out.TrackingNumber,
	})
	return out, nil
}

// CreateGuestOrder records an inquiry as-is. It never reads or writes the product ledger.
func (s *Service) CreateGuestOrder(ctx context.Context, req GuestOrderRequest) (*GuestOrder, error) {
	if err := validateGuestOrder(&req); err != nil {
		return nil, err
	}
	d := req.CustomerDetails
	g := &GuestOrder{
		ID:           uuid.NewString(),
		CustomerName: d.CustomerName,
		Phone:        d.Phone,
		BusinessName: d.BusinessName,
		GST:          d.GST,
		Email:        d.Email,
		Items:        req.Items,
		Subtotal:     req.Subtotal,
		TotalItems:   req.TotalItems,
		Status:       GuestStatusNew,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.InsertGuestOrder(ctx, g); err != nil {
		return nil, errors.Wrap(err, "insert guest order")
	}

	s.logger.Info("guest order received",
		zap.String("guest_order_id", g.ID),
		zap.String("business", g.BusinessName),
		zap.Int("total_items", g.TotalItems),
	)
	s.publish(ctx, TopicGuestOrderReceived, EventGuestOrderReceived, g.ID, GuestOrderReceivedPayload{
		GuestOrderID: g.ID,
		CustomerName: g.CustomerName,
		BusinessName: g.BusinessName,
		Phone:        g.Phone,
		TotalItems:   g.TotalItems,
		Subtotal:     g.Subtotal,
	})
	return g, nil
}

func (s *Service) publish(ctx context.Context, topic, eventType, correlationID string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  EnvelopeVersion,
		OccurredAt:    s.now().UTC(),
		Producer:      s.name,
		CorrelationID: correlationID,
		Payload:       body,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	s.events.Publish(ctx, topic, env)
}

func isOrderID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, Envelope) {}
