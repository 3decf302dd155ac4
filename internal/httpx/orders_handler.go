package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ariefcatur/wholesale-orders/internal/orders"
	"github.com/ariefcatur/wholesale-orders/internal/redisx"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"

	idemPending  = "pending"
	maxBodyBytes = 1 << 20
)

// Cache is the read cache and idempotency store. Failures degrade to the database path.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

type OrdersHandler struct {
	Orders  *orders.Service
	Cache   Cache
	Logger  *zap.Logger
	Timeout time.Duration
}

type statusReq struct {
	Status string `json:"status"`
}

type deliveryReq struct {
	Delivery *orders.DeliveryUpdate `json:"delivery"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(Authenticate)
		r.Post("/orders", h.createOrder)
		r.Post("/orders/guest", h.createGuestOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Patch("/orders/{id}/status", h.updateStatus)
		r.Put("/orders/{id}/delivery", h.upsertDelivery)
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	caller := PrincipalFrom(r.Context())
	var req orders.PlaceOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	idem := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if idem == "" || caller.Anonymous() {
		o, err := h.Orders.PlaceOrder(ctx, caller, req)
		if err != nil {
			h.fail(w, err)
			return
		}
		h.cacheOrder(ctx, o)
		writeJSON(w, http.StatusCreated, o)
		return
	}

	key := redisx.IdemOrderCreateKey(caller.UserID, idem)
	claimed, err := h.cache().SetNX(ctx, key, idemPending, redisx.TTLIdempotency)
	if err != nil {
		// no idempotency without redis; the order itself is still safe
		h.logger().Warn("idempotency claim", zap.String("key", key), zap.Error(err))
	} else if !claimed {
		h.replay(ctx, w, caller, key)
		return
	}

	o, err := h.Orders.PlaceOrder(ctx, caller, req)
	cleanup := context.WithoutCancel(ctx)
	if err != nil {
		if claimed {
			_ = h.cache().Del(cleanup, key)
		}
		h.fail(w, err)
		return
	}
	if claimed {
		if err := h.cache().Set(cleanup, key, o.ID, redisx.TTLIdempotency); err != nil {
			h.logger().Warn("idempotency record", zap.String("key", key), zap.Error(err))
		}
	}
	h.cacheOrder(cleanup, o)
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) replay(ctx context.Context, w http.ResponseWriter, caller orders.Principal, key string) {
	orderID, ok, err := h.cache().Get(ctx, key)
	if err != nil || !ok || orderID == idemPending {
		writeJSON(w, http.StatusConflict, errorBody{
			Error: "a request with this idempotency key is in progress",
			Code:  "IDEMPOTENCY_IN_FLIGHT",
		})
		return
	}
	o, err := h.Orders.GetOrder(ctx, caller, orderID)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set(HeaderReplayed, "true")
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) createGuestOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.GuestOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	g, err := h.Orders.CreateGuestOrder(ctx, req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.ListFilter{UserID: strings.TrimSpace(q.Get("userId"))}
	if raw := q.Get("status"); raw != "" {
		f.Status, _ = orders.ParseStatus(raw)
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	list, err := h.Orders.ListOrders(ctx, PrincipalFrom(r.Context()), f)
	if err != nil {
		h.fail(w, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	caller := PrincipalFrom(r.Context())
	id := chi.URLParam(r, "id")

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	// cache hits still go through the access check; anything else falls back to the store
	if s, ok, err := h.cache().Get(ctx, redisx.OrderKey(id)); err == nil && ok {
		var o orders.Order
		if json.Unmarshal([]byte(s), &o) == nil && orders.CanView(&o, caller) {
			writeJSON(w, http.StatusOK, &o)
			return
		}
	}

	o, err := h.Orders.GetOrder(ctx, caller, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.cacheOrder(ctx, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	to, _ := orders.ParseStatus(req.Status)
	id := chi.URLParam(r, "id")

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	o, err := h.Orders.UpdateStatus(ctx, PrincipalFrom(r.Context()), id, to)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.invalidate(ctx, id)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) upsertDelivery(w http.ResponseWriter, r *http.Request) {
	var req deliveryReq
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	var u orders.DeliveryUpdate
	if req.Delivery != nil {
		u = *req.Delivery
	}
	id := chi.URLParam(r, "id")

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	d, err := h.Orders.UpsertDelivery(ctx, PrincipalFrom(r.Context()), id, u)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.invalidate(ctx, id)
	writeJSON(w, http.StatusOK, d)
}

func (h *OrdersHandler) cacheOrder(ctx context.Context, o *orders.Order) {
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	if err := h.cache().Set(ctx, redisx.OrderKey(o.ID), string(b), redisx.TTLOrderCache); err != nil {
		h.logger().Debug("order cache set", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (h *OrdersHandler) invalidate(ctx context.Context, orderID string) {
	if err := h.cache().Del(context.WithoutCancel(ctx), redisx.OrderKey(orderID)); err != nil {
		h.logger().Warn("order cache invalidate", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (h *OrdersHandler) fail(w http.ResponseWriter, err error) { writeError(w, h.logger(), err) }

func (h *OrdersHandler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.Timeout <= 0 {
		return context.WithTimeout(ctx, 5*time.Second)
	}
	return context.WithTimeout(ctx, h.Timeout)
}

func (h *OrdersHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *OrdersHandler) cache() Cache {
	if h.Cache == nil {
		return noCache{}
	}
	return h.Cache
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return errors.Wrapf(orders.ErrValidation, "malformed JSON body: %v", err)
	}
	return nil
}

type noCache struct{}

func (noCache) Get(context.Context, string) (string, bool, error)                  { return "", false, nil }
func (noCache) Set(context.Context, string, string, time.Duration) error           { return nil }
func (noCache) SetNX(context.Context, string, string, time.Duration) (bool, error) { return true, nil }
func (noCache) Del(context.Context, ...string) error                               { return nil }
