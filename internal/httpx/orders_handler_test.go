package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/wholesale-orders/internal/orders"
	"github.com/ariefcatur/wholesale-orders/internal/redisx"
)

type mapCache struct {
	mu sync.Mutex
	m  map[string]string
}

func newMapCache() *mapCache { return &mapCache{m: map[string]string{}} }

func (c *mapCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
	return nil
}

func (c *mapCache) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.m[key]; ok {
		return false, nil
	}
	c.m[key] = value
	return true, nil
}

func (c *mapCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.m, k)
	}
	return nil
}

type fixture struct {
	srv   *httptest.Server
	store *orders.MemoryStore
	cache *mapCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := orders.NewMemoryStore(
		orders.Product{ID: "p-bolts", Name: "Hex bolts M8 (box)", Price: decimal.RequireFromString("12.10"), Currency: "INR", Stock: 5},
		orders.Product{ID: "p-nuts", Name: "Hex nuts M8 (box)", Price: decimal.RequireFromString("0.35"), Currency: "INR", Stock: 100},
	)
	cache := newMapCache()
	router := NewRouter(zap.NewNop(), time.Second)
	h := &OrdersHandler{
		Orders: orders.NewService(store, nil, nil, "order-api-test"),
		Cache:  cache,
		Logger: zap.NewNop(),
	}
	h.Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, store: store, cache: cache}
}

type caller struct {
	id, role string
}

var (
	anon  = caller{}
	alice = caller{id: "alice", role: "customer"}
	bob   = caller{id: "bob"}
	staff = caller{id: "staff-1", role: "Admin"}
)

func (f *fixture) do(t *testing.T, c caller, method, path, body string, hdr ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if c.id != "" {
		req.Header.Set(HeaderUserID, c.id)
	}
	if c.role != "" {
		req.Header.Set(HeaderUserRole, c.role)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	var raw json.RawMessage
	if json.NewDecoder(resp.Body).Decode(&raw) == nil && len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func (f *fixture) stock(t *testing.T, id string) int {
	p, ok := f.store.Product(context.Background(), id)
	require.True(t, ok)
	return p.Stock
}

func (f *fixture) place(t *testing.T, c caller, body string) string {
	t.Helper()
	resp, out := f.do(t, c, http.MethodPost, "/orders", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
	return out["id"].(string)
}

const twoBolts = `{"items":[{"productId":"p-bolts","quantity":2},{"productId":"p-nuts","quantity":10}]}`

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	resp, out := f.do(t, alice, http.MethodPost, "/orders",
		`{"items":[{"productId":"p-bolts","quantity":2},{"productId":"p-nuts","quantity":10}],
		  "delivery":{"fullName":"A. Buyer","city":"Pune"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)

	assert.Equal(t, "PENDING", out["status"])
	assert.Equal(t, "27.7", out["total"])
	assert.Equal(t, "alice", out["userId"])
	assert.Len(t, out["items"], 2)
	delivery := out["delivery"].(map[string]any)
	assert.Equal(t, "Preparing", delivery["status"])
	assert.Equal(t, "Pune", delivery["city"])

	assert.Equal(t, 3, f.stock(t, "p-bolts"))
	assert.Equal(t, 90, f.stock(t, "p-nuts"))
	assert.Contains(t, f.cache.m, redisx.OrderKey(out["id"].(string)))
}

func TestCreateOrderErrors(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		who    caller
		body   string
		status int
		code   string
	}{
		{"anonymous", anon, twoBolts, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"malformed", alice, `{"items":`, http.StatusBadRequest, "VALIDATION"},
		{"empty", alice, `{"items":[]}`, http.StatusBadRequest, "VALIDATION"},
		{"zero quantity", alice, `{"items":[{"productId":"p-nuts","quantity":0}]}`, http.StatusBadRequest, "VALIDATION"},
		{"unknown product", alice, `{"items":[{"productId":"p-nuts","quantity":1},{"productId":"p-ghost","quantity":1}]}`, http.StatusBadRequest, "UNKNOWN_PRODUCT"},
		{"insufficient", alice, `{"items":[{"productId":"p-nuts","quantity":1},{"productId":"p-bolts","quantity":6}]}`, http.StatusBadRequest, "INSUFFICIENT_STOCK"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, out := f.do(t, tc.who, http.MethodPost, "/orders", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, out["code"])
		})
	}

	_, out := f.do(t, alice, http.MethodPost, "/orders", `{"items":[{"productId":"p-bolts","quantity":6}]}`)
	assert.Equal(t, "p-bolts", out["productId"])
	assert.Contains(t, out["error"], "Hex bolts M8 (box)")

	assert.Equal(t, 5, f.stock(t, "p-bolts"))
	assert.Equal(t, 100, f.stock(t, "p-nuts"))
}

func TestCreateOrderIdempotentReplay(t *testing.T) {
	f := newFixture(t)

	first, a := f.do(t, alice, http.MethodPost, "/orders", twoBolts, HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, first.StatusCode)

	again, b := f.do(t, alice, http.MethodPost, "/orders", twoBolts, HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusOK, again.StatusCode)
	assert.Equal(t, "true", again.Header.Get(HeaderReplayed))
	assert.Equal(t, a["id"], b["id"])
	assert.Equal(t, 3, f.stock(t, "p-bolts"))

	// keys are per user
	other, _ := f.do(t, bob, http.MethodPost, "/orders", `{"items":[{"productId":"p-nuts","quantity":1}]}`, HeaderIdempotencyKey, "k-1")
	assert.Equal(t, http.StatusCreated, other.StatusCode)
}

func TestCreateOrderIdempotencyInFlight(t *testing.T) {
	f := newFixture(t)
	f.cache.m[redisx.IdemOrderCreateKey("alice", "k-2")] = idemPending

	resp, out := f.do(t, alice, http.MethodPost, "/orders", twoBolts, HeaderIdempotencyKey, "k-2")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "IDEMPOTENCY_IN_FLIGHT", out["code"])
	assert.Equal(t, 5, f.stock(t, "p-bolts"))
}

func TestCreateOrderFailureReleasesIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, alice, http.MethodPost, "/orders", `{"items":[{"productId":"p-bolts","quantity":9}]}`, HeaderIdempotencyKey, "k-3")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotContains(t, f.cache.m, redisx.IdemOrderCreateKey("alice", "k-3"))
}

func TestGetOrderAccess(t *testing.T) {
	f := newFixture(t)
	id := f.place(t, alice, twoBolts)

	resp, out := f.do(t, alice, http.MethodGet, "/orders/"+id, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, out["id"])

	resp, _ = f.do(t, bob, http.MethodGet, "/orders/"+id, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "cached order must not leak")

	resp, _ = f.do(t, staff, http.MethodGet, "/orders/"+id, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, anon, http.MethodGet, "/orders/"+id, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, alice, http.MethodGet, "/orders/3b0f5a62-7f7e-4c0e-9a53-0a4c1f0b7d11", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, anon, http.MethodGet, "/orders/not-a-uuid", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	f.place(t, alice, twoBolts)
	f.place(t, bob, `{"items":[{"productId":"p-nuts","quantity":1}]}`)

	list := func(c caller, query string) (int, []map[string]any) {
		req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/orders"+query, nil)
		if c.id != "" {
			req.Header.Set(HeaderUserID, c.id)
			req.Header.Set(HeaderUserRole, c.role)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out []map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	code, got := list(alice, "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0]["userId"])

	_, got = list(alice, "?userId=bob")
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0]["userId"])

	_, got = list(staff, "")
	assert.Len(t, got, 2)

	_, got = list(staff, "?status=shipped")
	assert.Empty(t, got)

	code, _ = list(staff, "?status=lost")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = list(anon, "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	id := f.place(t, alice, twoBolts)
	path := "/orders/" + id + "/status"

	resp, _ := f.do(t, alice, http.MethodPatch, path, `{"status":"PROCESSING"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = f.do(t, staff, http.MethodPatch, path, `{"status":"teleported"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, out := f.do(t, staff, http.MethodPatch, path, `{"status":"processing"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PROCESSING", out["status"])
	assert.NotContains(t, f.cache.m, redisx.OrderKey(id))

	resp, out = f.do(t, staff, http.MethodPatch, path, `{"status":"PENDING"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INVALID_TRANSITION", out["code"])

	resp, _ = f.do(t, staff, http.MethodPatch, path, `{"status":"CANCELLED"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, f.stock(t, "p-bolts"))

	resp, _ = f.do(t, staff, http.MethodPatch, "/orders/3b0f5a62-7f7e-4c0e-9a53-0a4c1f0b7d11/status", `{"status":"SHIPPED"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpsertDelivery(t *testing.T) {
	f := newFixture(t)
	id := f.place(t, alice, twoBolts)
	path := "/orders/" + id + "/delivery"

	resp, _ := f.do(t, alice, http.MethodPut, path, `{"delivery":{"courier":"DTDC"}}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, out := f.do(t, staff, http.MethodPut, path, `{"delivery":{"courier":"DTDC","trackingNumber":"D123"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Preparing", out["status"])
	assert.Equal(t, "DTDC", out["courier"])

	resp, out = f.do(t, staff, http.MethodPut, path, `{"delivery":{"status":"In transit","estimatedDelivery":"2026-03-04T00:00:00Z"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "In transit", out["status"])
	assert.Equal(t, "D123", out["trackingNumber"])

	resp, out = f.do(t, alice, http.MethodGet, "/orders/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PENDING", out["status"])
	assert.Equal(t, "In transit", out["delivery"].(map[string]any)["status"])

	resp, _ = f.do(t, staff, http.MethodPut, "/orders/3b0f5a62-7f7e-4c0e-9a53-0a4c1f0b7d11/delivery", `{"delivery":{}}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateGuestOrder(t *testing.T) {
	f := newFixture(t)
	resp, out := f.do(t, anon, http.MethodPost, "/orders/guest", `{
		"customerDetails":{"customerName":"R. Mehta","phone":"+91 98200 00000","businessName":"Mehta Hardware","email":"r@mehta.example"},
		"items":[{"id":"p-bolts","name":"Hex bolts M8 (box)","price":"12.10","quantity":500,"moq":100}],
		"subtotal":"6050.00","totalItems":500}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
	assert.Equal(t, "NEW", out["status"])
	assert.Equal(t, 5, f.stock(t, "p-bolts"), "guest inquiries never touch stock")

	resp, out = f.do(t, anon, http.MethodPost, "/orders/guest", `{"customerDetails":{"phone":"1"},"items":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION", out["code"])
}
