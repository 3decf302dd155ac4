package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/ariefcatur/wholesale-orders/internal/orders"
)

// Identity is verified by the gateway and forwarded as headers.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
)

type principalKey struct{}

func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := orders.Principal{UserID: strings.TrimSpace(r.Header.Get(HeaderUserID))}
		if !p.Anonymous() {
			p.Role = orders.RoleCustomer
			if strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderUserRole)), string(orders.RoleAdmin)) {
				p.Role = orders.RoleAdmin
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

func PrincipalFrom(ctx context.Context) orders.Principal {
	p, _ := ctx.Value(principalKey{}).(orders.Principal)
	return p
}
