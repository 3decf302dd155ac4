package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ariefcatur/wholesale-orders/internal/orders"
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	ProductID string `json:"productId,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError is the only place domain errors become HTTP statuses.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		stock    *orders.InsufficientStockError
		notFound *orders.NotFoundError
	)
	switch {
	case errors.As(err, &stock):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: stock.Error(), Code: "INSUFFICIENT_STOCK", ProductID: stock.ProductID})
	case errors.As(err, &notFound) && notFound.Entity == "product":
		writeJSON(w, http.StatusBadRequest, errorBody{Error: notFound.Error(), Code: "UNKNOWN_PRODUCT", ProductID: notFound.ID})
	case errors.Is(err, orders.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "VALIDATION"})
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "order not found", Code: "NOT_FOUND"})
	case errors.Is(err, orders.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required", Code: "UNAUTHENTICATED"})
	case errors.Is(err, orders.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "access denied", Code: "FORBIDDEN"})
	case errors.Is(err, orders.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "INVALID_TRANSITION"})
	case errors.Is(err, orders.ErrRetryable):
		logger.Warn("retryable failure", zap.Error(err))
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "temporarily unavailable, retry", Code: "RETRYABLE"})
	default:
		logger.Error("internal error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "INTERNAL"})
	}
}
