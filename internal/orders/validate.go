package orders

import (
	"net/mail"
	"sort"
	"strings"
)

func validateItems(items []ItemInput) error {
	if len(items) == 0 {
		return validationf("order has no items")
	}
	for i, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return validationf("item %d: missing productId", i)
		}
		if it.Quantity <= 0 {
			return validationf("item %d (%s): quantity must be positive", i, it.ProductID)
		}
	}
	return nil
}

// distinctProductIDs keeps first-seen order.
func distinctProductIDs(items []ItemInput) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			out = append(out, it.ProductID)
		}
	}
	return out
}

// lockOrder sorts lines by product id so concurrent orders touch rows in the same order.
func lockOrder(items []ItemInput) []ItemInput {
	out := append([]ItemInput(nil), items...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func validateGuestOrder(req *GuestOrderRequest) error {
	d := &req.CustomerDetails
	d.CustomerName = strings.TrimSpace(d.CustomerName)
	d.Phone = strings.TrimSpace(d.Phone)
	d.BusinessName = strings.TrimSpace(d.BusinessName)
	d.GST = strings.TrimSpace(d.GST)
	d.Email = strings.TrimSpace(d.Email)

	switch {
	case d.CustomerName == "":
		return validationf("customerName is required")
	case d.Phone == "":
		return validationf("phone is required")
	case d.BusinessName == "":
		return validationf("businessName is required")
	}
	if d.Email != "" {
		if _, err := mail.ParseAddress(d.Email); err != nil {
			return validationf("email %q is not valid", d.Email)
		}
	}
	if len(req.Items) == 0 {
		return validationf("guest order has no items")
	}
	for i, it := range req.Items {
		if it.ID == "" && it.Name == "" {
			return validationf("item %d: id or name is required", i)
		}
		if it.Quantity <= 0 {
			return validationf("item %d: quantity must be positive", i)
		}
		if it.Price.IsNegative() {
			return validationf("item %d: price must not be negative", i)
		}
	}
	if req.Subtotal.IsNegative() {
		return validationf("subtotal must not be negative")
	}
	if req.TotalItems < 0 {
		return validationf("totalItems must not be negative")
	}
	return nil
}
