package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

const DefaultDeliveryStatus = "Preparing"

type Product struct {
	ID       string          `json:"id" yaml:"id"`
	Name     string          `json:"name" yaml:"name"`
	Price    decimal.Decimal `json:"price" yaml:"price"`
	Currency string          `json:"currency" yaml:"currency"`
	Stock    int             `json:"stock" yaml:"stock"`
}

type Order struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Status    Status          `json:"status"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency"`
	Items     []OrderItem     `json:"items"`
	Delivery  *DeliveryInfo   `json:"delivery,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type OrderItem struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"` // snapshot at order time
}

type DeliveryInfo struct {
	OrderID           string     `json:"orderId"`
	FullName          string     `json:"fullName"`
	Phone             string     `json:"phone"`
	AddressLine1      string     `json:"addressLine1"`
	AddressLine2      string     `json:"addressLine2"`
	City              string     `json:"city"`
	State             string     `json:"state"`
	PostalCode        string     `json:"postalCode"`
	Country           string     `json:"country"`
	Courier           string     `json:"courier"`
	TrackingNumber    string     `json:"trackingNumber"`
	Status            string     `json:"status"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery"`
	Instructions      string     `json:"instructions"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

const GuestStatusNew = "NEW"

type GuestOrder struct {
	ID           string          `json:"id"`
	CustomerName string          `json:"customerName"`
	Phone        string          `json:"phone"`
	BusinessName string          `json:"businessName"`
	GST          string          `json:"gst,omitempty"`
	Email        string          `json:"email,omitempty"`
	Items        []GuestItem     `json:"items"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	TotalItems   int             `json:"totalItems"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// GuestItem is stored verbatim for staff to reconcile by hand.
type GuestItem struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	MOQ      int             `json:"moq,omitempty"`
	Note     string          `json:"note,omitempty"`
}

// ---- inputs ----

type ItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type PlaceOrderRequest struct {
	Items    []ItemInput     `json:"items"`
	Delivery *DeliveryUpdate `json:"delivery,omitempty"`
}

// DeliveryUpdate carries only the fields the caller sent; nil means "keep".
type DeliveryUpdate struct {
	FullName          *string    `json:"fullName,omitempty"`
	Phone             *string    `json:"phone,omitempty"`
	AddressLine1      *string    `json:"addressLine1,omitempty"`
	AddressLine2      *string    `json:"addressLine2,omitempty"`
	City              *string    `json:"city,omitempty"`
	State             *string    `json:"state,omitempty"`
	PostalCode        *string    `json:"postalCode,omitempty"`
	Country           *string    `json:"country,omitempty"`
	Courier           *string    `json:"courier,omitempty"`
	TrackingNumber    *string    `json:"trackingNumber,omitempty"`
	Status            *string    `json:"status,omitempty"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`
	Instructions      *string    `json:"instructions,omitempty"`
}

func (u DeliveryUpdate) ApplyTo(d *DeliveryInfo) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&d.FullName, u.FullName)
	set(&d.Phone, u.Phone)
	set(&d.AddressLine1, u.AddressLine1)
	set(&d.AddressLine2, u.AddressLine2)
	set(&d.City, u.City)
	set(&d.State, u.State)
	set(&d.PostalCode, u.PostalCode)
	set(&d.Country, u.Country)
	set(&d.Courier, u.Courier)
	set(&d.TrackingNumber, u.TrackingNumber)
	set(&d.Status, u.Status)
	set(&d.Instructions, u.Instructions)
	if u.EstimatedDelivery != nil {
		t := *u.EstimatedDelivery
		d.EstimatedDelivery = &t
	}
	if d.Status == "" {
		d.Status = DefaultDeliveryStatus
	}
}

type CustomerDetails struct {
	CustomerName string `json:"customerName"`
	Phone        string `json:"phone"`
	BusinessName string `json:"businessName"`
	GST          string `json:"gst,omitempty"`
	Email        string `json:"email,omitempty"`
}

type GuestOrderRequest struct {
	CustomerDetails CustomerDetails `json:"customerDetails"`
	Items           []GuestItem     `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TotalItems      int             `json:"totalItems"`
}

// Clone returns a deep copy so callers never share item slices or the delivery pointer.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	if o.Delivery != nil {
		d := *o.Delivery
		if o.Delivery.EstimatedDelivery != nil {
			t := *o.Delivery.EstimatedDelivery
			d.EstimatedDelivery = &t
		}
		c.Delivery = &d
	}
	return &c
}
