package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// transitions is the forward-only order state machine. Cancellation is
// reachable only from pending and paid; shipped and delivered never move
// backward.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:      {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusDelivered},
	OrderStatusDelivered: {},
	OrderStatusCancelled: {},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

func (s OrderStatus) String() string {
	return string(s)
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusCaptured PaymentStatus = "captured"
	PaymentStatusFailed   PaymentStatus = "failed"
)

type PaymentInfo struct {
	Method        string        `json:"method"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transaction_id,omitempty"`
}

// PaymentResult is the outcome of a capture attempt at the gateway.
type PaymentResult struct {
	Success       bool
	TransactionID string
	Reason        string
}

type ShippingInfo struct {
	Address string  `json:"address"`
	Cost    float64 `json:"cost"`
}

// OrderItem snapshots price at purchase time; later catalog price changes
// do not affect existing orders.
type OrderItem struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

func (i OrderItem) Subtotal() float64 {
	return i.UnitPrice * float64(i.Quantity)
}

type Order struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Items     []OrderItem  `json:"items"`
	Shipping  ShippingInfo `json:"shipping"`
	Payment   PaymentInfo  `json:"payment"`
	Status    OrderStatus  `json:"status"`
	Total     float64      `json:"total"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ComputeTotal derives the immutable order total from item subtotals plus
// shipping cost.
func (o *Order) ComputeTotal() float64 {
	total := o.Shipping.Cost
	for _, item := range o.Items {
		total += item.Subtotal()
	}
	return total
}
