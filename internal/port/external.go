package port

import (
	"context"

	"github.com/storekit/commerce-core/internal/core/domain"
)

// ProductCatalog is the read-only catalog collaborator. The core uses it
// once per checkout line item to snapshot the unit price.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}

// PaymentGateway captures payment for a created order. Capture runs off the
// checkout critical path; its result feeds OrderService.ProcessPayment.
type PaymentGateway interface {
	Capture(ctx context.Context, orderID, method string, amount float64) (*domain.PaymentResult, error)
}

// Notifier delivers fire-and-forget order notifications. Failures are
// logged by callers and never roll back order or inventory state.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order *domain.Order) error
	SendStatusUpdate(ctx context.Context, order *domain.Order) error
	SendShippingConfirmation(ctx context.Context, order *domain.Order) error

	// SendPaymentFailed feeds the out-of-band reconciliation flow for
	// orders whose capture failed after inventory was committed.
	SendPaymentFailed(ctx context.Context, order *domain.Order, reason string) error
}
