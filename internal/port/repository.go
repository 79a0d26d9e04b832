package port

import (
	"context"
	"errors"
	"time"

	"github.com/storekit/commerce-core/internal/core/domain"
)

var (
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict means a conditional update lost the race against a
	// concurrent writer. Callers retry a bounded number of times.
	ErrVersionConflict = errors.New("version conflict")
)

// InventoryRepository persists per-product stock counters. Update must be a
// conditional write on Version (compare-and-swap) so two concurrent
// read-modify-write cycles on the same product cannot both win.
type InventoryRepository interface {
	// Get retrieves the record for a product, ErrNotFound if none exists.
	Get(ctx context.Context, productID string) (*domain.InventoryRecord, error)

	// Create inserts a new record with Version 0.
	Create(ctx context.Context, rec *domain.InventoryRecord) error

	// Update writes rec only if the stored Version matches rec.Version,
	// incrementing it. Returns ErrVersionConflict otherwise.
	Update(ctx context.Context, rec *domain.InventoryRecord) error

	// List returns all inventory records.
	List(ctx context.Context) ([]domain.InventoryRecord, error)
}

// ChangeLogRepository is the append-only audit sink for inventory deltas.
type ChangeLogRepository interface {
	Append(ctx context.Context, rec domain.ChangeRecord) error

	// Query returns entries ordered by creation time. Empty productID and
	// zero time bounds are unbounded.
	Query(ctx context.Context, productID string, from, to time.Time) ([]domain.ChangeRecord, error)
}

// CartRepository stores one cart per user.
type CartRepository interface {
	// Get retrieves a user's cart, ErrNotFound if the user has none.
	Get(ctx context.Context, userID string) (*domain.Cart, error)

	Save(ctx context.Context, cart *domain.Cart) error

	Delete(ctx context.Context, userID string) error
}

// OrderRepository persists orders keyed by order id. Update is a
// conditional write on the order's prior status, the same guard the
// inventory repository gets from its version column: two writers that both
// read the same status cannot both win.
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error

	// Get retrieves an order, ErrNotFound if none exists.
	Get(ctx context.Context, orderID string) (*domain.Order, error)

	// Update writes order only if the stored status still equals expected.
	// Returns ErrVersionConflict when a concurrent transition won first.
	Update(ctx context.Context, order *domain.Order, expected domain.OrderStatus) error
}

// IdempotencyStore guards against duplicate checkout submissions.
type IdempotencyStore interface {
	// SetIfAbsent sets a key, returns false if it already exists.
	SetIfAbsent(ctx context.Context, key string) (bool, error)
}
