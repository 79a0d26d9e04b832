package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/storekit/commerce-core/internal/core/domain"
	"github.com/storekit/commerce-core/internal/port"
)

// MemoryInventory is an in-process InventoryRepository. Update honors the
// same compare-and-swap contract as the MySQL adapter, so the ledger's
// retry loop behaves identically against either backend.
type MemoryInventory struct {
	mu      sync.RWMutex
	records map[string]domain.InventoryRecord
}

func NewMemoryInventory() *MemoryInventory {
	return &MemoryInventory{records: make(map[string]domain.InventoryRecord)}
}

func (m *MemoryInventory) Get(_ context.Context, productID string) (*domain.InventoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[productID]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryInventory) Create(_ context.Context, rec *domain.InventoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[rec.ProductID]; exists {
		return port.ErrVersionConflict
	}
	rec.Version = 0
	m.records[rec.ProductID] = *rec
	return nil
}

func (m *MemoryInventory) Update(_ context.Context, rec *domain.InventoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.records[rec.ProductID]
	if !ok {
		return port.ErrNotFound
	}
	if current.Version != rec.Version {
		return port.ErrVersionConflict
	}
	rec.Version++
	m.records[rec.ProductID] = *rec
	return nil
}

func (m *MemoryInventory) List(_ context.Context) ([]domain.InventoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]domain.InventoryRecord, 0, len(m.records))
	for _, rec := range m.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ProductID < records[j].ProductID })
	return records, nil
}

// MemoryCarts stores carts per user.
type MemoryCarts struct {
	mu    sync.RWMutex
	carts map[string]domain.Cart
}

func NewMemoryCarts() *MemoryCarts {
	return &MemoryCarts{carts: make(map[string]domain.Cart)}
}

func (m *MemoryCarts) Get(_ context.Context, userID string) (*domain.Cart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cart, ok := m.carts[userID]
	if !ok {
		return nil, port.ErrNotFound
	}
	copied := cart
	copied.Items = append([]domain.CartItem(nil), cart.Items...)
	return &copied, nil
}

func (m *MemoryCarts) Save(_ context.Context, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *cart
	copied.Items = append([]domain.CartItem(nil), cart.Items...)
	m.carts[cart.UserID] = copied
	return nil
}

func (m *MemoryCarts) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.carts, userID)
	return nil
}

// MemoryOrders stores orders by id.
type MemoryOrders struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

func NewMemoryOrders() *MemoryOrders {
	return &MemoryOrders{orders: make(map[string]domain.Order)}
}

func (m *MemoryOrders) Create(_ context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[order.ID]; exists {
		return port.ErrVersionConflict
	}
	m.orders[order.ID] = cloneOrder(order)
	return nil
}

func (m *MemoryOrders) Get(_ context.Context, orderID string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, port.ErrNotFound
	}
	copied := cloneOrder(&order)
	return &copied, nil
}

func (m *MemoryOrders) Update(_ context.Context, order *domain.Order, expected domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.orders[order.ID]
	if !ok {
		return port.ErrNotFound
	}
	if current.Status != expected {
		return port.ErrVersionConflict
	}
	m.orders[order.ID] = cloneOrder(order)
	return nil
}

func cloneOrder(order *domain.Order) domain.Order {
	copied := *order
	copied.Items = append([]domain.OrderItem(nil), order.Items...)
	return copied
}

// MemoryChangeLog is an append-only in-process audit sink.
type MemoryChangeLog struct {
	mu      sync.RWMutex
	entries []domain.ChangeRecord
}

func NewMemoryChangeLog() *MemoryChangeLog {
	return &MemoryChangeLog{}
}

func (m *MemoryChangeLog) Append(_ context.Context, rec domain.ChangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, rec)
	return nil
}

func (m *MemoryChangeLog) Query(_ context.Context, productID string, from, to time.Time) ([]domain.ChangeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]domain.ChangeRecord, 0)
	for _, rec := range m.entries {
		if productID != "" && rec.ProductID != productID {
			continue
		}
		if !from.IsZero() && rec.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && rec.CreatedAt.After(to) {
			continue
		}
		result = append(result, rec)
	}
	return result, nil
}

// MemoryIdempotency mirrors the Redis SETNX guard for tests and local runs.
type MemoryIdempotency struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{seen: make(map[string]bool)}
}

func (m *MemoryIdempotency) SetIfAbsent(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}
