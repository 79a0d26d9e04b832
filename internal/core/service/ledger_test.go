package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storekit/commerce-core/internal/adapter/storage"
	"github.com/storekit/commerce-core/internal/core/domain"
	"github.com/storekit/commerce-core/internal/port"
)

func newTestLedger() (*Ledger, *storage.MemoryChangeLog) {
	logger := zap.NewNop()
	changelogRepo := storage.NewMemoryChangeLog()
	changelog := NewChangeLog(changelogRepo, logger)
	return NewLedger(storage.NewMemoryInventory(), changelog, logger), changelogRepo
}

func TestLedger_AdjustCreatesRecord(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	rec, err := ledger.Adjust(ctx, "sku-1", 10, domain.ReasonRestock, "po-42", "admin")
	require.NoError(t, err)

	assert.Equal(t, 10, rec.Quantity)
	assert.Equal(t, 0, rec.Reserved)
	assert.Equal(t, 10, rec.Available())
}

func TestLedger_AdjustFloorsAtZero(t *testing.T) {
	ledger, changelog := newTestLedger()
	ctx := context.Background()

	_, err := ledger.Adjust(ctx, "sku-1", 5, domain.ReasonRestock, "", "admin")
	require.NoError(t, err)

	rec, err := ledger.Adjust(ctx, "sku-1", -8, domain.ReasonDamage, "", "admin")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Quantity)

	// The audit entry records the delta actually applied, not the request.
	entries, err := changelog.Query(ctx, "sku-1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, -5, entries[1].QuantityChange)
	assert.Equal(t, domain.ReasonDamage, entries[1].Reason)
}

func TestLedger_AdjustRoundTrip(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	before, err := ledger.Adjust(ctx, "sku-1", 25, domain.ReasonRestock, "", "admin")
	require.NoError(t, err)

	_, err = ledger.Adjust(ctx, "sku-1", 10, domain.ReasonRestock, "", "admin")
	require.NoError(t, err)
	after, err := ledger.Adjust(ctx, "sku-1", -10, domain.ReasonSale, "order-1", "system")
	require.NoError(t, err)

	assert.Equal(t, before.Quantity, after.Quantity)
}

func TestLedger_ReserveSuccess(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	_, err := ledger.Adjust(ctx, "sku-1", 10, domain.ReasonRestock, "", "admin")
	require.NoError(t, err)

	ok, err := ledger.Reserve(ctx, "sku-1", 4)
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := ledger.Get(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 10, rec.Quantity)
	assert.Equal(t, 4, rec.Reserved)
	assert.Equal(t, 6, rec.Available())
}

func TestLedger_ReserveInsufficientStock(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	_, err := ledger.Adjust(ctx, "sku-1", 3, domain.ReasonRestock, "", "admin")
	require.NoError(t, err)

	ok, err := ledger.Reserve(ctx, "sku-1", 4)
	require.NoError(t, err)
	assert.False(t, ok)

	// Nothing changed.
	rec, err := ledger.Get(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Reserved)
}

func TestLedger_ReserveUnknownProduct(t *testing.T) {
	ledger, _ := newTestLedger()

	ok, err := ledger.Reserve(context.Background(), "missing", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedger_ReserveConcurrentLastUnit(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	_, err := ledger.Adjust(ctx, "sku-1", 1, domain.ReasonRestock, "", "admin")
	require.NoError(t, err)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ledger.Reserve(ctx, "sku-1", 1)
			if err == nil && ok {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successCount.Load())
}

func TestLedger_ReserveConcurrentManyCallers(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	initialStock := 20
	totalRequests := 50

	_, err := ledger.Adjust(ctx, "sku-1", initialStock, domain.ReasonRestock, "", "admin")
	require.NoError(t, err)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ledger.Reserve(ctx, "sku-1", 1)
			if err == nil && ok {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(initialStock), successCount.Load())

	rec, err := ledger.Get(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Available())
	assert.Equal(t, initialStock, rec.Reserved)
}

func TestLedger_ReleaseFloorsReserved(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	_, err := ledger.Adjust(ctx, "sku-1", 10, domain.ReasonRestock, "", "admin")
	require.NoError(t, err)
	ok, err := ledger.Reserve(ctx, "sku-1", 3)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, ledger.Release(ctx, "sku-1", 5, "test"))

	rec, err := ledger.Get(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Reserved)
	assert.Equal(t, 10, rec.Available())
}

func TestLedger_CommitConvertsHold(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	_, err := ledger.Adjust(ctx, "sku-1", 10, domain.ReasonRestock, "", "admin")
	require.NoError(t, err)
	ok, err := ledger.Reserve(ctx, "sku-1", 4)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, ledger.Commit(ctx, "sku-1", 4, "order-1", "u1"))

	rec, err := ledger.Get(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 6, rec.Quantity)
	assert.Equal(t, 0, rec.Reserved)
	assert.Equal(t, 6, rec.Available())
}

func TestLedger_LowStockAlerts(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	_, err := ledger.Adjust(ctx, "sku-low", 3, domain.ReasonRestock, "", "admin")
	require.NoError(t, err)
	require.NoError(t, ledger.SetLowStockThreshold(ctx, "sku-low", 5))

	_, err = ledger.Adjust(ctx, "sku-out", 2, domain.ReasonRestock, "", "admin")
	require.NoError(t, err)
	_, err = ledger.Adjust(ctx, "sku-out", -2, domain.ReasonSale, "", "system")
	require.NoError(t, err)

	_, err = ledger.Adjust(ctx, "sku-fine", 100, domain.ReasonRestock, "", "admin")
	require.NoError(t, err)

	alerts, err := ledger.LowStockAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	byProduct := make(map[string]domain.StockAlert)
	for _, a := range alerts {
		byProduct[a.ProductID] = a
	}
	assert.Equal(t, domain.AlertLowStock, byProduct["sku-low"].Type)
	assert.Equal(t, domain.AlertOutOfStock, byProduct["sku-out"].Type)
}

func TestLedger_ChangeLogFailureDoesNotFailMutation(t *testing.T) {
	logger := zap.NewNop()
	changelog := NewChangeLog(&failingChangeLog{}, logger)
	ledger := NewLedger(storage.NewMemoryInventory(), changelog, logger)

	rec, err := ledger.Adjust(context.Background(), "sku-1", 5, domain.ReasonRestock, "", "admin")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Quantity)
}

type failingChangeLog struct{}

func (f *failingChangeLog) Append(context.Context, domain.ChangeRecord) error {
	return assert.AnError
}

func (f *failingChangeLog) Query(context.Context, string, time.Time, time.Time) ([]domain.ChangeRecord, error) {
	return nil, nil
}

// conflictingInventory wraps a repository and forces the first n updates to
// lose the optimistic-lock race.
type conflictingInventory struct {
	port.InventoryRepository
	remaining atomic.Int32
}

func (c *conflictingInventory) Update(ctx context.Context, rec *domain.InventoryRecord) error {
	if c.remaining.Add(-1) >= 0 {
		return port.ErrVersionConflict
	}
	return c.InventoryRepository.Update(ctx, rec)
}

func TestLedger_ReserveRetriesOnConflict(t *testing.T) {
	logger := zap.NewNop()
	repo := &conflictingInventory{InventoryRepository: storage.NewMemoryInventory()}
	repo.remaining.Store(2)
	ledger := NewLedger(repo, NewChangeLog(storage.NewMemoryChangeLog(), logger), logger)
	ctx := context.Background()

	// Stock the product without triggering synthetic conflicts.
	repo.remaining.Store(-100)
	_, err := ledger.Adjust(ctx, "sku-1", 10, domain.ReasonRestock, "", "admin")
	require.NoError(t, err)

	repo.remaining.Store(2)
	ok, err := ledger.Reserve(ctx, "sku-1", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLedger_ReserveSurfacesExhaustedRetries(t *testing.T) {
	logger := zap.NewNop()
	repo := &conflictingInventory{InventoryRepository: storage.NewMemoryInventory()}
	repo.remaining.Store(-100)
	ledger := NewLedger(repo, NewChangeLog(storage.NewMemoryChangeLog(), logger), logger)
	ctx := context.Background()

	_, err := ledger.Adjust(ctx, "sku-1", 10, domain.ReasonRestock, "", "admin")
	require.NoError(t, err)

	repo.remaining.Store(int32(maxUpdateRetries) + 1)
	_, err = ledger.Reserve(ctx, "sku-1", 1)
	assert.ErrorIs(t, err, port.ErrVersionConflict)
}
