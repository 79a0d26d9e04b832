package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/storekit/commerce-core/internal/core/domain"
	"github.com/storekit/commerce-core/internal/port"
)

// maxUpdateRetries bounds the optimistic-lock retry loop. Conflicts are
// transient; after this many lost races the failure surfaces to the caller.
const maxUpdateRetries = 5

// Ledger is the only component allowed to mutate stock counters. Every
// mutation is a read-modify-write guarded by a version check in the
// repository, retried on conflict, and mirrored into the change log.
type Ledger struct {
	inventory port.InventoryRepository
	changelog *ChangeLog
	logger    *zap.Logger
}

func NewLedger(inventory port.InventoryRepository, changelog *ChangeLog, logger *zap.Logger) *Ledger {
	return &Ledger{
		inventory: inventory,
		changelog: changelog,
		logger:    logger,
	}
}

// Get returns the inventory record for a product.
func (l *Ledger) Get(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	rec, err := l.inventory.Get(ctx, productID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get inventory: %w", err)
	}
	return rec, nil
}

// Available returns sellable units for a product. Products with no
// inventory record sell zero.
func (l *Ledger) Available(ctx context.Context, productID string) (int, error) {
	rec, err := l.inventory.Get(ctx, productID)
	if errors.Is(err, port.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get inventory: %w", err)
	}
	return rec.Available(), nil
}

// Adjust applies a signed delta to a product's quantity, flooring at zero,
// and appends an audit entry with the delta actually applied. The record is
// created on first adjustment.
func (l *Ledger) Adjust(ctx context.Context, productID string, delta int, reason domain.ChangeReason, reference, actor string) (*domain.InventoryRecord, error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		rec, err := l.inventory.Get(ctx, productID)
		if errors.Is(err, port.ErrNotFound) {
			rec = &domain.InventoryRecord{ProductID: productID, UpdatedAt: time.Now()}
			if createErr := l.inventory.Create(ctx, rec); createErr != nil {
				if errors.Is(createErr, port.ErrVersionConflict) {
					continue // lost the creation race, reread
				}
				return nil, fmt.Errorf("create inventory: %w", createErr)
			}
		} else if err != nil {
			return nil, fmt.Errorf("get inventory: %w", err)
		}

		newQuantity := rec.Quantity + delta
		if newQuantity < 0 {
			newQuantity = 0
		}
		applied := newQuantity - rec.Quantity

		rec.Quantity = newQuantity
		rec.UpdatedAt = time.Now()

		if err := l.inventory.Update(ctx, rec); err != nil {
			if errors.Is(err, port.ErrVersionConflict) {
				continue
			}
			return nil, fmt.Errorf("update inventory: %w", err)
		}

		l.changelog.Record(ctx, domain.ChangeRecord{
			ProductID:      productID,
			QuantityChange: applied,
			Reason:         reason,
			Reference:      reference,
			PerformedBy:    actor,
		})
		return rec, nil
	}

	return nil, fmt.Errorf("adjust %s: %w", productID, port.ErrVersionConflict)
}

// Reserve atomically places a hold on stock: it succeeds only when
// available >= quantity, incrementing Reserved. Returning false means
// insufficient stock and is normal control flow, not an error. Two callers
// racing for the last unit cannot both succeed.
func (l *Ledger) Reserve(ctx context.Context, productID string, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, ErrInvalidQuantity
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		rec, err := l.inventory.Get(ctx, productID)
		if errors.Is(err, port.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("get inventory: %w", err)
		}

		if rec.Available() < quantity {
			return false, nil
		}

		rec.Reserved += quantity
		rec.UpdatedAt = time.Now()

		if err := l.inventory.Update(ctx, rec); err != nil {
			if errors.Is(err, port.ErrVersionConflict) {
				continue
			}
			return false, fmt.Errorf("update inventory: %w", err)
		}

		l.changelog.Record(ctx, domain.ChangeRecord{
			ProductID:      productID,
			QuantityChange: quantity,
			Reason:         domain.ReasonReservation,
			Reference:      "checkout",
			PerformedBy:    "system",
		})
		return true, nil
	}

	return false, fmt.Errorf("reserve %s: %w", productID, port.ErrVersionConflict)
}

// Release drops a hold, flooring Reserved at zero. Used when checkout fails
// partway or a reservation is abandoned.
func (l *Ledger) Release(ctx context.Context, productID string, quantity int, reference string) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		rec, err := l.inventory.Get(ctx, productID)
		if errors.Is(err, port.ErrNotFound) {
			return nil // nothing held
		}
		if err != nil {
			return fmt.Errorf("get inventory: %w", err)
		}

		released := quantity
		if released > rec.Reserved {
			released = rec.Reserved
		}
		rec.Reserved -= released
		rec.UpdatedAt = time.Now()

		if err := l.inventory.Update(ctx, rec); err != nil {
			if errors.Is(err, port.ErrVersionConflict) {
				continue
			}
			return fmt.Errorf("update inventory: %w", err)
		}

		l.changelog.Record(ctx, domain.ChangeRecord{
			ProductID:      productID,
			QuantityChange: -released,
			Reason:         domain.ReasonRelease,
			Reference:      reference,
			PerformedBy:    "system",
		})
		return nil
	}

	return fmt.Errorf("release %s: %w", productID, port.ErrVersionConflict)
}

// Commit converts a hold into a firm decrement in a single conditional
// write: quantity and reserved drop together so available never dips
// negative between the two halves. Logged as a sale plus the matching
// release of the hold.
func (l *Ledger) Commit(ctx context.Context, productID string, quantity int, orderID, actor string) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		rec, err := l.inventory.Get(ctx, productID)
		if errors.Is(err, port.ErrNotFound) {
			return fmt.Errorf("commit %s: %w", productID, ErrProductNotFound)
		}
		if err != nil {
			return fmt.Errorf("get inventory: %w", err)
		}

		rec.Quantity -= quantity
		if rec.Quantity < 0 {
			rec.Quantity = 0
		}
		rec.Reserved -= quantity
		if rec.Reserved < 0 {
			rec.Reserved = 0
		}
		rec.UpdatedAt = time.Now()

		if err := l.inventory.Update(ctx, rec); err != nil {
			if errors.Is(err, port.ErrVersionConflict) {
				continue
			}
			return fmt.Errorf("update inventory: %w", err)
		}

		l.changelog.Record(ctx, domain.ChangeRecord{
			ProductID:      productID,
			QuantityChange: -quantity,
			Reason:         domain.ReasonSale,
			Reference:      orderID,
			PerformedBy:    actor,
		})
		l.changelog.Record(ctx, domain.ChangeRecord{
			ProductID:      productID,
			QuantityChange: -quantity,
			Reason:         domain.ReasonRelease,
			Reference:      orderID,
			PerformedBy:    "system",
		})
		return nil
	}

	return fmt.Errorf("commit %s: %w", productID, port.ErrVersionConflict)
}

// LowStockAlerts scans all records and flags products at or below their
// threshold, or fully out of stock.
func (l *Ledger) LowStockAlerts(ctx context.Context) ([]domain.StockAlert, error) {
	records, err := l.inventory.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}

	alerts := make([]domain.StockAlert, 0)
	for _, rec := range records {
		switch {
		case rec.Quantity == 0:
			alerts = append(alerts, domain.StockAlert{
				ProductID: rec.ProductID,
				Type:      domain.AlertOutOfStock,
				Quantity:  0,
				Threshold: rec.LowStockThreshold,
			})
		case rec.Quantity <= rec.LowStockThreshold:
			alerts = append(alerts, domain.StockAlert{
				ProductID: rec.ProductID,
				Type:      domain.AlertLowStock,
				Quantity:  rec.Quantity,
				Threshold: rec.LowStockThreshold,
			})
		}
	}
	return alerts, nil
}

// SetLowStockThreshold updates the alerting threshold for a product.
func (l *Ledger) SetLowStockThreshold(ctx context.Context, productID string, threshold int) error {
	if threshold < 0 {
		return ErrInvalidQuantity
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		rec, err := l.inventory.Get(ctx, productID)
		if errors.Is(err, port.ErrNotFound) {
			return ErrProductNotFound
		}
		if err != nil {
			return fmt.Errorf("get inventory: %w", err)
		}

		rec.LowStockThreshold = threshold
		rec.UpdatedAt = time.Now()

		if err := l.inventory.Update(ctx, rec); err != nil {
			if errors.Is(err, port.ErrVersionConflict) {
				continue
			}
			return fmt.Errorf("update inventory: %w", err)
		}
		return nil
	}

	return fmt.Errorf("set threshold %s: %w", productID, port.ErrVersionConflict)
}

// ChangeHistory exposes the audit trail for a product.
func (l *Ledger) ChangeHistory(ctx context.Context, productID string, from, to time.Time) ([]domain.ChangeRecord, error) {
	return l.changelog.Query(ctx, productID, from, to)
}
