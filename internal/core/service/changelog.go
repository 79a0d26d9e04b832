package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storekit/commerce-core/internal/core/domain"
	"github.com/storekit/commerce-core/internal/port"
)

// ChangeLog writes the append-only inventory audit trail. A failed append
// must never fail the inventory mutation it documents, so Record only logs
// persistence errors.
type ChangeLog struct {
	repo   port.ChangeLogRepository
	logger *zap.Logger
}

func NewChangeLog(repo port.ChangeLogRepository, logger *zap.Logger) *ChangeLog {
	return &ChangeLog{repo: repo, logger: logger}
}

func (c *ChangeLog) Record(ctx context.Context, rec domain.ChangeRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	if err := c.repo.Append(ctx, rec); err != nil {
		c.logger.Error("change log append failed",
			zap.String("product_id", rec.ProductID),
			zap.String("reason", string(rec.Reason)),
			zap.Int("quantity_change", rec.QuantityChange),
			zap.Error(err))
	}
}

func (c *ChangeLog) Query(ctx context.Context, productID string, from, to time.Time) ([]domain.ChangeRecord, error) {
	return c.repo.Query(ctx, productID, from, to)
}
