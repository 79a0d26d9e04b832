package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/storekit/commerce-core/internal/core/domain"
	"github.com/storekit/commerce-core/internal/port"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/commerce?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	return db
}

func seedInventoryRow(t *testing.T, db *sql.DB, productID string, quantity, reserved, version int) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO inventory (product_id, quantity, reserved, low_stock_threshold, version, updated_at)
		VALUES (?, ?, ?, 0, ?, NOW(6))
		ON DUPLICATE KEY UPDATE quantity = VALUES(quantity), reserved = VALUES(reserved), version = VALUES(version)`,
		productID, quantity, reserved, version)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
}

func TestMySQLInventory_GetAndNotFound(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	seedInventoryRow(t, db, "it-get", 50, 3, 5)

	rec, err := adapter.Get(ctx, "it-get")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Quantity != 50 || rec.Reserved != 3 || rec.Version != 5 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Available() != 47 {
		t.Errorf("expected available 47, got %d", rec.Available())
	}

	_, err = adapter.Get(ctx, "it-nonexistent")
	if !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestMySQLInventory_CreateDuplicate(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)

	db.ExecContext(ctx, `DELETE FROM inventory WHERE product_id = 'it-create'`)

	rec := &domain.InventoryRecord{ProductID: "it-create", Quantity: 10, UpdatedAt: time.Now()}
	if err := adapter.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err := adapter.Create(ctx, &domain.InventoryRecord{ProductID: "it-create", UpdatedAt: time.Now()})
	if !errors.Is(err, port.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict for duplicate insert, got: %v", err)
	}

	db.ExecContext(ctx, `DELETE FROM inventory WHERE product_id = 'it-create'`)
}

func TestMySQLInventory_UpdateOptimisticLock(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	seedInventoryRow(t, db, "it-lock", 100, 0, 1)

	rec := &domain.InventoryRecord{
		ProductID: "it-lock",
		Quantity:  90,
		Version:   1,
		UpdatedAt: time.Now(),
	}
	if err := adapter.Update(ctx, rec); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if rec.Version != 2 {
		t.Errorf("expected version 2 after update, got %d", rec.Version)
	}

	// Replay with the stale version.
	stale := &domain.InventoryRecord{ProductID: "it-lock", Quantity: 80, Version: 1, UpdatedAt: time.Now()}
	if err := adapter.Update(ctx, stale); !errors.Is(err, port.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got: %v", err)
	}

	var quantity int
	db.QueryRowContext(ctx, `SELECT quantity FROM inventory WHERE product_id = 'it-lock'`).Scan(&quantity)
	if quantity != 90 {
		t.Errorf("stale write must not land: expected quantity 90, got %d", quantity)
	}
}

func TestMySQLOrders_RoundTrip(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	orders := NewMySQLOrders(db)

	id := "it-order-" + time.Now().Format("20060102150405.000000")
	order := &domain.Order{
		ID:     id,
		UserID: "it-user",
		Status: domain.OrderStatusPending,
		Total:  24.00,
		Items: []domain.OrderItem{
			{ProductID: "it-sku", Quantity: 2, UnitPrice: 10.00},
		},
		Shipping: domain.ShippingInfo{Address: "1 Main St", Cost: 4.00},
		Payment: domain.PaymentInfo{
			Method: "card",
			Status: domain.PaymentStatusPending,
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := orders.Create(ctx, order); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer db.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)

	stored, err := orders.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != domain.OrderStatusPending || len(stored.Items) != 1 {
		t.Errorf("unexpected order: %+v", stored)
	}
	if stored.Items[0].UnitPrice != 10.00 {
		t.Errorf("expected unit price 10.00, got %v", stored.Items[0].UnitPrice)
	}

	stored.Status = domain.OrderStatusPaid
	stored.Payment.Status = domain.PaymentStatusCaptured
	stored.Payment.TransactionID = "txn-1"
	stored.UpdatedAt = time.Now()
	if err := orders.Update(ctx, stored, domain.OrderStatusPending); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	updated, err := orders.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get after update failed: %v", err)
	}
	if updated.Status != domain.OrderStatusPaid || updated.Payment.TransactionID != "txn-1" {
		t.Errorf("update did not land: %+v", updated)
	}

	// Replay with the status the first writer already moved past.
	stale := &domain.Order{ID: id, Status: domain.OrderStatusCancelled, UpdatedAt: time.Now()}
	if err := orders.Update(ctx, stale, domain.OrderStatusPending); !errors.Is(err, port.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict for stale status, got: %v", err)
	}

	if err := orders.Update(ctx, &domain.Order{ID: "it-missing", UpdatedAt: time.Now()}, domain.OrderStatusPending); !errors.Is(err, port.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict for missing order, got: %v", err)
	}
}

func TestMySQLChangeLog_AppendAndQuery(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)

	db.ExecContext(ctx, `DELETE FROM inventory_change_log WHERE product_id = 'it-log'`)

	base := time.Now().UTC().Truncate(time.Second)
	records := []domain.ChangeRecord{
		{ID: "it-log-1", ProductID: "it-log", QuantityChange: 10, Reason: domain.ReasonRestock, PerformedBy: "test", CreatedAt: base},
		{ID: "it-log-2", ProductID: "it-log", QuantityChange: -2, Reason: domain.ReasonSale, Reference: "it-order", PerformedBy: "test", CreatedAt: base.Add(time.Minute)},
	}
	for _, rec := range records {
		if err := adapter.Append(ctx, rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	defer db.ExecContext(ctx, `DELETE FROM inventory_change_log WHERE product_id = 'it-log'`)

	all, err := adapter.Query(ctx, "it-log", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
	if all[0].ID != "it-log-1" || all[1].ID != "it-log-2" {
		t.Errorf("expected chronological order, got %s then %s", all[0].ID, all[1].ID)
	}

	windowed, err := adapter.Query(ctx, "it-log", base.Add(30*time.Second), time.Time{})
	if err != nil {
		t.Fatalf("Query with window failed: %v", err)
	}
	if len(windowed) != 1 || windowed[0].ID != "it-log-2" {
		t.Errorf("expected only the later record, got %+v", windowed)
	}
}
