package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/storekit/commerce-core/internal/core/domain"
	"github.com/storekit/commerce-core/internal/port"
)

// MySQLAdapter is the durable backend for inventory, orders and the change
// log. Inventory writes are conditional on the version column; a write that
// matches zero rows lost an optimistic-lock race.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// RunMigrations applies the SQL migrations from dir.
func (m *MySQLAdapter) RunMigrations(dir string) error {
	driver, err := migratemysql.WithInstance(m.db, &migratemysql.Config{
		MigrationsTable: "commerce_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	mig, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", dir), "mysql", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) Get(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	err := m.db.QueryRowContext(ctx, `
		SELECT product_id, quantity, reserved, low_stock_threshold, version, updated_at
		FROM inventory WHERE product_id = ?`, productID,
	).Scan(&rec.ProductID, &rec.Quantity, &rec.Reserved, &rec.LowStockThreshold, &rec.Version, &rec.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	return &rec, nil
}

func (m *MySQLAdapter) Create(ctx context.Context, rec *domain.InventoryRecord) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO inventory (product_id, quantity, reserved, low_stock_threshold, version, updated_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		rec.ProductID, rec.Quantity, rec.Reserved, rec.LowStockThreshold, rec.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return port.ErrVersionConflict
		}
		return fmt.Errorf("insert inventory: %w", err)
	}
	rec.Version = 0
	return nil
}

func (m *MySQLAdapter) Update(ctx context.Context, rec *domain.InventoryRecord) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE inventory
		SET quantity = ?, reserved = ?, low_stock_threshold = ?, version = version + 1, updated_at = ?
		WHERE product_id = ? AND version = ?`,
		rec.Quantity, rec.Reserved, rec.LowStockThreshold, rec.UpdatedAt,
		rec.ProductID, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("update inventory: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrVersionConflict
	}
	rec.Version++
	return nil
}

func (m *MySQLAdapter) List(ctx context.Context) ([]domain.InventoryRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT product_id, quantity, reserved, low_stock_threshold, version, updated_at
		FROM inventory ORDER BY product_id`)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	defer rows.Close()

	records := make([]domain.InventoryRecord, 0)
	for rows.Next() {
		var rec domain.InventoryRecord
		if err := rows.Scan(&rec.ProductID, &rec.Quantity, &rec.Reserved, &rec.LowStockThreshold, &rec.Version, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MySQLOrders persists orders; line items are stored as a JSON column.
type MySQLOrders struct {
	db *sql.DB
}

func NewMySQLOrders(db *sql.DB) *MySQLOrders {
	return &MySQLOrders{db: db}
}

func (m *MySQLOrders) Create(ctx context.Context, order *domain.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("marshal order items: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, status, total, shipping_address, shipping_cost,
			payment_method, payment_status, payment_txn_id, items, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.UserID, order.Status, order.Total,
		order.Shipping.Address, order.Shipping.Cost,
		order.Payment.Method, order.Payment.Status, order.Payment.TransactionID,
		itemsJSON, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (m *MySQLOrders) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	var order domain.Order
	var itemsJSON []byte
	err := m.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, total, shipping_address, shipping_cost,
			payment_method, payment_status, payment_txn_id, items, created_at, updated_at
		FROM orders WHERE id = ?`, orderID,
	).Scan(&order.ID, &order.UserID, &order.Status, &order.Total,
		&order.Shipping.Address, &order.Shipping.Cost,
		&order.Payment.Method, &order.Payment.Status, &order.Payment.TransactionID,
		&itemsJSON, &order.CreatedAt, &order.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	return &order, nil
}

// Update is conditional on the status the caller read, mirroring the
// version guard on inventory: zero matched rows means a concurrent
// transition landed first.
func (m *MySQLOrders) Update(ctx context.Context, order *domain.Order, expected domain.OrderStatus) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, payment_status = ?, payment_txn_id = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		order.Status, order.Payment.Status, order.Payment.TransactionID, order.UpdatedAt,
		order.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrVersionConflict
	}
	return nil
}

func (m *MySQLAdapter) Append(ctx context.Context, rec domain.ChangeRecord) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO inventory_change_log (id, product_id, quantity_change, reason, reference, performed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ProductID, rec.QuantityChange, rec.Reason, rec.Reference, rec.PerformedBy, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert change record: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) Query(ctx context.Context, productID string, from, to time.Time) ([]domain.ChangeRecord, error) {
	query := `SELECT id, product_id, quantity_change, reason, reference, performed_by, created_at
		FROM inventory_change_log WHERE 1=1`
	args := make([]any, 0, 3)

	if productID != "" {
		query += " AND product_id = ?"
		args = append(args, productID)
	}
	if !from.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, from)
	}
	if !to.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, to)
	}
	query += " ORDER BY created_at"

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query change log: %w", err)
	}
	defer rows.Close()

	records := make([]domain.ChangeRecord, 0)
	for rows.Next() {
		var rec domain.ChangeRecord
		if err := rows.Scan(&rec.ID, &rec.ProductID, &rec.QuantityChange, &rec.Reason, &rec.Reference, &rec.PerformedBy, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan change record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// isDuplicateKey matches MySQL error 1062 (duplicate entry for key).
func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
