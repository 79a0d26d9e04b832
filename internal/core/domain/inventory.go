package domain

import "time"

// InventoryRecord tracks stock counters for a single product. Quantity is
// total physical stock, Reserved is stock held against in-flight checkouts.
// Records are created on first adjustment and never deleted; zero quantity
// is a valid steady state.
type InventoryRecord struct {
	ProductID         string
	Quantity          int
	Reserved          int
	LowStockThreshold int
	Version           int // optimistic locking
	UpdatedAt         time.Time
}

// Available is the number of units that can currently be sold.
func (r InventoryRecord) Available() int {
	return r.Quantity - r.Reserved
}

type AlertType string

const (
	AlertLowStock   AlertType = "low_stock"
	AlertOutOfStock AlertType = "out_of_stock"
)

// StockAlert flags a product whose stock dropped to or below its threshold.
type StockAlert struct {
	ProductID string    `json:"product_id"`
	Type      AlertType `json:"type"`
	Quantity  int       `json:"quantity"`
	Threshold int       `json:"threshold"`
}
