package domain

import "time"

// ChangeReason classifies an inventory delta in the audit log.
type ChangeReason string

const (
	ReasonSale        ChangeReason = "sale"
	ReasonReturn      ChangeReason = "return"
	ReasonAdjustment  ChangeReason = "adjustment"
	ReasonRestock     ChangeReason = "restock"
	ReasonDamage      ChangeReason = "damage"
	ReasonReservation ChangeReason = "reservation"
	ReasonRelease     ChangeReason = "release"
)

// IsValid reports whether r is one of the known audit reasons. Arbitrary
// strings are kept out of the change log at the boundary.
func (r ChangeReason) IsValid() bool {
	switch r {
	case ReasonSale, ReasonReturn, ReasonAdjustment, ReasonRestock, ReasonDamage, ReasonReservation, ReasonRelease:
		return true
	}
	return false
}

// ChangeRecord is one append-only audit entry. For quantity-affecting
// reasons QuantityChange is the signed delta applied to Quantity; for
// reservation/release it is the signed delta applied to Reserved.
type ChangeRecord struct {
	ID             string       `json:"id"`
	ProductID      string       `json:"product_id"`
	QuantityChange int          `json:"quantity_change"`
	Reason         ChangeReason `json:"reason"`
	Reference      string       `json:"reference"`
	PerformedBy    string       `json:"performed_by"`
	CreatedAt      time.Time    `json:"created_at"`
}
