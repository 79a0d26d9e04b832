package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrEmptyCart         = errors.New("cart is empty, nothing to checkout")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProductNotFound   = errors.New("product not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrNotOrderOwner     = errors.New("order belongs to another user")
	ErrInvalidTransition = errors.New("illegal order status transition")
	ErrDuplicateCheckout = errors.New("duplicate checkout request")
)

// CartProblem describes one line item that no longer fits available stock.
type CartProblem struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// CartValidationError carries every line-item problem found by the
// pre-checkout re-validation gate.
type CartValidationError struct {
	Problems []CartProblem
}

func (e *CartValidationError) Error() string {
	return fmt.Sprintf("cart validation failed for %d item(s)", len(e.Problems))
}
