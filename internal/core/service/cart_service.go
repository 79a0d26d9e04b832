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

// CartService owns per-user shopping carts. Carts are optimistic by design:
// adding an item checks availability but reserves nothing, so abandoned
// carts never hold stock hostage. The compensating control is Validate,
// which re-checks every line against live stock at checkout time.
type CartService struct {
	carts  port.CartRepository
	ledger *Ledger
	logger *zap.Logger
}

func NewCartService(carts port.CartRepository, ledger *Ledger, logger *zap.Logger) *CartService {
	return &CartService{
		carts:  carts,
		ledger: ledger,
		logger: logger,
	}
}

// Get returns the user's cart; users without one get an empty cart.
func (s *CartService) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.carts.Get(ctx, userID)
	if errors.Is(err, port.ErrNotFound) {
		return &domain.Cart{UserID: userID, UpdatedAt: time.Now()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return cart, nil
}

// AddItem merges quantity into the cart after a read-only availability
// check against the total the cart would then hold.
func (s *CartService) AddItem(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	cart, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	desired := cart.Quantity(productID) + quantity
	available, err := s.ledger.Available(ctx, productID)
	if err != nil {
		return nil, err
	}
	if desired > available {
		return nil, ErrInsufficientStock
	}

	cart.Add(productID, quantity)
	cart.UpdatedAt = time.Now()

	if err := s.carts.Save(ctx, cart); err != nil {
		return nil, fmt.Errorf("save cart: %w", err)
	}
	return cart, nil
}

// UpdateItemQuantity sets a line item's quantity; zero removes the line.
// Non-zero quantities are re-validated against availability.
func (s *CartService) UpdateItemQuantity(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error) {
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}

	cart, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if quantity > 0 {
		available, err := s.ledger.Available(ctx, productID)
		if err != nil {
			return nil, err
		}
		if quantity > available {
			return nil, ErrInsufficientStock
		}
	}

	cart.SetQuantity(productID, quantity)
	cart.UpdatedAt = time.Now()

	if err := s.carts.Save(ctx, cart); err != nil {
		return nil, fmt.Errorf("save cart: %w", err)
	}
	return cart, nil
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) (*domain.Cart, error) {
	cart, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	cart.Remove(productID)
	cart.UpdatedAt = time.Now()

	if err := s.carts.Save(ctx, cart); err != nil {
		return nil, fmt.Errorf("save cart: %w", err)
	}
	return cart, nil
}

func (s *CartService) Clear(ctx context.Context, userID string) error {
	if err := s.carts.Delete(ctx, userID); err != nil && !errors.Is(err, port.ErrNotFound) {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

// Validate re-checks every line item against current available stock. Stock
// may have moved since items were added, so this runs synchronously as the
// first step of order creation. An empty result means the cart is valid.
func (s *CartService) Validate(ctx context.Context, cart *domain.Cart) ([]CartProblem, error) {
	problems := make([]CartProblem, 0)
	for _, item := range cart.Items {
		available, err := s.ledger.Available(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if item.Quantity > available {
			problems = append(problems, CartProblem{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: available,
			})
		}
	}
	return problems, nil
}
