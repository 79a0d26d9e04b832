package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storekit/commerce-core/internal/core/domain"
	"github.com/storekit/commerce-core/internal/port"
)

// sideEffectTimeout bounds each dispatched gateway or notifier call.
const sideEffectTimeout = 5 * time.Second

type taskKind int

const (
	taskCapturePayment taskKind = iota
	taskNotifyConfirmation
	taskNotifyStatus
	taskNotifyShipping
	taskNotifyPaymentFailed
	taskRestock
)

// maxRestockAttempts bounds retries of a cancellation restock that keeps
// failing; after that the item needs manual reconciliation.
const maxRestockAttempts = 5

type sideEffect struct {
	kind     taskKind
	order    domain.Order
	reason   string
	item     domain.OrderItem
	attempts int
}

// OrderService drives the order state machine. Checkout reserves stock all
// or nothing, converts the holds into firm decrements once the order is
// durably created, and hands payment capture and notifications to a worker
// pool so no external latency extends the time inventory state is touched.
type OrderService struct {
	orders   port.OrderRepository
	carts    *CartService
	ledger   *Ledger
	catalog  port.ProductCatalog
	gateway  port.PaymentGateway
	notifier port.Notifier
	idem     port.IdempotencyStore
	tasks    chan sideEffect
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
}

func NewOrderService(
	orders port.OrderRepository,
	carts *CartService,
	ledger *Ledger,
	catalog port.ProductCatalog,
	gateway port.PaymentGateway,
	notifier port.Notifier,
	idem port.IdempotencyStore,
	queueSize int,
	logger *zap.Logger,
) *OrderService {
	return &OrderService{
		orders:   orders,
		carts:    carts,
		ledger:   ledger,
		catalog:  catalog,
		gateway:  gateway,
		notifier: notifier,
		idem:     idem,
		tasks:    make(chan sideEffect, queueSize),
		logger:   logger,
	}
}

// CreateOrderFromCart converts a validated cart into a pending order.
// Reservation is all-or-nothing: if any line fails, every hold taken in
// this call is released before the error returns. Unit prices are
// snapshotted from the catalog so later price changes never touch the
// order. Side effects are queued, never awaited.
func (s *OrderService) CreateOrderFromCart(ctx context.Context, userID, requestKey string, shipping domain.ShippingInfo, paymentMethod string) (*domain.Order, error) {
	if requestKey != "" {
		ok, err := s.idem.SetIfAbsent(ctx, fmt.Sprintf("checkout:%s:%s", userID, requestKey))
		if err != nil {
			return nil, fmt.Errorf("idempotency check: %w", err)
		}
		if !ok {
			return nil, ErrDuplicateCheckout
		}
	}

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, ErrEmptyCart
	}

	problems, err := s.carts.Validate(ctx, cart)
	if err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		return nil, &CartValidationError{Problems: problems}
	}

	reserved := make([]domain.CartItem, 0, len(cart.Items))
	releaseAll := func() {
		for _, item := range reserved {
			if relErr := s.ledger.Release(ctx, item.ProductID, item.Quantity, "checkout-rollback"); relErr != nil {
				s.logger.Error("release after failed checkout",
					zap.String("product_id", item.ProductID),
					zap.Int("quantity", item.Quantity),
					zap.Error(relErr))
			}
		}
	}

	for _, item := range cart.Items {
		ok, resErr := s.ledger.Reserve(ctx, item.ProductID, item.Quantity)
		if resErr != nil {
			releaseAll()
			return nil, fmt.Errorf("reserve %s: %w", item.ProductID, resErr)
		}
		if !ok {
			releaseAll()
			return nil, ErrInsufficientStock
		}
		reserved = append(reserved, item)
	}

	items := make([]domain.OrderItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		product, prodErr := s.catalog.GetProduct(ctx, item.ProductID)
		if prodErr != nil {
			releaseAll()
			return nil, fmt.Errorf("snapshot price for %s: %w", item.ProductID, prodErr)
		}
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
		})
	}

	now := time.Now()
	order := &domain.Order{
		ID:       uuid.New().String(),
		UserID:   userID,
		Items:    items,
		Shipping: shipping,
		Payment: domain.PaymentInfo{
			Method: paymentMethod,
			Status: domain.PaymentStatusPending,
		},
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	order.Total = order.ComputeTotal()

	if err := s.orders.Create(ctx, order); err != nil {
		releaseAll()
		return nil, fmt.Errorf("create order: %w", err)
	}

	if err := s.carts.Clear(ctx, userID); err != nil {
		s.logger.Warn("clear cart after checkout", zap.String("user_id", userID), zap.Error(err))
	}

	// The order is durable, turn each hold into a committed decrement. A
	// commit that still fails after retries leaves the hold, so drop it and
	// flag the order for reconciliation.
	for _, item := range order.Items {
		if err := s.ledger.Commit(ctx, item.ProductID, item.Quantity, order.ID, userID); err != nil {
			s.logger.Error("CRITICAL: commit reservation failed",
				zap.String("order_id", order.ID),
				zap.String("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
				zap.Error(err))
			if relErr := s.ledger.Release(ctx, item.ProductID, item.Quantity, order.ID); relErr != nil {
				s.logger.Error("CRITICAL: release after failed commit",
					zap.String("order_id", order.ID),
					zap.String("product_id", item.ProductID),
					zap.Error(relErr))
			}
		}
	}

	s.enqueue(sideEffect{kind: taskCapturePayment, order: *order})
	s.enqueue(sideEffect{kind: taskNotifyConfirmation, order: *order})

	return order, nil
}

// Get returns an order, enforcing ownership.
func (s *OrderService) Get(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrNotOrderOwner
	}
	return order, nil
}

// UpdateStatus moves an order forward through the state machine. Cancelled
// is not reachable here; cancellation compensates inventory and goes
// through CancelOrder.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, next domain.OrderStatus) (*domain.Order, error) {
	if !next.IsValid() || next == domain.OrderStatusCancelled {
		return nil, ErrInvalidTransition
	}

	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%s -> %s: %w", order.Status, next, ErrInvalidTransition)
	}

	prev := order.Status
	order.Status = next
	order.UpdatedAt = time.Now()

	if err := s.orders.Update(ctx, order, prev); err != nil {
		if errors.Is(err, port.ErrVersionConflict) {
			return nil, fmt.Errorf("%s -> %s lost to concurrent transition: %w", prev, next, ErrInvalidTransition)
		}
		return nil, fmt.Errorf("update order: %w", err)
	}

	if next == domain.OrderStatusShipped {
		s.enqueue(sideEffect{kind: taskNotifyShipping, order: *order})
	} else {
		s.enqueue(sideEffect{kind: taskNotifyStatus, order: *order})
	}
	return order, nil
}

// CancelOrder cancels an order still in pending or paid and restores the
// committed stock for every line item. The conditional status write claims
// the cancellation first, so of two racing cancels exactly one runs the
// compensation; the loser gets ErrInvalidTransition and stock is never
// restored twice. A restock that fails is retried through the worker pool.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrNotOrderOwner
	}
	if !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
		return nil, fmt.Errorf("%s -> cancelled: %w", order.Status, ErrInvalidTransition)
	}

	prev := order.Status
	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = time.Now()

	if err := s.orders.Update(ctx, order, prev); err != nil {
		if errors.Is(err, port.ErrVersionConflict) {
			return nil, fmt.Errorf("%s -> cancelled lost to concurrent transition: %w", prev, ErrInvalidTransition)
		}
		return nil, fmt.Errorf("update order: %w", err)
	}

	for _, item := range order.Items {
		if _, adjErr := s.ledger.Adjust(ctx, item.ProductID, item.Quantity, domain.ReasonReturn, order.ID, userID); adjErr != nil {
			s.logger.Error("restock on cancellation failed, queueing retry",
				zap.String("order_id", order.ID),
				zap.String("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
				zap.Error(adjErr))
			s.enqueue(sideEffect{kind: taskRestock, order: *order, item: item})
		}
	}

	s.enqueue(sideEffect{kind: taskNotifyStatus, order: *order})
	return order, nil
}

// ProcessPayment applies a capture result. Success moves pending to paid.
// Failure marks the payment failed and leaves the order pending with a
// reconciliation event published; inventory committed at checkout stays
// committed until that flow resolves it.
func (s *OrderService) ProcessPayment(ctx context.Context, orderID string, result domain.PaymentResult) (*domain.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPending {
		return nil, fmt.Errorf("payment for %s order: %w", order.Status, ErrInvalidTransition)
	}

	if result.Success {
		order.Status = domain.OrderStatusPaid
		order.Payment.Status = domain.PaymentStatusCaptured
		order.Payment.TransactionID = result.TransactionID
	} else {
		order.Payment.Status = domain.PaymentStatusFailed
	}
	order.UpdatedAt = time.Now()

	if err := s.orders.Update(ctx, order, domain.OrderStatusPending); err != nil {
		if errors.Is(err, port.ErrVersionConflict) {
			return nil, fmt.Errorf("payment result lost to concurrent transition: %w", ErrInvalidTransition)
		}
		return nil, fmt.Errorf("update order: %w", err)
	}

	if result.Success {
		s.enqueue(sideEffect{kind: taskNotifyStatus, order: *order})
	} else {
		s.enqueue(sideEffect{kind: taskNotifyPaymentFailed, order: *order, reason: result.Reason})
	}
	return order, nil
}

// enqueue hands a task to the worker pool without ever blocking the
// calling request. A full or already-closed queue drops the task with a
// warning; every task is a retriable side effect, not state the core
// depends on. Workers themselves enqueue follow-up notifications, so the
// closed check has to be here rather than in the callers.
func (s *OrderService) enqueue(task sideEffect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Warn("side-effect queue closed, dropping task",
			zap.Int("kind", int(task.kind)),
			zap.String("order_id", task.order.ID))
		return
	}
	select {
	case s.tasks <- task:
	default:
		s.logger.Warn("side-effect queue full, dropping task",
			zap.Int("kind", int(task.kind)),
			zap.String("order_id", task.order.ID))
	}
}

// Worker consumes side-effect tasks until the queue is closed. Run one or
// more in their own goroutines; main joins them on shutdown.
func (s *OrderService) Worker(id int) {
	for task := range s.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		s.handleTask(ctx, id, task)
		cancel()
	}
}

func (s *OrderService) handleTask(ctx context.Context, workerID int, task sideEffect) {
	switch task.kind {
	case taskCapturePayment:
		result, err := s.gateway.Capture(ctx, task.order.ID, task.order.Payment.Method, task.order.Total)
		if err != nil {
			s.logger.Error("payment capture failed",
				zap.Int("worker", workerID),
				zap.String("order_id", task.order.ID),
				zap.Error(err))
			result = &domain.PaymentResult{Success: false, Reason: err.Error()}
		}
		if _, err := s.ProcessPayment(ctx, task.order.ID, *result); err != nil && !errors.Is(err, ErrInvalidTransition) {
			s.logger.Error("apply payment result",
				zap.Int("worker", workerID),
				zap.String("order_id", task.order.ID),
				zap.Error(err))
		}
	case taskNotifyConfirmation:
		s.logNotifyErr(workerID, task.order.ID, s.notifier.SendOrderConfirmation(ctx, &task.order))
	case taskNotifyStatus:
		s.logNotifyErr(workerID, task.order.ID, s.notifier.SendStatusUpdate(ctx, &task.order))
	case taskNotifyShipping:
		s.logNotifyErr(workerID, task.order.ID, s.notifier.SendShippingConfirmation(ctx, &task.order))
	case taskNotifyPaymentFailed:
		s.logNotifyErr(workerID, task.order.ID, s.notifier.SendPaymentFailed(ctx, &task.order, task.reason))
	case taskRestock:
		_, err := s.ledger.Adjust(ctx, task.item.ProductID, task.item.Quantity, domain.ReasonReturn, task.order.ID, task.order.UserID)
		if err == nil {
			return
		}
		if task.attempts+1 >= maxRestockAttempts {
			s.logger.Error("CRITICAL: restock retries exhausted, manual reconciliation needed",
				zap.Int("worker", workerID),
				zap.String("order_id", task.order.ID),
				zap.String("product_id", task.item.ProductID),
				zap.Int("quantity", task.item.Quantity),
				zap.Error(err))
			return
		}
		task.attempts++
		s.enqueue(task)
	}
}

func (s *OrderService) logNotifyErr(workerID int, orderID string, err error) {
	if err != nil {
		s.logger.Error("notification failed",
			zap.Int("worker", workerID),
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}

// Close stops accepting side-effect tasks and lets workers drain.
func (s *OrderService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.tasks)
}

func (s *OrderService) load(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}
