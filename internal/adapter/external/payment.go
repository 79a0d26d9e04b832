package external

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/storekit/commerce-core/internal/core/domain"
	"github.com/storekit/commerce-core/internal/port"
)

// StubGateway approves every capture with a generated transaction id. It
// stands in for the real processor integration, which lives outside this
// core.
type StubGateway struct{}

func NewStubGateway() *StubGateway {
	return &StubGateway{}
}

func (g *StubGateway) Capture(_ context.Context, orderID, method string, amount float64) (*domain.PaymentResult, error) {
	if amount <= 0 {
		return &domain.PaymentResult{
			Success: false,
			Reason:  fmt.Sprintf("invalid amount %.2f for order %s", amount, orderID),
		}, nil
	}
	return &domain.PaymentResult{
		Success:       true,
		TransactionID: fmt.Sprintf("%s-%s", method, uuid.New().String()),
	}, nil
}

// BreakerGateway wraps a payment gateway in a circuit breaker so a
// degraded processor fails fast instead of tying up dispatcher workers.
type BreakerGateway struct {
	inner   port.PaymentGateway
	breaker *gobreaker.CircuitBreaker[*domain.PaymentResult]
}

func NewBreakerGateway(inner port.PaymentGateway) *BreakerGateway {
	settings := gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &BreakerGateway{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[*domain.PaymentResult](settings),
	}
}

func (g *BreakerGateway) Capture(ctx context.Context, orderID, method string, amount float64) (*domain.PaymentResult, error) {
	result, err := g.breaker.Execute(func() (*domain.PaymentResult, error) {
		return g.inner.Capture(ctx, orderID, method, amount)
	})
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", orderID, err)
	}
	return result, nil
}
