package external

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storekit/commerce-core/internal/core/domain"
)

func TestStubGateway(t *testing.T) {
	gateway := NewStubGateway()
	ctx := context.Background()

	result, err := gateway.Capture(ctx, "order-1", "card", 42.00)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.TransactionID, "card-")

	result, err = gateway.Capture(ctx, "order-2", "card", 0)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Reason)
}

type failingGateway struct{}

func (failingGateway) Capture(context.Context, string, string, float64) (*domain.PaymentResult, error) {
	return nil, errors.New("processor unreachable")
}

func TestBreakerGateway_OpensAfterConsecutiveFailures(t *testing.T) {
	gateway := NewBreakerGateway(failingGateway{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := gateway.Capture(ctx, "order-1", "card", 10.00)
		require.Error(t, err)
	}

	// The breaker is open now; calls fail without reaching the processor.
	_, err := gateway.Capture(ctx, "order-1", "card", 10.00)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "processor unreachable")
}

func TestBreakerGateway_PassesThroughSuccess(t *testing.T) {
	gateway := NewBreakerGateway(NewStubGateway())

	result, err := gateway.Capture(context.Background(), "order-1", "card", 10.00)
	require.NoError(t, err)
	assert.True(t, result.Success)
}
