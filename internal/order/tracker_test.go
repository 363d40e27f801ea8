package order

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedFetcher returns one scripted response per call, repeating the last
// one when the script runs out.
type scriptedFetcher struct {
	mu     sync.Mutex
	script []scriptedResponse
	calls  int
}

type scriptedResponse struct {
	status domain.OrderStatus
	err    error
}

func (f *scriptedFetcher) GetOrderStatus(_ context.Context, _ domain.Contract, _ string) (domain.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	f.calls++
	r := f.script[idx]
	return r.status, r.err
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var testContract = domain.Contract{Symbol: "XBTUSD", Exchange: "bitmex"}

func TestAwaitReturnsOnFill(t *testing.T) {
	fetcher := &scriptedFetcher{script: []scriptedResponse{
		{status: domain.OrderStatus{OrderID: "a", State: domain.OrderStateNew}},
		{status: domain.OrderStatus{OrderID: "a", State: domain.OrderStatePartiallyFilled}},
		{status: domain.OrderStatus{OrderID: "a", State: domain.OrderStateFilled, AvgPrice: 50001}},
	}}
	tracker := NewTracker(fetcher, time.Millisecond, 100, testLogger())

	status, err := tracker.Await(context.Background(), testContract, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStateFilled, status.State)
	assert.Equal(t, 50001.0, status.AvgPrice)
	assert.Equal(t, 3, fetcher.callCount())
}

func TestAwaitReturnsCanceledWithoutError(t *testing.T) {
	fetcher := &scriptedFetcher{script: []scriptedResponse{
		{status: domain.OrderStatus{OrderID: "a", State: domain.OrderStateNew}},
		{status: domain.OrderStatus{OrderID: "a", State: domain.OrderStateCanceled}},
	}}
	tracker := NewTracker(fetcher, time.Millisecond, 100, testLogger())

	status, err := tracker.Await(context.Background(), testContract, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStateCanceled, status.State)
}

func TestAwaitRetriesThroughTransientFailures(t *testing.T) {
	fetcher := &scriptedFetcher{script: []scriptedResponse{
		{err: domain.ErrOrderNotFound},
		{err: domain.ErrNoResult},
		{status: domain.OrderStatus{OrderID: "a", State: domain.OrderStateFilled}},
	}}
	tracker := NewTracker(fetcher, time.Millisecond, 100, testLogger())

	status, err := tracker.Await(context.Background(), testContract, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStateFilled, status.State)
	assert.Equal(t, 3, fetcher.callCount())
}

func TestAwaitExhaustsAttemptBudget(t *testing.T) {
	fetcher := &scriptedFetcher{script: []scriptedResponse{
		{status: domain.OrderStatus{OrderID: "a", State: domain.OrderStateNew}},
	}}
	tracker := NewTracker(fetcher, time.Millisecond, 5, testLogger())

	status, err := tracker.Await(context.Background(), testContract, "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, domain.OrderStateNew, status.State)
	assert.Equal(t, 5, fetcher.callCount())
}

func TestAwaitStopsOnContextCancel(t *testing.T) {
	fetcher := &scriptedFetcher{script: []scriptedResponse{
		{status: domain.OrderStatus{OrderID: "a", State: domain.OrderStateNew}},
	}}
	tracker := NewTracker(fetcher, time.Hour, 100, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := tracker.Await(ctx, testContract, "a")
	assert.ErrorIs(t, err, context.Canceled)
}
