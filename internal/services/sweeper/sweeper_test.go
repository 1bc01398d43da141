package sweeper

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type ledgerStub struct {
	expiredCalls       atomic.Int64
	subscriptionsCalls atomic.Int64
}

func (l *ledgerStub) SweepExpired(_ context.Context, _ time.Time) error {
	l.expiredCalls.Add(1)
	return nil
}

func (l *ledgerStub) SweepSubscriptions(_ context.Context, _ time.Time) error {
	l.subscriptionsCalls.Add(1)
	return nil
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestSweeperService_RunsImmediatelyAndOnTicker(t *testing.T) {
	ledger := &ledgerStub{}
	service := NewSweeperService(ledger, newNoopLogger(), 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 70*time.Millisecond)
	defer cancel()

	service.Run(ctx)

	// Немедленный проход плюс несколько тикерных.
	assert.GreaterOrEqual(t, ledger.expiredCalls.Load(), int64(2))
	assert.Equal(t, ledger.expiredCalls.Load(), ledger.subscriptionsCalls.Load())
}

func TestSweeperService_StopsOnContextCancel(t *testing.T) {
	ledger := &ledgerStub{}
	service := NewSweeperService(ledger, newNoopLogger(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		service.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
	assert.Equal(t, int64(1), ledger.expiredCalls.Load())
}
