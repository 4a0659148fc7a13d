package sweeper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/craftlane/craftlane/internal/config"
	escrowdomain "github.com/craftlane/craftlane/internal/escrow/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubEscrow struct {
	escrowdomain.Service

	calls     atomic.Int64
	batchSize atomic.Int64
}

func (s *stubEscrow) ExpireOverdueHolds(ctx context.Context, batchSize int) (int, error) {
	s.calls.Add(1)
	s.batchSize.Store(int64(batchSize))
	return 0, nil
}

func TestRunOnce_PassesBatchSize(t *testing.T) {
	stub := &stubEscrow{}
	s := New(Params{
		Log: zap.NewNop(),
		Cfg: config.Config{Sweep: config.SweepConfig{
			Interval:  time.Minute,
			BatchSize: 25,
		}},
		EscrowSvc: stub,
	})

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stub.calls.Load())
	assert.Equal(t, int64(25), stub.batchSize.Load())
}

func TestRunForever_StopsOnCancel(t *testing.T) {
	stub := &stubEscrow{}
	s := New(Params{
		Log: zap.NewNop(),
		Cfg: config.Config{Sweep: config.SweepConfig{
			Interval:  5 * time.Millisecond,
			BatchSize: 10,
		}},
		EscrowSvc: stub,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunForever(ctx)
		close(done)
	}()

	// One pass runs immediately, more follow on the ticker.
	assert.Eventually(t, func() bool {
		return stub.calls.Load() >= 2
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
