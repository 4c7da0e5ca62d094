package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSchedulerRunsJobsUntilCancelled(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	var sweeps, checkpoints atomic.Int32

	s := NewScheduler(zap.New(core),
		Job{Name: "sweep", Every: time.Second, Run: func(context.Context) error {
			sweeps.Add(1)
			return nil
		}},
		Job{Name: "checkpoint", Every: time.Second, Run: func(context.Context) error {
			checkpoints.Add(1)
			return errors.New("db down")
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sweeps.Load() > 0 && checkpoints.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	assert.Equal(t, 2, logs.FilterMessage("Scheduled job").Len())
	assert.GreaterOrEqual(t, logs.FilterMessage("❌ Scheduled job failed").Len(), 1)
}

func TestSchedulerRejectsBadInterval(t *testing.T) {
	s := NewScheduler(zap.NewNop(), Job{Name: "broken", Every: -time.Second, Run: func(context.Context) error { return nil }})
	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule broken")
}
