package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var _ suture.Service = (*RunnerService)(nil)

type flakyRunner struct {
	runs     atomic.Int32
	failures int32
}

func (r *flakyRunner) Run(ctx context.Context) error {
	if r.runs.Add(1) <= r.failures {
		return errors.New("store unavailable")
	}
	<-ctx.Done()
	return ctx.Err()
}

func fastConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 10,
		FailureDecay:     1,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	}
}

func TestRunnerService_StopsOnCancel(t *testing.T) {
	svc := NewRunnerService("engine", &flakyRunner{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}
	assert.Equal(t, "engine", svc.String())
}

func TestRunnerService_WrapsFailure(t *testing.T) {
	svc := NewRunnerService("poller", &flakyRunner{failures: 1})

	err := svc.Serve(context.Background())
	assert.ErrorContains(t, err, "poller failed: store unavailable")
}

func TestTree_RestartsFailedService(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	tree := NewTree(fastConfig(), zap.New(core))

	runner := &flakyRunner{failures: 2}
	tree.AddSyncService(NewRunnerService("engine", runner))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool { return runner.runs.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}

	assert.GreaterOrEqual(t, logs.FilterMessage("Supervised service terminated").Len(), 2)
}

func TestTree_ServesAPILayer(t *testing.T) {
	tree := NewTree(TreeConfig{}, zap.NewNop())

	runner := &flakyRunner{}
	tree.AddAPIService(NewRunnerService("local-api", runner))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool { return runner.runs.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	<-errCh
}
