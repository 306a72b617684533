package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roundstep/roundstep/libs/log"
)

type testService struct {
	BaseService
	started chan struct{}
}

func newTestService() *testService {
	ts := &testService{
		started: make(chan struct{}, 1),
	}
	ts.BaseService = *NewBaseService(log.NewNopLogger(), "TestService", ts)
	return ts
}

func (ts *testService) OnStart(ctx context.Context) error {
	ts.started <- struct{}{}
	return nil
}

func (ts *testService) OnStop() {}

func TestBaseServiceWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestService()
	err := ts.Start(ctx)
	require.NoError(t, err)
	<-ts.started

	waitFinished := make(chan struct{})
	go func() {
		ts.Wait()
		waitFinished <- struct{}{}
	}()

	go ts.Stop() //nolint:errcheck // ignore for tests

	select {
	case <-waitFinished:
		// all good
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected Wait() to finish within 100 ms.")
	}
}

func TestBaseServiceStartTwice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestService()
	require.NoError(t, ts.Start(ctx))
	<-ts.started
	require.True(t, ts.IsRunning())

	require.ErrorIs(t, ts.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, ts.Stop())
	require.False(t, ts.IsRunning())
	require.ErrorIs(t, ts.Stop(), ErrAlreadyStopped)
}

func TestBaseServiceStopWithoutStart(t *testing.T) {
	ts := newTestService()
	require.ErrorIs(t, ts.Stop(), ErrNotStarted)
}

func TestBaseServiceContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ts := newTestService()
	require.NoError(t, ts.Start(ctx))
	<-ts.started

	cancel()

	waitFinished := make(chan struct{})
	go func() {
		ts.Wait()
		close(waitFinished)
	}()

	select {
	case <-waitFinished:
		require.False(t, ts.IsRunning())
	case <-time.After(time.Second):
		t.Fatal("expected context cancellation to stop the service")
	}
}
