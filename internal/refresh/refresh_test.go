package refresh

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	appLog "confsched/internal/log"
)

func TestMain(m *testing.M) {
	appLog.SetLogger(zap.NewNop())
	goleak.VerifyTestMain(m)
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New("every now and then", time.UTC, func(context.Context) error { return nil })
	assert.Error(t, err)

	_, err = New("*/5 * * * *", time.UTC, nil)
	assert.Error(t, err)
}

func TestRunOnceRecordsStatus(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	s, err := New("@every 1h", time.UTC, func(context.Context) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.ErrorIs(t, s.RunOnce(context.Background()), boom)

	st := s.Status()
	assert.Equal(t, 2, st.Runs)
	assert.ErrorIs(t, st.LastErr, boom)
	assert.False(t, st.Running)
	assert.False(t, st.LastRun.IsZero())
}

func TestRunOnceSkipsOverlap(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	s, err := New("@every 1h", time.UTC, func(context.Context) error {
		close(entered)
		<-release
		return nil
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.RunOnce(context.Background()) }()
	<-entered

	assert.True(t, s.Status().Running)
	assert.ErrorIs(t, s.RunOnce(context.Background()), ErrBusy)

	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, 1, s.Status().Runs)
}

func TestStartRunsUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	s, err := New("@every 1s", time.UTC, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 5*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
