package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func noop(context.Context) error { return nil }

func TestAddRegistersAndSkipsEmptySpecs(t *testing.T) {
	t.Parallel()

	s := New(nil)
	require.NoError(t, s.Add("crawl", "*/30 * * * *", noop))
	require.NoError(t, s.Add("parse", "", noop))
	require.NoError(t, s.Add("reconcile", "@hourly", noop))

	assert.ElementsMatch(t, []string{"crawl", "reconcile"}, s.Jobs())
}

func TestAddRejectsBadSpec(t *testing.T) {
	t.Parallel()

	s := New(zap.NewNop())
	err := s.Add("crawl", "every minute", noop)
	require.ErrorContains(t, err, "parse schedule for crawl")
	assert.Empty(t, s.Jobs())
}

func TestWrapLogsFailures(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	s := New(zap.New(core))

	s.wrap("parse", func(context.Context) error { return errors.New("db down") })()
	s.wrap("parse", noop)()

	failed := logs.FilterMessage("scheduled job failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "parse", failed[0].ContextMap()["job"])
	assert.Len(t, logs.FilterMessage("scheduled job finished").All(), 1)
}

func TestStartRunsJobsAndStopCancelsContext(t *testing.T) {
	t.Parallel()

	s := New(nil)
	var runs atomic.Int32
	canceled := make(chan struct{})
	require.NoError(t, s.Add("tick", "@every 1s", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			go func() {
				<-ctx.Done()
				close(canceled)
			}()
		}
		return nil
	}))

	s.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("job context was not canceled on stop")
	}
}
