package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/multibroker/errs"
)

func TestPoolSubmitAndShutdown(t *testing.T) {
	pool, err := NewPool(2, 4)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var count atomic.Int32
	for i := 0; i < 4; i++ {
		require.NoError(t, pool.Submit(ctx, func(context.Context) error {
			count.Add(1)
			return nil
		}))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	require.NoError(t, pool.Shutdown(shutdownCtx))
	require.Equal(t, int32(4), count.Load())
}

func TestPoolSubmitCancelledContext(t *testing.T) {
	pool, err := NewPool(1, 0)
	require.NoError(t, err)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = pool.Submit(ctx, func(context.Context) error { return nil })
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestPoolRejectsWhenSaturatedAndAfterClose(t *testing.T) {
	pool, err := NewPool(1, 0)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.SubmitWait(context.Background(), func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	err = pool.Submit(context.Background(), func(context.Context) error { return nil })
	require.True(t, errs.Is(err, errs.CodeUnavailable))

	close(release)
	require.NoError(t, pool.Shutdown(context.Background()))

	err = pool.Submit(context.Background(), func(context.Context) error { return nil })
	require.True(t, errs.Is(err, errs.CodeUnavailable))
}

func TestPoolReportsErrorsAndPanics(t *testing.T) {
	var mu sync.Mutex
	var seen []error
	pool, err := NewPool(2, 2, WithErrorHandler(func(err error) {
		mu.Lock()
		seen = append(seen, err)
		mu.Unlock()
	}))
	require.NoError(t, err)

	boom := errors.New("boom")
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error { return boom }))
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error { panic("kaboom") }))
	require.NoError(t, pool.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
}

func TestNewPoolRejectsZeroWorkers(t *testing.T) {
	_, err := NewPool(0, 1)
	require.True(t, errs.Is(err, errs.CodeInvalid))
}
