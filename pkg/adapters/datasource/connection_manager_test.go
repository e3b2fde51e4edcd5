package datasource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/retry"
)

type fakeConnector struct {
	pingErr atomic.Value // error
	closed  atomic.Bool
	pings   atomic.Int32
}

func (f *fakeConnector) Ping(ctx context.Context) error {
	f.pings.Add(1)
	if err, ok := f.pingErr.Load().(error); ok && err != nil {
		return err
	}
	return nil
}

func (f *fakeConnector) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeConnector) GetType() string { return "fake" }

type permanentError struct{ msg string }

func (e permanentError) Error() string     { return e.msg }
func (e permanentError) IsRetryable() bool { return false }

func newTestManager(t *testing.T, cfg ConnectionManagerConfig) *ConnectionManager {
	t.Helper()
	cm := NewConnectionManager(cfg, zaptest.NewLogger(t))
	cm.retryConfig = &retry.Config{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	t.Cleanup(func() { _ = cm.Close() })
	return cm
}

func countingOpen(opened *atomic.Int32, conn *fakeConnector) OpenFunc {
	return func(ctx context.Context) (PoolConnector, error) {
		opened.Add(1)
		return conn, nil
	}
}

func TestConnectionManager_ReusesHealthyConnection(t *testing.T) {
	cm := newTestManager(t, ConnectionManagerConfig{})
	conn := &fakeConnector{}
	var opened atomic.Int32

	c1, err := cm.GetOrCreateConnection(context.Background(), "conn-1", countingOpen(&opened, conn))
	require.NoError(t, err)
	c2, err := cm.GetOrCreateConnection(context.Background(), "conn-1", countingOpen(&opened, conn))
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, int32(1), opened.Load())
	stats := cm.GetStats()
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 1, stats.ConnectionsByType["fake"])
}

func TestConnectionManager_RecreatesUnhealthyConnection(t *testing.T) {
	cm := newTestManager(t, ConnectionManagerConfig{})
	first := &fakeConnector{}
	second := &fakeConnector{}
	var opened atomic.Int32

	_, err := cm.GetOrCreateConnection(context.Background(), "conn-1", countingOpen(&opened, first))
	require.NoError(t, err)

	first.pingErr.Store(errors.New("connection reset by peer"))
	c, err := cm.GetOrCreateConnection(context.Background(), "conn-1", countingOpen(&opened, second))
	require.NoError(t, err)

	assert.Same(t, second, c)
	assert.True(t, first.closed.Load())
	assert.Equal(t, int32(2), opened.Load())
}

func TestConnectionManager_DoesNotRetryAuthFailures(t *testing.T) {
	cm := newTestManager(t, ConnectionManagerConfig{})
	var attempts atomic.Int32

	_, err := cm.GetOrCreateConnection(context.Background(), "conn-1", func(ctx context.Context) (PoolConnector, error) {
		attempts.Add(1)
		return nil, permanentError{"password authentication failed for user \"app\""}
	})

	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, 0, cm.GetStats().TotalConnections)
}

func TestConnectionManager_EnforcesLimit(t *testing.T) {
	cm := newTestManager(t, ConnectionManagerConfig{MaxConnections: 1})
	var opened atomic.Int32

	_, err := cm.GetOrCreateConnection(context.Background(), "a", countingOpen(&opened, &fakeConnector{}))
	require.NoError(t, err)

	_, err = cm.GetOrCreateConnection(context.Background(), "b", countingOpen(&opened, &fakeConnector{}))
	assert.True(t, errors.Is(err, apperrors.ErrConnectionLimitReached))

	cm.Remove("a")
	_, err = cm.GetOrCreateConnection(context.Background(), "b", countingOpen(&opened, &fakeConnector{}))
	assert.NoError(t, err)
}

func TestConnectionManager_CleanupExpiresIdleConnections(t *testing.T) {
	cm := newTestManager(t, ConnectionManagerConfig{TTLMinutes: 1})
	now := time.Now()
	var mu sync.Mutex
	cm.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	conn := &fakeConnector{}
	var opened atomic.Int32

	_, err := cm.GetOrCreateConnection(context.Background(), "conn-1", countingOpen(&opened, conn))
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	cm.performCleanup()

	assert.True(t, conn.closed.Load())
	assert.Equal(t, 0, cm.GetStats().TotalConnections)

	// The next use reopens transparently.
	_, err = cm.GetOrCreateConnection(context.Background(), "conn-1", countingOpen(&opened, &fakeConnector{}))
	require.NoError(t, err)
	assert.Equal(t, int32(2), opened.Load())
}

func TestConnectionManager_ConcurrentCreateOpensOnce(t *testing.T) {
	cm := newTestManager(t, ConnectionManagerConfig{})
	conn := &fakeConnector{}
	var opened atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cm.GetOrCreateConnection(context.Background(), "shared", countingOpen(&opened, conn))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), opened.Load())
}

func TestConnectionManager_CloseIsIdempotent(t *testing.T) {
	cm := NewConnectionManager(ConnectionManagerConfig{}, zaptest.NewLogger(t))
	conn := &fakeConnector{}
	var opened atomic.Int32
	_, err := cm.GetOrCreateConnection(context.Background(), "conn-1", countingOpen(&opened, conn))
	require.NoError(t, err)

	require.NoError(t, cm.Close())
	require.NoError(t, cm.Close())
	assert.True(t, conn.closed.Load())

	_, err = cm.GetOrCreateConnection(context.Background(), "conn-2", countingOpen(&opened, &fakeConnector{}))
	assert.Error(t, err)
}
