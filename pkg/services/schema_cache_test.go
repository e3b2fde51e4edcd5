package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// gatedLoader blocks until gate closes, then returns schema or err.
func gatedLoader(gate <-chan struct{}, calls *atomic.Int32, schema *models.SchemaModel, err error) schemaLoader {
	return func(ctx context.Context) (*models.SchemaModel, error) {
		calls.Add(1)
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return schema, err
	}
}

func TestSchemaCache_FirstCallerLeavingDoesNotFailWaiters(t *testing.T) {
	var c schemaCache
	var calls atomic.Int32
	gate := make(chan struct{})
	want := usersSchema()
	load := gatedLoader(gate, &calls, want, nil)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leader := make(chan error, 1)
	go func() {
		_, _, err := c.Get(leaderCtx, false, load)
		leader <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	waiter := make(chan *models.SchemaModel, 1)
	go func() {
		s, _, err := c.Get(context.Background(), false, load)
		assert.NoError(t, err)
		waiter <- s
	}()

	cancelLeader()
	assert.ErrorIs(t, <-leader, context.Canceled)

	close(gate)
	assert.Same(t, want, <-waiter)
	assert.Same(t, want, c.Snapshot())
	assert.EqualValues(t, 1, calls.Load())
}

func TestSchemaCache_FailedRefreshServesPreviousToReaders(t *testing.T) {
	var c schemaCache
	before := usersSchema()
	_, loaded, err := c.Get(context.Background(), false, func(context.Context) (*models.SchemaModel, error) { return before, nil })
	require.NoError(t, err)
	assert.True(t, loaded)

	var calls atomic.Int32
	gate := make(chan struct{})
	refreshErr := errors.New("connection refused")
	load := gatedLoader(gate, &calls, nil, refreshErr)

	forced := make(chan error, 1)
	go func() {
		_, _, err := c.Get(context.Background(), true, load)
		forced <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	reader := make(chan *models.SchemaModel, 1)
	go func() {
		s, _, err := c.Get(context.Background(), false, load)
		assert.NoError(t, err)
		reader <- s
	}()

	close(gate)
	assert.ErrorIs(t, <-forced, refreshErr)
	assert.Same(t, before, <-reader)
	assert.Same(t, before, c.Snapshot())
}

func TestSchemaCache_FailedFirstLoadReachesEveryone(t *testing.T) {
	var c schemaCache
	loadErr := errors.New("no route to host")
	_, _, err := c.Get(context.Background(), false, func(context.Context) (*models.SchemaModel, error) { return nil, loadErr })
	assert.ErrorIs(t, err, loadErr)
	assert.Nil(t, c.Snapshot())
}
