package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensciencearchive/server/infrastructure/logging"
)

func TestPool_JanitorReclaimsStale(t *testing.T) {
	store := newFakeStore()
	log := logging.New("test", "error", "text")

	pool, err := NewPool(store, []Handler{&testHandler{name: "BeginValidation"}}, Options{
		Defaults:        DefaultConfig(),
		JanitorInterval: 5 * time.Millisecond,
	}, log, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for {
		store.mu.Lock()
		reclaimed := store.reclaimed
		store.mu.Unlock()
		if reclaimed >= 2 {
			break
		}
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatal("janitor never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestPool_ShutdownStopsWorkers(t *testing.T) {
	store := newFakeStore(testEvents(t, 1)...)
	log := logging.New("test", "error", "text")

	pool, err := NewPool(store, []Handler{&testHandler{name: "BeginValidation"}}, Options{
		Defaults: testConfig(),
	}, log, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancellation")
	}
}

func TestPool_MaxClaimTimeout(t *testing.T) {
	store := newFakeStore()
	log := logging.New("test", "error", "text")

	long := DefaultConfig()
	long.ClaimTimeout = 10 * time.Minute

	pool, err := NewPool(store, []Handler{
		&testHandler{name: "A"},
		&longClaimHandler{testHandler{name: "B"}, long},
	}, Options{Defaults: DefaultConfig()}, log, nil)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, pool.maxClaimTimeout)
}

type longClaimHandler struct {
	testHandler
	cfg Config
}

func (h *longClaimHandler) WorkerConfig(defaults Config) Config { return h.cfg }
