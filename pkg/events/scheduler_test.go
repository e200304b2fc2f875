package events_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/events"
	"github.com/stretchr/testify/require"
)

func TestScheduler_SyncsWhenIdleAndEnabled(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})

	s := events.NewScheduler(10*time.Millisecond, func() bool { return true }, func() bool { return false },
		func(ctx context.Context) error {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 1 {
				close(done)
			}
			return nil
		})
	s.Start()
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler never synced")
	}
}

func TestScheduler_DisabledNeverSyncs(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	calls := 0

	s := events.NewScheduler(10*time.Millisecond, func() bool { return true }, func() bool { return true },
		func(ctx context.Context) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil
		})
	s.Start()
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, calls)
}

func TestCoalescer_StopForcesAFinalFlushOfPendingWrites(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	flushed := make(map[uuid.UUID][]byte)

	c := events.NewCoalescer(time.Hour, func(id uuid.UUID, content []byte) error {
		mu.Lock()
		flushed[id] = content
		mu.Unlock()
		return nil
	})
	id := uuid.New()
	c.Stage(id, []byte("draft"))
	c.Stop() // idleWindow is an hour, so only the forced shutdown flush can deliver this

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []byte("draft"), flushed[id])
}

func TestCoalescer_RestagingReplacesEarlierContent(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	flushed := make(map[uuid.UUID][]byte)

	c := events.NewCoalescer(time.Hour, func(id uuid.UUID, content []byte) error {
		mu.Lock()
		flushed[id] = content
		mu.Unlock()
		return nil
	})
	id := uuid.New()
	c.Stage(id, []byte("v1"))
	c.Stage(id, []byte("v2"))
	c.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []byte("v2"), flushed[id])
	require.Len(t, flushed, 1)
}
