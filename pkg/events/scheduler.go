package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultAutoSyncInterval is how often the scheduler auto-syncs when idle
// and not disabled.
const DefaultAutoSyncInterval = 30 * time.Second

// defaultCheckInterval is how often the coalescer checks for writes whose
// idle window has elapsed.
const defaultCheckInterval = 5 * time.Second

// SyncFunc performs one sync round. The scheduler never runs two
// concurrently.
type SyncFunc func(ctx context.Context) error

// Scheduler runs SyncFunc on a timer, skipping a tick if the app is not
// idle or auto-sync is disabled. Start and Stop are idempotent.
type Scheduler struct {
	interval time.Duration
	sync     SyncFunc
	idle     func() bool
	disabled func() bool

	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewScheduler builds a Scheduler. idle reports whether the app has been
// free of local activity long enough to auto-sync; disabled reports
// whether the user has turned auto-sync off. interval defaults to
// DefaultAutoSyncInterval when zero.
func NewScheduler(interval time.Duration, idle, disabled func() bool, sync SyncFunc) *Scheduler {
	if interval <= 0 {
		interval = DefaultAutoSyncInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		interval: interval,
		sync:     sync,
		idle:     idle,
		disabled: disabled,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the background ticker. Idempotent.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() { go s.worker() })
}

// Stop halts the ticker and waits for any in-flight tick to finish.
// Idempotent.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		s.cancel()
	})
}

func (s *Scheduler) worker() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.maybeSync()
		}
	}
}

func (s *Scheduler) maybeSync() {
	if s.disabled != nil && s.disabled() {
		return
	}
	if s.idle != nil && !s.idle() {
		return
	}
	_ = s.sync(s.ctx)
}

// FlushFunc persists one document's staged content.
type FlushFunc func(id uuid.UUID, content []byte) error

// Coalescer buffers document writes in memory and flushes each id's latest
// content once it has been idle for IdleWindow, so rapid successive edits
// to one document become a single write.
type Coalescer struct {
	idleWindow    time.Duration
	checkInterval time.Duration
	flush         FlushFunc

	mu      sync.Mutex
	pending map[uuid.UUID]coalescedWrite

	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

type coalescedWrite struct {
	content  []byte
	lastEdit time.Time
}

// NewCoalescer builds a Coalescer. idleWindow defaults to 2 seconds when
// zero.
func NewCoalescer(idleWindow time.Duration, flush FlushFunc) *Coalescer {
	if idleWindow <= 0 {
		idleWindow = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coalescer{
		idleWindow:    idleWindow,
		checkInterval: defaultCheckInterval,
		flush:         flush,
		pending:       make(map[uuid.UUID]coalescedWrite),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Stage records content as id's latest unflushed write, replacing any
// earlier staged content for id and resetting its idle clock.
func (c *Coalescer) Stage(id uuid.UUID, content []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[id] = coalescedWrite{content: content, lastEdit: time.Now()}
}

// Start begins the background ticker. Idempotent.
func (c *Coalescer) Start() {
	c.startOnce.Do(func() { go c.worker() })
}

// Stop halts the ticker, flushing every still-pending write first.
// Idempotent.
func (c *Coalescer) Stop() {
	c.stopOnce.Do(func() {
		c.Start()
		close(c.stopCh)
		<-c.doneCh
		c.cancel()
	})
}

func (c *Coalescer) worker() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			c.flushStale(true)
			return
		case <-ticker.C:
			c.flushStale(false)
		}
	}
}

// flushStale flushes every pending write whose idle window has elapsed, or
// every pending write regardless of age when force is true (final flush on
// shutdown).
func (c *Coalescer) flushStale(force bool) {
	now := time.Now()
	c.mu.Lock()
	due := make(map[uuid.UUID][]byte)
	for id, w := range c.pending {
		if force || now.Sub(w.lastEdit) >= c.idleWindow {
			due[id] = w.content
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for id, content := range due {
		if c.ctx.Err() != nil {
			return
		}
		if err := c.flush(id, content); err != nil {
			// A failed flush is re-staged so the next tick retries it,
			// rather than silently losing the edit.
			c.mu.Lock()
			if _, ok := c.pending[id]; !ok {
				c.pending[id] = coalescedWrite{content: content, lastEdit: now}
			}
			c.mu.Unlock()
		}
	}
}
