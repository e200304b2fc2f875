// Package core is the synchronous façade every caller goes through:
// file and document operations, sharing, usage, and sync all enter here.
//
// A single sync.RWMutex guards the in-memory tree, with high-level methods
// that validate and commit in one call rather than exposing the tree
// directly. Every exported method takes the lock itself; the only other
// holder is pkg/sync's Engine, which shares this mutex and takes it during
// a sync round.
package core

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/docstore"
	"github.com/lockbook/lockbook/pkg/events"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/filetree/validate"
	syncengine "github.com/lockbook/lockbook/pkg/sync"
)

// Core holds one account's in-memory tree (Base committed from the last
// sync, Local the uncommitted overlay on top of it) plus the subsystems
// that operate on it.
type Core struct {
	mu sync.RWMutex

	identity filetree.KeyProvider
	root     uuid.UUID

	base  filetree.Map
	local filetree.Map

	docs   *docstore.Store
	engine *syncengine.Engine
	bus    *events.Bus
	usage  UsageTransport
}

// New builds a Core over an existing Base/Local pair (as loaded from
// pkg/localdb) and the document store and transport it should sync
// through. root is the account's own root folder id.
func New(identity filetree.KeyProvider, root uuid.UUID, base, local filetree.Map, docs *docstore.Store, transport syncengine.Transport, bus *events.Bus) *Core {
	if base == nil {
		base = make(filetree.Map)
	}
	if local == nil {
		local = make(filetree.Map)
	}
	c := &Core{identity: identity, root: root, base: base, local: local, docs: docs, bus: bus}
	c.engine = syncengine.NewEngine(&c.mu, c.base, c.local, docs, transport, identity, bus)
	return c
}

// Root returns the account's root folder id.
func (c *Core) Root() uuid.UUID { return c.root }

// view returns a LazyTree over the current Base+Local working tree. Callers
// must hold at least a read lock for as long as they use it.
func (c *Core) view() *filetree.LazyTree {
	return filetree.NewLazyTree(&filetree.Staged{Base: c.base, Overlay: c.local}, c.identity)
}

// WithView runs fn against a read-only snapshot of the working tree.
func (c *Core) WithView(fn func(lt *filetree.LazyTree) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fn(c.view())
}

// mutate stages fn's edits in a fresh overlay on top of the working tree,
// validates the result, and promotes it into Local only if validation
// passes. touched lets fn report which ids changed so mutate can publish
// MetadataChanged for each of them.
func (c *Core) mutate(fn func(lt *filetree.LazyTree, proposed *filetree.Staged) ([]uuid.UUID, error)) ([]uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	working := &filetree.Staged{Base: c.base, Overlay: c.local}
	proposed := &filetree.Staged{Base: working, Overlay: make(filetree.Map)}
	lt := filetree.NewLazyTree(proposed, c.identity)

	touched, err := fn(lt, proposed)
	if err != nil {
		return nil, err
	}

	validated := filetree.NewLazyTree(proposed, c.identity)
	if err := validate.Validate(validated); err != nil {
		proposed.Unstage()
		return nil, err
	}
	proposed.Promote()

	for _, id := range touched {
		c.bus.Publish(events.Event{Kind: events.MetadataChanged, Id: id})
	}
	return touched, nil
}

// SetUsageTransport wires the client used by GetUsage. Separate from New
// since it is the one Core dependency that isn't needed by every caller
// (a headless sync-only process never calls GetUsage).
func (c *Core) SetUsageTransport(t UsageTransport) { c.usage = t }

// SyncNow drives one round of the sync engine and reports what happened; a
// thin facade so cmd binaries never reach past Core into pkg/sync
// directly.
func (c *Core) SyncNow(ctx context.Context) (events.SyncOutcome, error) {
	return c.engine.Round(ctx)
}

// Engine exposes the underlying sync engine for pkg/server and cmd binaries
// that need to drive a round directly (e.g. a manual "sync now" command).
func (c *Core) Engine() *syncengine.Engine { return c.engine }

// Docs exposes the underlying document store for callers (e.g. usage
// calculation) that need it directly rather than through Core's own
// Read/Write methods.
func (c *Core) Docs() *docstore.Store { return c.docs }
