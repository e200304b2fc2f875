package sync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/docstore"
	"github.com/lockbook/lockbook/pkg/events"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/filetree/validate"
	"github.com/lockbook/lockbook/pkg/lberrors"
	"github.com/lockbook/lockbook/pkg/metrics"
	"github.com/lockbook/lockbook/pkg/signed"
)

// maxSyncRetries bounds transient-I/O retries to three attempts total.
const maxSyncRetries = 2 // plus the initial attempt = 3 total

// Engine runs sync rounds over a shared Base/Local pair. It does not own
// its lock: the caller (pkg/core) passes its own *sync.RWMutex so a round
// can hold it across Phases P/M/U and release it during Phase D, letting
// other mutations proceed concurrently with document transfer while
// staying serialized with the metadata phases.
type Engine struct {
	mu *sync.RWMutex

	base  filetree.Map
	local filetree.Map

	docs      *docstore.Store
	transport Transport
	identity  filetree.KeyProvider
	bus       *events.Bus
	metrics   *metrics.SyncMetrics

	syncing atomic.Bool
}

// SetMetrics wires Prometheus instrumentation into the engine. Optional: a
// nil metrics.SyncMetrics (the zero value of this field) makes every Round
// a no-op with respect to metrics.
func (e *Engine) SetMetrics(m *metrics.SyncMetrics) *Engine {
	e.metrics = m
	return e
}

// NewEngine builds a sync Engine over base and local, which it mutates in
// place across rounds. mu must be the same lock pkg/core takes for every
// other mutation against base/local.
func NewEngine(mu *sync.RWMutex, base, local filetree.Map, docs *docstore.Store, transport Transport, identity filetree.KeyProvider, bus *events.Bus) *Engine {
	return &Engine{mu: mu, base: base, local: local, docs: docs, transport: transport, identity: identity, bus: bus}
}

// Round runs one Pull/Merge/Document/Upsert cycle. Only one round may run
// at a time process-wide; a concurrent call fails with AlreadySyncing.
func (e *Engine) Round(ctx context.Context) (outcome events.SyncOutcome, err error) {
	if !e.syncing.CompareAndSwap(false, true) {
		e.metrics.ObserveAlreadySyncing()
		return events.SyncOutcome{}, lberrors.New(lberrors.ErrAlreadySyncing, "a sync round is already in progress")
	}
	defer e.syncing.Store(false)

	started := time.Now()
	defer func() {
		e.metrics.ObserveRound(time.Since(started), outcome.Pulled, outcome.Pushed, len(outcome.Rejected), err)
	}()

	e.bus.Publish(events.Event{Kind: events.SyncStarted})

	e.mu.Lock()
	oldBase := cloneSignedMap(e.base)
	sinceVersion := maxVersion(e.base)
	e.mu.Unlock()

	// Phase P: pull.
	result, err := e.pullWithRetry(ctx, sinceVersion)
	if err != nil {
		return events.SyncOutcome{}, err
	}
	if ctx.Err() != nil {
		return events.SyncOutcome{}, ctx.Err()
	}

	e.mu.Lock()
	newBase := cloneSignedMap(e.base)
	for _, sf := range result.Files {
		newBase[sf.SignedFile.Timestamped.Value.Id] = sf.SignedFile
	}
	serverLT := filetree.NewLazyTree(newBase, e.identity)
	if err := validate.Validate(serverLT); err != nil {
		e.mu.Unlock()
		// The server is trusted for ordering and for rejecting invalid
		// diffs; receiving an invalid sequence is an invariant violation,
		// not a recoverable local error.
		return events.SyncOutcome{}, lberrors.Unexpected("", "P", err)
	}

	// Phase M: merge.
	rejected := e.mergePhase(ctx, oldBase, newBase)
	// e.base is shared with pkg/core's map reference, so its contents are
	// replaced in place rather than the field being repointed at newBase.
	replaceMapContents(e.base, newBase)
	e.mu.Unlock()

	if ctx.Err() != nil {
		return events.SyncOutcome{Rejected: rejected}, nil
	}

	// Phase D: document download. Lock is held only to snapshot the ids to
	// transfer; the I/O itself runs unlocked.
	pulled := e.documentPhase(ctx)

	// Phase U: upsert metadata.
	e.mu.RLock()
	diffs := e.computeDiffs()
	e.mu.RUnlock()

	upsertRejected := make(map[uuid.UUID]error)
	if len(diffs) > 0 && ctx.Err() == nil {
		res, err := e.upsertWithRetry(ctx, diffs)
		if err == nil {
			upsertRejected = res.Rejected
		} else {
			for _, d := range diffs {
				upsertRejected[d.New.Timestamped.Value.Id] = err
			}
		}
	}

	var accepted []FileDiff
	e.mu.Lock()
	for _, d := range diffs {
		id := d.New.Timestamped.Value.Id
		if _, bad := upsertRejected[id]; bad {
			rejected = append(rejected, id)
			e.bus.Publish(events.Event{Kind: events.MetadataChanged, Id: id})
			continue
		}
		e.base[id] = d.New
		delete(e.local, id)
		accepted = append(accepted, d)
		e.bus.Publish(events.Event{Kind: events.MetadataChanged, Id: id})
	}
	e.mu.Unlock()

	// Document upload runs after the upsert so the server already holds
	// each blob's registered hmac when the content arrives.
	pushed := e.pushDocuments(ctx, accepted)

	outcome = events.SyncOutcome{Rejected: rejected, Pulled: pulled, Pushed: pushed}
	e.bus.Publish(events.Event{Kind: events.SyncCompleted, Outcome: outcome})
	return outcome, nil
}

func (e *Engine) pullWithRetry(ctx context.Context, since uint64) (GetUpdatesResult, error) {
	var result GetUpdatesResult
	op := func() error {
		r, err := e.transport.GetUpdates(ctx, since)
		if err != nil {
			return err
		}
		result = r
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxSyncRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return GetUpdatesResult{}, lberrors.New(lberrors.ErrServerUnreachable, "GetUpdates failed: "+err.Error())
	}
	return result, nil
}

func (e *Engine) upsertWithRetry(ctx context.Context, diffs []FileDiff) (UpsertResult, error) {
	var result UpsertResult
	op := func() error {
		r, err := e.transport.Upsert(ctx, diffs)
		if err != nil {
			return err
		}
		result = r
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxSyncRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return UpsertResult{}, lberrors.New(lberrors.ErrServerUnreachable, "Upsert failed: "+err.Error())
	}
	return result, nil
}

func maxVersion(m filetree.Map) uint64 {
	var max uint64
	for _, f := range m {
		if v := f.Timestamped.Value.Version; v > max {
			max = v
		}
	}
	return max
}

func cloneSignedMap(m filetree.Map) filetree.Map {
	out := make(filetree.Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// replaceMapContents overwrites dst's entries to match src without
// repointing dst itself, so a caller holding the same map reference (e.g.
// pkg/core) observes the update.
func replaceMapContents(dst, src filetree.Map) {
	for k := range dst {
		if _, ok := src[k]; !ok {
			delete(dst, k)
		}
	}
	for k, v := range src {
		dst[k] = v
	}
}

// computeDiffs returns every Local entry that differs from Base, the
// payload of Phase U. Caller must hold at least a read lock.
func (e *Engine) computeDiffs() []FileDiff {
	var diffs []FileDiff
	for id, localF := range e.local {
		baseF, hasBase := e.base[id]
		if hasBase && filetree.Equal(localF, baseF) {
			continue
		}
		d := FileDiff{New: localF}
		if hasBase {
			b := baseF
			d.Old = &b
		}
		diffs = append(diffs, d)
	}
	return diffs
}

// documentPhase downloads every document blob the post-merge Base names
// that is missing from the local store, pipelining individual transfers
// without letting one failure abort the round. Blobs whose id Local has
// rewritten to a different hmac are skipped: Local's content is the live
// version on this device, and a true concurrent edit already had its
// remote blob fetched during conflict materialization.
func (e *Engine) documentPhase(ctx context.Context) (pulled int) {
	e.mu.RLock()
	type job struct {
		id   uuid.UUID
		hmac [32]byte
	}
	var jobs []job
	for id, baseF := range e.base {
		meta := baseF.Timestamped.Value
		if meta.Type != filetree.Document || meta.DocumentHmac == nil {
			continue
		}
		if localF, inLocal := e.local[id]; inLocal &&
			!documentHmacsEqual(localF.Timestamped.Value.DocumentHmac, meta.DocumentHmac) {
			continue
		}
		if e.docs.Has(id, *meta.DocumentHmac) {
			continue
		}
		jobs = append(jobs, job{id: id, hmac: *meta.DocumentHmac})
	}
	e.mu.RUnlock()

	for _, j := range jobs {
		if ctx.Err() != nil {
			return pulled
		}
		raw, err := e.transport.GetDocument(ctx, j.id, j.hmac)
		if err != nil {
			continue
		}
		if err := e.docs.WriteBlob(j.id, j.hmac, raw); err != nil {
			continue
		}
		pulled++
	}
	return pulled
}

// pushDocuments uploads the blob behind every accepted metadata diff whose
// content changed, after Upsert has registered the new hmac server-side.
// Per-document failures are skipped rather than fatal; the blob is
// retried on the next round since Base and the blob store still disagree.
func (e *Engine) pushDocuments(ctx context.Context, accepted []FileDiff) (pushed int) {
	for _, d := range accepted {
		if ctx.Err() != nil {
			return pushed
		}
		meta := d.New.Timestamped.Value
		if meta.Type != filetree.Document || meta.DocumentHmac == nil {
			continue
		}
		var oldHmac *[32]byte
		if d.Old != nil {
			oldHmac = d.Old.Timestamped.Value.DocumentHmac
		}
		if documentHmacsEqual(oldHmac, meta.DocumentHmac) {
			continue
		}
		raw, err := e.docs.ReadBlob(meta.Id, *meta.DocumentHmac)
		if err != nil {
			continue
		}
		if _, err := e.transport.ChangeDoc(ctx, meta.Id, oldHmac, *meta.DocumentHmac, raw); err != nil {
			continue
		}
		pushed++
	}
	return pushed
}

// mergePhase reconciles Local against the freshly pulled Base. Caller must
// hold the write lock; it mutates e.local in place and returns the ids of
// moves backed out to keep the tree valid.
func (e *Engine) mergePhase(ctx context.Context, oldBase, newBase filetree.Map) []uuid.UUID {
	for id, remote := range newBase {
		local, inLocal := e.local[id]
		if !inLocal {
			continue // remote-only: B' already holds the winning value
		}

		var basePtr *filetree.FileMeta
		if b, ok := oldBase[id]; ok {
			m := b.Timestamped.Value
			basePtr = &m
		}

		merged := mergeMeta(basePtr, remote, local)

		var baseDoc *[32]byte
		if basePtr != nil {
			baseDoc = basePtr.DocumentHmac
		}
		remoteDoc := remote.Timestamped.Value.DocumentHmac
		localDoc := local.Timestamped.Value.DocumentHmac
		if !documentHmacsEqual(remoteDoc, baseDoc) && !documentHmacsEqual(localDoc, baseDoc) &&
			!documentHmacsEqual(remoteDoc, localDoc) {
			e.materializeConflict(ctx, newBase, remote, merged)
		}

		if mergedEqualsMeta(merged, remote.Timestamped.Value) {
			delete(e.local, id)
			continue
		}

		merged.Version = remote.Timestamped.Value.Version
		resigned, err := signed.Sign(e.identity.Private(), merged, time.Now())
		if err != nil {
			continue
		}
		e.local[id] = resigned
	}

	return e.revalidateAndBackOut(newBase)
}

func mergedEqualsMeta(merged, remote filetree.FileMeta) bool {
	return merged.Parent == remote.Parent &&
		merged.Name.Hmac == remote.Name.Hmac &&
		merged.IsDeleted == remote.IsDeleted &&
		documentHmacsEqual(merged.DocumentHmac, remote.DocumentHmac) &&
		sharesEqual(merged.UserAccessKeys, remote.UserAccessKeys)
}

// revalidateAndBackOut re-validates Local staged over newBase, resetting
// any id whose merged Parent introduces a cycle or name conflict back to
// newBase's value, until the tree is valid or every candidate has been
// tried. Backed-out ids are surfaced to the caller rather than silently
// dropped.
func (e *Engine) revalidateAndBackOut(newBase filetree.Map) []uuid.UUID {
	var rejected []uuid.UUID
	for attempt := 0; attempt <= len(e.local)+1; attempt++ {
		staged := &filetree.Staged{Base: newBase, Overlay: e.local}
		lt := filetree.NewLazyTree(staged, e.identity)
		err := validate.Validate(lt)
		if err == nil {
			return rejected
		}
		lbErr, ok := err.(*lberrors.LbError)
		if !ok || lbErr.Id == "" {
			return rejected
		}
		id, parseErr := uuid.Parse(lbErr.Id)
		if parseErr != nil {
			return rejected
		}
		localF, ok := e.local[id]
		if !ok {
			return rejected // violation lives in newBase itself; the server is trusted, nothing we can do locally
		}
		baseF, hasBase := newBase[id]
		if !hasBase {
			delete(e.local, id)
			rejected = append(rejected, id)
			continue
		}
		reset := localF.Timestamped.Value.Clone()
		reset.Parent = baseF.Timestamped.Value.Parent
		reset.Name = baseF.Timestamped.Value.Name
		resigned, signErr := signed.Sign(e.identity.Private(), reset, time.Now())
		if signErr != nil {
			delete(e.local, id)
			rejected = append(rejected, id)
			continue
		}
		e.local[id] = resigned
		rejected = append(rejected, id)
	}
	return rejected
}

// materializeConflict handles a document edited on both sides: Local's
// hmac is kept at id (mergeMeta already does this), and a sibling document
// carrying the remote content is created alongside it under a
// deterministic "{name}-content-conflict-{timestamp}" name.
func (e *Engine) materializeConflict(ctx context.Context, newBase filetree.Map, remote filetree.SignedFile, merged filetree.FileMeta) {
	remoteHmac := remote.Timestamped.Value.DocumentHmac
	if remoteHmac == nil {
		return
	}
	staged := &filetree.Staged{Base: newBase, Overlay: e.local}
	lt := filetree.NewLazyTree(staged, e.identity)
	parentKey, err := lt.Key(merged.Parent)
	if err != nil {
		return
	}

	ciphertext, err := e.transport.GetDocument(ctx, merged.Id, *remoteHmac)
	if err != nil {
		return
	}
	if err := e.docs.WriteBlob(merged.Id, *remoteHmac, ciphertext); err != nil {
		return
	}
	plaintext, err := e.docs.Read(merged.Id, *remoteHmac, parentKey)
	if err != nil {
		return
	}

	nameBytes, err := crypto.AesGcmDecrypt(parentKey, remote.Timestamped.Value.Name.Ciphertext)
	if err != nil {
		return
	}
	conflictName := fmt.Sprintf("%s-content-conflict-%d", nameBytes, time.Now().UnixMilli())

	secretName, err := filetree.EncryptName(parentKey, conflictName)
	if err != nil {
		return
	}
	wrapped, err := crypto.AesGcmEncrypt(parentKey, parentKey[:])
	if err != nil {
		return
	}

	newID := uuid.New()

	// The conflict document shares merged.Id's content key (documents are
	// keyed by their parent folder), so the remote content can be
	// re-encrypted and stored under the conflict's own id.
	conflictHmac, _, err := e.docs.SafeWrite(newID, parentKey, nil, nil, plaintext)
	if err != nil {
		return
	}
	conflictMeta := filetree.FileMeta{
		Id:              newID,
		Type:            filetree.Document,
		Parent:          merged.Parent,
		Owner:           merged.Owner,
		Name:            secretName,
		FolderAccessKey: wrapped,
		DocumentHmac:    &conflictHmac,
	}
	conflictFile, err := signed.Sign(e.identity.Private(), conflictMeta, time.Now())
	if err != nil {
		return
	}

	e.local[newID] = conflictFile
}
