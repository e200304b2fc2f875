// Package store is the server's metadata/document persistence boundary: a
// small Store interface with an in-memory implementation (memstore, used
// by default and by tests) and a Postgres implementation (pgstore, used
// when DATABASE_URL is set).
package store

import (
	"context"

	"time"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/filetree/validate"
	"github.com/lockbook/lockbook/pkg/lberrors"
	"github.com/lockbook/lockbook/pkg/signed"
)

// FileDiff is one file's proposed new revision, with the client's view of
// the previous revision it supersedes (nil for a newly-created file). This
// mirrors pkg/sync.FileDiff, kept as a separate type so pkg/server/store
// never has to import pkg/sync.
type FileDiff struct {
	Old *filetree.SignedFile
	New filetree.SignedFile
}

// FileUsage is one document's stored, compressed blob size.
type FileUsage struct {
	Id   uuid.UUID
	Size uint64
}

// Store is everything pkg/server's handlers need from persistence.
// Ctx-scoped so pgstore can cancel a slow query; memstore ignores it.
type Store interface {
	// CreateAccount registers username with pub and its self-owned root.
	// Returns ErrUsernameTaken if the username exists.
	CreateAccount(ctx context.Context, username string, pub crypto.PublicKey, root filetree.SignedFile) error

	// PublicKey resolves username to its identity key, or
	// ErrAccountNonexistent.
	PublicKey(ctx context.Context, username string) (crypto.PublicKey, error)

	// UpdatesSince returns every file visible to caller whose version
	// exceeds sinceVersion, and the store's current latest timestamp. A
	// file is visible when caller owns it or holds a live grant at it or
	// any ancestor; everything else is withheld, so a grantee's replica
	// only ever contains subtrees they were shared into.
	UpdatesSince(ctx context.Context, caller crypto.PublicKey, sinceVersion uint64) ([]filetree.ServerFile, int64, error)

	// Upsert validates and applies diffs as one batch, returning which ids
	// were rejected and why; accepted diffs are durable before Upsert
	// returns.
	Upsert(ctx context.Context, diffs []FileDiff) (rejected map[uuid.UUID]error, err error)

	// PutDocument stores newly-encrypted blob bytes for id, requiring the
	// caller's view of the previous hmac to match what is stored
	// (optimistic concurrency; a stale view fails with ReReadRequired).
	PutDocument(ctx context.Context, id uuid.UUID, oldHmac *[32]byte, newHmac [32]byte, ciphertext []byte) (newVersion uint64, err error)

	// GetDocument fetches still-encrypted blob bytes for (id, hmac).
	GetDocument(ctx context.Context, id uuid.UUID, hmac [32]byte) ([]byte, error)

	// Usage reports every document's stored blob size and the account's
	// plan cap.
	Usage(ctx context.Context, owner crypto.PublicKey) ([]FileUsage, uint64, error)

	// Purge permanently removes an already-deleted file's record. Returns
	// lberrors.ErrInvalidArgument if id is not marked deleted, so an
	// operator can't accidentally destroy live data.
	Purge(ctx context.Context, id uuid.UUID) error
}

// treeView adapts a flat map of current server records to filetree.TreeLike
// so the shared validation helpers below (and validate.AccessLevel) can run
// directly over stored data.
type treeView map[uuid.UUID]filetree.SignedFile

func (t treeView) Ids() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	return ids
}

func (t treeView) MaybeFind(id uuid.UUID) (filetree.SignedFile, bool) {
	f, ok := t[id]
	return f, ok
}

// VisibleTo reports whether caller may see the file at id: caller owns it,
// or some node on its ancestor chain carries a live UserAccessInfo naming
// caller's key. Both store backends use this to prune UpdatesSince.
func VisibleTo(files map[uuid.UUID]filetree.SignedFile, caller crypto.PublicKey, id uuid.UUID) bool {
	for i := 0; i <= len(files); i++ {
		f, ok := files[id]
		if !ok {
			return false
		}
		meta := f.Timestamped.Value
		if meta.Owner.Equal(caller) {
			return true
		}
		for _, info := range meta.UserAccessKeys {
			if !info.Deleted && info.Principal.Equal(caller) {
				return true
			}
		}
		if meta.IsRoot() {
			return false
		}
		id = meta.Parent
	}
	return false
}

// ValidateDiff runs the subset of pkg/filetree/validate's eight-step
// algorithm the server can check without the requester's private key (the
// server never holds it, so invariant 6 — the access chain actually
// decrypts — is left to the client; pkg/sync re-validates the full tree
// locally on every pull). What remains is checkable from ciphertext alone:
// signature validity, structural placement, sibling-name uniqueness, and
// share legality by public key comparison (validate.AccessLevel never
// decrypts). current holds every file version the server has on record
// (pre-diff); proposed is the same plus every diff in the batch applied, so
// sibling-uniqueness checks see the whole batch at once.
func ValidateDiff(current map[uuid.UUID]filetree.SignedFile, proposed map[uuid.UUID]filetree.SignedFile, d FileDiff) error {
	id := d.New.Timestamped.Value.Id

	if err := signed.Verify(d.New, time.Now(), crypto.DefaultSkewWindow); err != nil {
		return err
	}

	existing, hadExisting := current[id]
	if d.Old == nil && hadExisting {
		return lberrors.New(lberrors.ErrOldVersionRequired, "file already exists on server").WithId(id.String())
	}
	if d.Old != nil {
		if !hadExisting {
			return lberrors.New(lberrors.ErrOldVersionRequired, "no such file on server").WithId(id.String())
		}
		if existing.Timestamped.Value.Version != d.Old.Timestamped.Value.Version {
			return lberrors.New(lberrors.ErrOldVersionRequired, "stale version").WithId(id.String())
		}
		if existing.Timestamped.Value.IsDeleted && !filetree.Equal(existing, d.New) {
			return lberrors.New(lberrors.ErrDeletedFileUpdated, "file is deleted").WithId(id.String())
		}
		if existing.Timestamped.Value.IsRoot() {
			newMeta := d.New.Timestamped.Value
			if newMeta.Id != newMeta.Parent || !newMeta.Owner.Equal(existing.Timestamped.Value.Owner) {
				return lberrors.New(lberrors.ErrRootModificationInvalid, "root's identity cannot change").WithId(id.String())
			}
		}
	}

	lt := filetree.NewLazyTree(treeView(proposed), nil)
	newMeta := d.New.Timestamped.Value
	if !newMeta.Owner.Equal(d.New.PublicKey) {
		level, found := validate.AccessLevel(lt, id, d.New.PublicKey)
		if !found || !level.Atleast(filetree.Write) {
			// A grantee rejecting a share signs the revision that
			// tombstones their own grant, so write access can no longer
			// be derived from it. Accept it only if nothing else changed.
			if !isSelfRejectDiff(existing, d.New) {
				return lberrors.New(lberrors.ErrNotPermissioned, "signer lacks write access").WithId(id.String())
			}
		}
	}

	if !newMeta.IsRoot() {
		for otherID, f := range proposed {
			if otherID == id {
				continue
			}
			m := f.Timestamped.Value
			if !m.IsRoot() && m.Parent == newMeta.Parent && m.Name.Hmac == newMeta.Name.Hmac && !m.IsDeleted && !newMeta.IsDeleted {
				return lberrors.New(lberrors.ErrPathTaken, "sibling name already in use").WithId(id.String())
			}
		}
	}

	return nil
}

// isSelfRejectDiff reports whether proposed differs from old only in that
// the signer's own UserAccessInfo flipped from live to tombstoned: every
// other field, and every other access entry, must be byte-for-byte the
// same. This is the one mutation a principal may make to a node they hold
// no write access on.
func isSelfRejectDiff(old, proposed filetree.SignedFile) bool {
	signer := proposed.PublicKey
	om, pm := old.Timestamped.Value, proposed.Timestamped.Value
	if om.Id != pm.Id || om.Type != pm.Type || om.Target != pm.Target ||
		om.Parent != pm.Parent || !om.Owner.Equal(pm.Owner) ||
		om.Name.Hmac != pm.Name.Hmac || om.IsDeleted != pm.IsDeleted {
		return false
	}
	if (om.DocumentHmac == nil) != (pm.DocumentHmac == nil) {
		return false
	}
	if om.DocumentHmac != nil && *om.DocumentHmac != *pm.DocumentHmac {
		return false
	}
	if len(om.UserAccessKeys) != len(pm.UserAccessKeys) {
		return false
	}
	flipped := false
	for user, pi := range pm.UserAccessKeys {
		oi, ok := om.UserAccessKeys[user]
		if !ok || oi.Mode != pi.Mode ||
			!oi.EncryptedBy.Equal(pi.EncryptedBy) || !oi.Principal.Equal(pi.Principal) {
			return false
		}
		if oi.Deleted == pi.Deleted {
			continue
		}
		if oi.Deleted || !pi.Deleted || !pi.Principal.Equal(signer) || flipped {
			return false
		}
		flipped = true
	}
	return flipped
}
