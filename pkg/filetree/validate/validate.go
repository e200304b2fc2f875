// Package validate checks the structural invariants every well-formed tree
// upholds: cycle-freedom, unique sibling names, ownership/type
// constraints, link legality, access-chain integrity, share legality, and
// signatures.
//
// Validation is total and returns the first violation rather than an
// aggregate, so a caller can correct one problem and retry.
package validate

import (
	"time"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/lberrors"
	"github.com/lockbook/lockbook/pkg/signed"
)

// Validate runs every invariant check over lt and returns the first
// violation found, or nil if the tree is well-formed.
func Validate(lt *filetree.LazyTree) error {
	ids := lt.Tree.Ids()

	// 1. Cycle detection: an ancestor chain longer than the tree can hold
	// a root means it loops.
	for _, id := range ids {
		if err := checkNoCycle(lt, id, len(ids)); err != nil {
			return err
		}
	}

	// 2/3. Sibling name-HMAC uniqueness among non-effectively-deleted
	// children of each non-effectively-deleted folder.
	if err := checkNameConflicts(lt, ids); err != nil {
		return err
	}

	// 4. Only folders may have children; documents/links may not.
	if err := checkParentIsFolder(lt, ids); err != nil {
		return err
	}

	// 5. Links resolve, to a non-deleted, non-link target.
	if err := checkLinks(lt, ids); err != nil {
		return err
	}

	// 6. Access-chain integrity. A subtree whose nearest grant for the
	// current account is tombstoned is a rejected share pending removal on
	// the next sync; its keys are no longer expected to resolve.
	for _, id := range ids {
		f, _ := lt.Tree.MaybeFind(id)
		if f.Timestamped.Value.IsRoot() {
			continue
		}
		if rejectedBySelf(lt, id) {
			continue
		}
		if _, err := lt.Key(id); err != nil {
			return lberrors.New(lberrors.ErrAccessInfoInvalid, "access chain does not resolve").WithId(id.String())
		}
	}

	// 7. Share legality: the signer of each node's current revision must
	// hold Write or Owner access at that node.
	if err := checkShareLegality(lt, ids); err != nil {
		return err
	}

	// 8. Signatures verify under the inlined public key.
	for _, id := range ids {
		f, _ := lt.Tree.MaybeFind(id)
		if err := signed.Verify(f, time.Now(), storedFileSkew); err != nil {
			return err
		}
	}

	return nil
}

// storedFileSkew accepts arbitrarily old signatures. Freshness is enforced
// when a revision is admitted (request auth, server-side diff validation),
// not every time an already-accepted tree is re-validated, so a file last
// touched a year ago still passes.
var storedFileSkew = crypto.SkewWindow{
	MaxFuture: crypto.DefaultMaxFutureSkew,
	MaxPast:   100 * 365 * 24 * time.Hour,
}

func checkNoCycle(lt *filetree.LazyTree, start uuid.UUID, limit int) error {
	id := start
	for i := 0; i <= limit; i++ {
		f, ok := lt.Tree.MaybeFind(id)
		if !ok {
			return lberrors.New(lberrors.ErrFileNotFound, "parent does not resolve").WithId(id.String())
		}
		meta := f.Timestamped.Value
		if meta.IsRoot() {
			return nil
		}
		if _, ok := lt.Tree.MaybeFind(meta.Parent); !ok {
			// A grantee's replica holds a shared subtree without the
			// owner's enclosing folders; its top node terminates the
			// chain the way a root does.
			if meta.HasUserAccess() {
				return nil
			}
			return lberrors.New(lberrors.ErrFileNotFound, "parent does not resolve").WithId(meta.Parent.String())
		}
		id = meta.Parent
	}
	return lberrors.New(lberrors.ErrCycle, "ancestor chain does not terminate at a root").WithId(start.String())
}

func checkNameConflicts(lt *filetree.LazyTree, ids []uuid.UUID) error {
	byParent := make(map[uuid.UUID]map[[32]byte]uuid.UUID)
	for _, id := range ids {
		f, _ := lt.Tree.MaybeFind(id)
		meta := f.Timestamped.Value
		if meta.IsRoot() {
			continue
		}
		if _, ok := lt.Tree.MaybeFind(meta.Parent); !ok {
			continue // share root of a pruned replica has no visible siblings
		}
		deleted, err := lt.ImplicitlyDeleted(id)
		if err != nil {
			return err
		}
		if deleted {
			continue
		}
		parentDeleted, err := lt.ImplicitlyDeleted(meta.Parent)
		if err != nil {
			return err
		}
		if parentDeleted {
			continue
		}
		siblings, ok := byParent[meta.Parent]
		if !ok {
			siblings = make(map[[32]byte]uuid.UUID)
			byParent[meta.Parent] = siblings
		}
		if other, exists := siblings[meta.Name.Hmac]; exists && other != id {
			return lberrors.New(lberrors.ErrPathConflict, "duplicate sibling name").WithId(meta.Parent.String())
		}
		siblings[meta.Name.Hmac] = id
	}
	return nil
}

func checkParentIsFolder(lt *filetree.LazyTree, ids []uuid.UUID) error {
	for _, id := range ids {
		f, _ := lt.Tree.MaybeFind(id)
		meta := f.Timestamped.Value
		if meta.IsRoot() {
			continue
		}
		parent, ok := lt.Tree.MaybeFind(meta.Parent)
		if !ok {
			if meta.HasUserAccess() {
				continue // share root of a pruned replica
			}
			return lberrors.New(lberrors.ErrFileNotFound, "parent does not exist").WithId(meta.Parent.String())
		}
		if parent.Timestamped.Value.Type != filetree.Folder {
			return lberrors.New(lberrors.ErrFileNotFolder, "parent is not a folder").WithId(meta.Parent.String())
		}
	}
	return nil
}

func checkLinks(lt *filetree.LazyTree, ids []uuid.UUID) error {
	for _, id := range ids {
		f, _ := lt.Tree.MaybeFind(id)
		meta := f.Timestamped.Value
		if meta.Type != filetree.Link {
			continue
		}
		target, ok := lt.Tree.MaybeFind(meta.Target)
		if !ok {
			return lberrors.New(lberrors.ErrBrokenLink, "link target does not exist").WithId(id.String())
		}
		deleted, err := lt.ImplicitlyDeleted(meta.Target)
		if err != nil {
			return err
		}
		if deleted {
			return lberrors.New(lberrors.ErrBrokenLink, "link target is deleted").WithId(id.String())
		}
		if target.Timestamped.Value.Type == filetree.Link {
			return lberrors.New(lberrors.ErrTargetIsOwned, "links to links are forbidden").WithId(id.String())
		}
	}
	return nil
}

func checkShareLegality(lt *filetree.LazyTree, ids []uuid.UUID) error {
	for _, id := range ids {
		f, _ := lt.Tree.MaybeFind(id)
		meta := f.Timestamped.Value
		if meta.Owner.Equal(f.PublicKey) {
			continue // owner may always sign their own subtree
		}
		level, found := AccessLevel(lt, id, f.PublicKey)
		if found && level.Atleast(filetree.Write) {
			continue
		}
		// A principal rejecting a share signs the very revision that
		// tombstones their own grant, so their access level re-derived
		// from that revision is already gone. The tombstoned entry naming
		// the signer is what marks the revision as a self-reject.
		if SelfRejected(meta, f.PublicKey) {
			continue
		}
		return lberrors.New(lberrors.ErrInsufficientPermission, "signer lacks write access").WithId(id.String())
	}
	return nil
}

// SelfRejected reports whether meta carries a tombstoned UserAccessInfo
// naming pub, i.e. whether pub has rejected (or been unshared from) this
// node. checkShareLegality accepts such a signer for the node's current
// revision; the server additionally checks that a self-reject revision
// changes nothing else (store.ValidateDiff).
func SelfRejected(meta filetree.FileMeta, pub crypto.PublicKey) bool {
	for _, info := range meta.UserAccessKeys {
		if info.Deleted && info.Principal.Equal(pub) {
			return true
		}
	}
	return false
}

// rejectedBySelf walks id's ancestor chain and reports whether the nearest
// entry naming the current account is tombstoned.
func rejectedBySelf(lt *filetree.LazyTree, id uuid.UUID) bool {
	cur := id
	for i := 0; i <= len(lt.Tree.Ids()); i++ {
		f, ok := lt.Tree.MaybeFind(cur)
		if !ok {
			return false
		}
		meta := f.Timestamped.Value
		if info, ok := meta.UserAccessKeys[lt.Keys.Username()]; ok {
			return info.Deleted
		}
		if meta.IsRoot() {
			return false
		}
		cur = meta.Parent
	}
	return false
}

// AccessLevel walks from id up to the nearest ancestor carrying a
// UserAccessInfo whose Principal is pub, reusing the ancestor chain Key()
// already walks. UserAccessInfo is keyed by username, not public key, so a
// verifier with only a public key (no directory of who holds it) must scan
// entries by Principal rather than map-lookup.
func AccessLevel(lt *filetree.LazyTree, id uuid.UUID, pub crypto.PublicKey) (filetree.AccessMode, bool) {
	cur := id
	for {
		f, ok := lt.Tree.MaybeFind(cur)
		if !ok {
			return 0, false
		}
		meta := f.Timestamped.Value
		if meta.Owner.Equal(pub) {
			return filetree.Owner, true
		}
		for _, info := range meta.UserAccessKeys {
			if !info.Deleted && info.Principal.Equal(pub) {
				return info.Mode, true
			}
		}
		if meta.IsRoot() {
			return 0, false
		}
		cur = meta.Parent
	}
}
