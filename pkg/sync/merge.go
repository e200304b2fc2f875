package sync

import (
	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/filetree"
)

// wins reports whether a's revision should win over b's: last-writer-wins
// by timestamp of the signed record, ties broken by lexicographic pubkey.
func wins(a, b filetree.SignedFile) bool {
	at, bt := a.Timestamped.TimestampMs, b.Timestamped.TimestampMs
	if at != bt {
		return at > bt
	}
	return !a.PublicKey.Less(b.PublicKey)
}

// mergeMeta resolves parent/name(Hmac-compared)/isDeleted/shares field by
// field: if only one side changed the field since base, take that side; if
// both changed it to the same value, either is fine; if both changed it to
// different values, last-writer-wins.
func mergeMeta(base *filetree.FileMeta, remote, local filetree.SignedFile) filetree.FileMeta {
	r := remote.Timestamped.Value
	l := local.Timestamped.Value

	merged := r.Clone()
	merged.Parent = resolveParent(base, r, l, remote, local)
	merged.Name = resolveName(base, r, l, remote, local)
	merged.IsDeleted = resolveDeleted(base, r, l, remote, local)
	merged.UserAccessKeys = resolveShares(base, r, l, remote, local)
	merged.DocumentHmac = resolveDocumentHmac(base, r, l)
	return merged
}

// resolveDocumentHmac keeps whichever side changed the content since base.
// When both sides changed it to different values, Local's hmac stays on
// this node and the caller materializes a conflict sibling carrying the
// remote content; taking Local here is what keeps the id's own history
// continuous with what this device last wrote.
func resolveDocumentHmac(base *filetree.FileMeta, r, l filetree.FileMeta) *[32]byte {
	var baseDoc *[32]byte
	if base != nil {
		baseDoc = base.DocumentHmac
	}
	switch {
	case documentHmacsEqual(l.DocumentHmac, baseDoc):
		return r.DocumentHmac
	case documentHmacsEqual(r.DocumentHmac, baseDoc):
		return l.DocumentHmac
	default:
		return l.DocumentHmac
	}
}

func resolveParent(base *filetree.FileMeta, r, l filetree.FileMeta, remote, local filetree.SignedFile) uuid.UUID {
	remoteChanged := base == nil || r.Parent != base.Parent
	localChanged := base == nil || l.Parent != base.Parent
	switch {
	case !localChanged:
		return r.Parent
	case !remoteChanged:
		return l.Parent
	case r.Parent == l.Parent:
		return r.Parent
	case wins(local, remote):
		return l.Parent
	default:
		return r.Parent
	}
}

func resolveName(base *filetree.FileMeta, r, l filetree.FileMeta, remote, local filetree.SignedFile) filetree.SecretName {
	remoteChanged := base == nil || r.Name.Hmac != base.Name.Hmac
	localChanged := base == nil || l.Name.Hmac != base.Name.Hmac
	switch {
	case !localChanged:
		return r.Name
	case !remoteChanged:
		return l.Name
	case r.Name.Hmac == l.Name.Hmac:
		return r.Name
	case wins(local, remote):
		return l.Name
	default:
		return r.Name
	}
}

func resolveDeleted(base *filetree.FileMeta, r, l filetree.FileMeta, remote, local filetree.SignedFile) bool {
	remoteChanged := base == nil || r.IsDeleted != base.IsDeleted
	localChanged := base == nil || l.IsDeleted != base.IsDeleted
	switch {
	case !localChanged:
		return r.IsDeleted
	case !remoteChanged:
		return l.IsDeleted
	case r.IsDeleted == l.IsDeleted:
		return r.IsDeleted
	case wins(local, remote):
		return l.IsDeleted
	default:
		// A tombstone should never un-delete silently; once either side
		// wins with IsDeleted=true under a tie-break it stays deleted.
		return r.IsDeleted || l.IsDeleted
	}
}

func resolveShares(base *filetree.FileMeta, r, l filetree.FileMeta, remote, local filetree.SignedFile) map[string]filetree.UserAccessInfo {
	remoteChanged := base == nil || !sharesEqual(base.UserAccessKeys, r.UserAccessKeys)
	localChanged := base == nil || !sharesEqual(base.UserAccessKeys, l.UserAccessKeys)
	switch {
	case !localChanged:
		return cloneShares(r.UserAccessKeys)
	case !remoteChanged:
		return cloneShares(l.UserAccessKeys)
	case sharesEqual(r.UserAccessKeys, l.UserAccessKeys):
		return cloneShares(r.UserAccessKeys)
	case wins(local, remote):
		return cloneShares(l.UserAccessKeys)
	default:
		return cloneShares(r.UserAccessKeys)
	}
}

func sharesEqual(a, b map[string]filetree.UserAccessInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || av.Mode != bv.Mode || av.Deleted != bv.Deleted ||
			!av.EncryptedBy.Equal(bv.EncryptedBy) || !av.Principal.Equal(bv.Principal) {
			return false
		}
	}
	return true
}

func cloneShares(m map[string]filetree.UserAccessInfo) map[string]filetree.UserAccessInfo {
	if m == nil {
		return nil
	}
	out := make(map[string]filetree.UserAccessInfo, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// documentHmacsEqual compares two optional document hmacs.
func documentHmacsEqual(a, b *[32]byte) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
