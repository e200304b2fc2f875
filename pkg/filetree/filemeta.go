// Package filetree implements the encrypted file-node data model and the
// generic tree abstraction it is stored in: TreeLike/TreeLikeMut, the
// Staged overlay, and the LazyTree decryption cache.
package filetree

import (
	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/signed"
)

// FileType distinguishes documents, folders, and links.
type FileType int

const (
	Document FileType = iota
	Folder
	Link
)

func (t FileType) String() string {
	switch t {
	case Document:
		return "Document"
	case Folder:
		return "Folder"
	case Link:
		return "Link"
	default:
		return "Unknown"
	}
}

// SecretName is a filename ciphertext alongside its HMAC, allowing
// uniqueness checks under a parent without decrypting anything.
type SecretName struct {
	Ciphertext crypto.EncryptedValue
	Hmac       [32]byte
}

// AccessMode is the permission level a UserAccessInfo grants.
type AccessMode int

const (
	Read AccessMode = iota
	Write
	Owner
)

func (m AccessMode) String() string {
	switch m {
	case Read:
		return "Read"
	case Write:
		return "Write"
	case Owner:
		return "Owner"
	default:
		return "Unknown"
	}
}

// Atleast reports whether m grants at least the given level.
func (m AccessMode) Atleast(level AccessMode) bool { return m >= level }

// UserAccessInfo grants Principal access to the symmetric key of the node
// it is attached to. AccessKey is wrapped under the ECDH
// shared secret between EncryptedBy (the granter) and Principal (the
// grantee); either side can rederive the same secret from their own private
// key plus the other's inlined public key, so a verifier never needs an
// external username-to-key directory to tell who an entry names.
type UserAccessInfo struct {
	EncryptedBy crypto.PublicKey
	Principal   crypto.PublicKey
	Mode        AccessMode
	AccessKey   crypto.EncryptedValue // AES(shared_secret(granter_priv, grantee_pub), folder_key)
	Deleted     bool
}

// FileMeta is the plaintext logical record for one node of the tree.
type FileMeta struct {
	Id     uuid.UUID
	Type   FileType
	Target uuid.UUID // valid only when Type == Link
	Parent uuid.UUID
	Owner  crypto.PublicKey
	Name   SecretName

	IsDeleted bool

	// DocumentHmac is set iff Type == Document and it has been written at
	// least once.
	DocumentHmac    *[32]byte
	UserAccessKeys  map[string]UserAccessInfo
	FolderAccessKey crypto.EncryptedValue // this node's key, wrapped under Parent's key

	Version uint64
}

// IsRoot reports whether f is a tree root (its own parent).
func (f FileMeta) IsRoot() bool { return f.Id == f.Parent }

// HasUserAccess reports whether any principal was ever granted at f, live
// or since tombstoned. A node with such an entry may legally appear in a
// tree that does not contain its parent: a grantee's replica holds only
// the shared subtree, and its top node acts as a root for traversal
// purposes — including after the grant was rejected or revoked, until the
// next sync drops the subtree.
func (f FileMeta) HasUserAccess() bool {
	return len(f.UserAccessKeys) > 0
}

// Clone deep-copies f so callers can mutate the copy without aliasing maps.
func (f FileMeta) Clone() FileMeta {
	n := f
	if f.DocumentHmac != nil {
		h := *f.DocumentHmac
		n.DocumentHmac = &h
	}
	if f.UserAccessKeys != nil {
		n.UserAccessKeys = make(map[string]UserAccessInfo, len(f.UserAccessKeys))
		for k, v := range f.UserAccessKeys {
			n.UserAccessKeys[k] = v
		}
	}
	return n
}

// Canonicalize writes f's fields, in a stable order, for signing.
func (f FileMeta) Canonicalize(e *signed.Encoder) {
	e.Opaque(f.Id[:])
	e.Uint64(uint64(f.Type))
	e.Opaque(f.Target[:])
	e.Opaque(f.Parent[:])
	e.Opaque(f.Owner.Bytes())
	e.Opaque(f.Name.Ciphertext.Value)
	e.Opaque(f.Name.Ciphertext.Nonce)
	e.Opaque(f.Name.Hmac[:])
	e.Bool(f.IsDeleted)
	if f.DocumentHmac != nil {
		e.Bool(true)
		e.Opaque(f.DocumentHmac[:])
	} else {
		e.Bool(false)
	}
	e.Opaque(f.FolderAccessKey.Value)
	e.Opaque(f.FolderAccessKey.Nonce)
	// Version is deliberately left out: it is server-assigned bookkeeping,
	// not client-authored content, and the server stamps it onto stored
	// records after the client has already signed them.

	usernames := make([]string, 0, len(f.UserAccessKeys))
	for u := range f.UserAccessKeys {
		usernames = append(usernames, u)
	}
	sortStrings(usernames)
	e.Uint64(uint64(len(usernames)))
	for _, u := range usernames {
		info := f.UserAccessKeys[u]
		e.String(u)
		e.Opaque(info.EncryptedBy.Bytes())
		e.Opaque(info.Principal.Bytes())
		e.Uint64(uint64(info.Mode))
		e.Opaque(info.AccessKey.Value)
		e.Opaque(info.AccessKey.Nonce)
		e.Bool(info.Deleted)
	}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// metaEqual reports FileMeta equality; signatures are never compared here.
func metaEqual(a, b FileMeta) bool {
	if a.Id != b.Id || a.Type != b.Type || a.Target != b.Target || a.Parent != b.Parent ||
		!a.Owner.Equal(b.Owner) || a.Name.Hmac != b.Name.Hmac || a.IsDeleted != b.IsDeleted ||
		a.Version != b.Version {
		return false
	}
	if (a.DocumentHmac == nil) != (b.DocumentHmac == nil) {
		return false
	}
	if a.DocumentHmac != nil && *a.DocumentHmac != *b.DocumentHmac {
		return false
	}
	if len(a.UserAccessKeys) != len(b.UserAccessKeys) {
		return false
	}
	for k, av := range a.UserAccessKeys {
		bv, ok := b.UserAccessKeys[k]
		if !ok || av.Mode != bv.Mode || av.Deleted != bv.Deleted ||
			!av.EncryptedBy.Equal(bv.EncryptedBy) || !av.Principal.Equal(bv.Principal) {
			return false
		}
	}
	return true
}

// SignedFile wraps a timestamped FileMeta with the mutator's signature.
type SignedFile = signed.Signed[FileMeta]

// ServerFile is a SignedFile plus the server-assigned version. FileMeta
// itself also carries Version; ServerFile.Version is the
// value the server most recently confirmed, authoritative over whatever the
// client last wrote to FileMeta.Version locally.
type ServerFile struct {
	SignedFile
	Version uint64
}

// Equal reports whether two SignedFiles carry the same FileMeta and public
// key. Signatures are ignored, so re-signing an unchanged value stays
// idempotent under this comparison.
func Equal(a, b SignedFile) bool {
	return metaEqual(a.Timestamped.Value, b.Timestamped.Value) && a.PublicKey.Equal(b.PublicKey)
}
