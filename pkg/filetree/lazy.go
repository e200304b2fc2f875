package filetree

import (
	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/lberrors"
)

// KeyProvider is the current account's identity, as needed to walk the
// access chain. Passed as an explicit dependency rather than read from
// ambient global state, so tests can construct independent instances.
type KeyProvider interface {
	Username() string
	Public() crypto.PublicKey
	Private() crypto.PrivateKey
}

// LazyTree wraps a TreeLike with on-demand, invalidation-aware caches for
// the three things that require walking an ancestor chain to compute: a
// node's decrypted name, its symmetric key, and whether it is implicitly
// deleted. This is the only place
// decryption happens during traversal, so walking an ancestor chain twice
// pays the cryptographic cost once.
type LazyTree struct {
	Tree TreeLike
	Keys KeyProvider

	nameCache    map[uuid.UUID]string
	keyCache     map[uuid.UUID]crypto.AesKey
	deletedCache map[uuid.UUID]bool
}

// NewLazyTree wraps tree with fresh, empty caches.
func NewLazyTree(tree TreeLike, keys KeyProvider) *LazyTree {
	return &LazyTree{
		Tree:         tree,
		Keys:         keys,
		nameCache:    make(map[uuid.UUID]string),
		keyCache:     make(map[uuid.UUID]crypto.AesKey),
		deletedCache: make(map[uuid.UUID]bool),
	}
}

// Invalidate drops every cache entry. Call after any mutation to the
// underlying tree; a LazyTree never observes mutations on its own.
func (lt *LazyTree) Invalidate() {
	lt.nameCache = make(map[uuid.UUID]string)
	lt.keyCache = make(map[uuid.UUID]crypto.AesKey)
	lt.deletedCache = make(map[uuid.UUID]bool)
}

func (lt *LazyTree) find(id uuid.UUID) (SignedFile, error) {
	f, ok := lt.Tree.MaybeFind(id)
	if !ok {
		return SignedFile{}, lberrors.New(lberrors.ErrFileNotFound, "no such file").WithId(id.String())
	}
	return f, nil
}

// ImplicitlyDeleted reports whether id or any ancestor carries a
// tombstone.
func (lt *LazyTree) ImplicitlyDeleted(id uuid.UUID) (bool, error) {
	if v, ok := lt.deletedCache[id]; ok {
		return v, nil
	}
	f, err := lt.find(id)
	if err != nil {
		return false, err
	}
	meta := f.Timestamped.Value
	var result bool
	if meta.IsDeleted {
		result = true
	} else if meta.IsRoot() {
		result = false
	} else if _, ok := lt.Tree.MaybeFind(meta.Parent); !ok && meta.HasUserAccess() {
		// Share root of a pruned replica: the parent lives in the owner's
		// tree, which this replica doesn't hold.
		result = false
	} else {
		parentDeleted, err := lt.ImplicitlyDeleted(meta.Parent)
		if err != nil {
			return false, err
		}
		result = parentDeleted
	}
	lt.deletedCache[id] = result
	return result, nil
}

// Key resolves id's symmetric key by finding the nearest ancestor (possibly
// id itself) with a UserAccessInfo for the current account, decrypting that
// ancestor's key via ECDH, then walking the folder-access-key chain back
// down to id.
func (lt *LazyTree) Key(id uuid.UUID) (crypto.AesKey, error) {
	if k, ok := lt.keyCache[id]; ok {
		return k, nil
	}
	f, err := lt.find(id)
	if err != nil {
		return crypto.AesKey{}, err
	}
	meta := f.Timestamped.Value

	if info, ok := meta.UserAccessKeys[lt.Keys.Username()]; ok && !info.Deleted {
		shared, err := crypto.ECDHShared(lt.Keys.Private(), info.EncryptedBy)
		if err != nil {
			return crypto.AesKey{}, err
		}
		plain, err := crypto.AesGcmDecrypt(crypto.AesKey(shared), info.AccessKey)
		if err != nil {
			return crypto.AesKey{}, lberrors.New(lberrors.ErrAccessInfoInvalid, "access key does not decrypt").WithId(id.String())
		}
		var key crypto.AesKey
		if len(plain) != len(key) {
			return crypto.AesKey{}, lberrors.New(lberrors.ErrAccessInfoInvalid, "decrypted key has wrong length").WithId(id.String())
		}
		copy(key[:], plain)
		lt.keyCache[id] = key
		return key, nil
	}

	if meta.IsRoot() {
		return crypto.AesKey{}, lberrors.New(lberrors.ErrAccessInfoInvalid, "no access info found for current account at root").WithId(id.String())
	}

	parentKey, err := lt.Key(meta.Parent)
	if err != nil {
		return crypto.AesKey{}, err
	}
	plain, err := crypto.AesGcmDecrypt(parentKey, meta.FolderAccessKey)
	if err != nil {
		return crypto.AesKey{}, lberrors.New(lberrors.ErrAccessInfoInvalid, "folder access key does not decrypt").WithId(id.String())
	}
	var key crypto.AesKey
	if len(plain) != len(key) {
		return crypto.AesKey{}, lberrors.New(lberrors.ErrAccessInfoInvalid, "decrypted key has wrong length").WithId(id.String())
	}
	copy(key[:], plain)
	lt.keyCache[id] = key
	return key, nil
}

// Name decrypts id's filename, under the key of id's parent (filenames
// live in the parent's namespace so sibling HMACs are comparable).
func (lt *LazyTree) Name(id uuid.UUID) (string, error) {
	if n, ok := lt.nameCache[id]; ok {
		return n, nil
	}
	f, err := lt.find(id)
	if err != nil {
		return "", err
	}
	meta := f.Timestamped.Value
	parentKey, err := lt.Key(meta.Parent)
	if err != nil {
		return "", err
	}
	plain, err := crypto.AesGcmDecrypt(parentKey, meta.Name.Ciphertext)
	if err != nil {
		return "", lberrors.New(lberrors.ErrDecryption, "filename does not decrypt").WithId(id.String())
	}
	name := string(plain)
	lt.nameCache[id] = name
	return name, nil
}

// EncryptName produces the SecretName for name under key: ciphertext plus
// the HMAC used for equality testing without decryption.
func EncryptName(key crypto.AesKey, name string) (SecretName, error) {
	ev, err := crypto.AesGcmEncrypt(key, []byte(name))
	if err != nil {
		return SecretName{}, err
	}
	return SecretName{Ciphertext: ev, Hmac: crypto.HmacSha256(key, []byte(name))}, nil
}

// NameHmac computes the HMAC a candidate name would have under key, without
// encrypting it, for comparison against existing SecretName.Hmac values.
func NameHmac(key crypto.AesKey, name string) [32]byte {
	return crypto.HmacSha256(key, []byte(name))
}

// Children returns the ids of non-implicitly-deleted direct children of
// parent.
func (lt *LazyTree) Children(parent uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, id := range lt.Tree.Ids() {
		f, ok := lt.Tree.MaybeFind(id)
		if !ok || f.Timestamped.Value.Id == f.Timestamped.Value.Parent {
			continue
		}
		if f.Timestamped.Value.Parent != parent {
			continue
		}
		deleted, err := lt.ImplicitlyDeleted(id)
		if err != nil {
			return nil, err
		}
		if !deleted {
			out = append(out, id)
		}
	}
	return out, nil
}
