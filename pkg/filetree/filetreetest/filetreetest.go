// Package filetreetest builds small, fully-signed encrypted trees for
// tests across pkg/filetree and its validate/path subpackages: a handful
// of exported helpers instead of each test package re-deriving keys and
// signatures by hand.
package filetreetest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/signed"
	"github.com/stretchr/testify/require"
)

// Account is the minimal filetree.KeyProvider backing a fixture: one
// identity keypair under one username.
type Account struct {
	username string
	priv     crypto.PrivateKey
}

func (a Account) Username() string           { return a.username }
func (a Account) Public() crypto.PublicKey   { return a.priv.Public() }
func (a Account) Private() crypto.PrivateKey { return a.priv }

// NewAccount generates a fresh identity for username.
func NewAccount(t *testing.T, username string) Account {
	t.Helper()
	priv, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	return Account{username: username, priv: priv}
}

// Builder accumulates signed files in a filetree.Map, signing every mutation
// with the owning Account's key, the way pkg/core's mutators do outside of
// tests.
type Builder struct {
	t       *testing.T
	tree    filetree.Map
	owner   Account
	keys    map[uuid.UUID]crypto.AesKey // each node's own symmetric key, plaintext, for test convenience
}

// NewBuilder starts a fresh, empty tree owned by owner.
func NewBuilder(t *testing.T, owner Account) *Builder {
	t.Helper()
	return &Builder{t: t, tree: make(filetree.Map), owner: owner, keys: make(map[uuid.UUID]crypto.AesKey)}
}

// Root creates and inserts a root folder owned by b's account, granting the
// account Owner access directly (roots have no parent to wrap a folder
// access key under).
func (b *Builder) Root() uuid.UUID {
	b.t.Helper()
	id := uuid.New()
	key, err := crypto.GenerateAesKey()
	require.NoError(b.t, err)
	b.keys[id] = key

	accessKey := b.wrapForSelf(key)
	meta := filetree.FileMeta{
		Id:     id,
		Type:   filetree.Folder,
		Parent: id,
		Owner:  b.owner.Public(),
		UserAccessKeys: map[string]filetree.UserAccessInfo{
			b.owner.username: {EncryptedBy: b.owner.Public(), Principal: b.owner.Public(), Mode: filetree.Owner, AccessKey: accessKey},
		},
	}
	b.insert(meta)
	return id
}

// Folder creates a folder named name under parent.
func (b *Builder) Folder(parent uuid.UUID, name string) uuid.UUID {
	return b.add(parent, name, filetree.Folder, uuid.Nil)
}

// Document creates a document named name under parent, with no content yet
// (DocumentHmac nil, the never-written state).
func (b *Builder) Document(parent uuid.UUID, name string) uuid.UUID {
	return b.add(parent, name, filetree.Document, uuid.Nil)
}

// Link creates a link named name under parent, pointing at target.
func (b *Builder) Link(parent uuid.UUID, name string, target uuid.UUID) uuid.UUID {
	return b.add(parent, name, filetree.Link, target)
}

func (b *Builder) add(parent uuid.UUID, name string, typ filetree.FileType, target uuid.UUID) uuid.UUID {
	b.t.Helper()
	id := uuid.New()
	parentKey := b.keys[parent]

	var key crypto.AesKey
	var accessKey crypto.EncryptedValue
	if typ == filetree.Folder {
		k, err := crypto.GenerateAesKey()
		require.NoError(b.t, err)
		key = k
		b.keys[id] = key
		wrapped, err := crypto.AesGcmEncrypt(parentKey, key[:])
		require.NoError(b.t, err)
		accessKey = wrapped
	} else {
		// Documents and links still need a folder-access key slot so the key
		// chain has a uniform shape; they reuse the parent's key, wrapped
		// under itself, and Key resolves them to it.
		b.keys[id] = parentKey
		wrapped, err := crypto.AesGcmEncrypt(parentKey, parentKey[:])
		require.NoError(b.t, err)
		accessKey = wrapped
	}

	secretName, err := filetree.EncryptName(parentKey, name)
	require.NoError(b.t, err)

	meta := filetree.FileMeta{
		Id:              id,
		Type:            typ,
		Target:          target,
		Parent:          parent,
		Owner:           b.owner.Public(),
		Name:            secretName,
		FolderAccessKey: accessKey,
	}
	b.insert(meta)
	return id
}

// SetDocumentHmac stamps id with h, as pkg/core does after a successful
// docstore.Store.SafeWrite.
func (b *Builder) SetDocumentHmac(id uuid.UUID, h [32]byte) {
	b.t.Helper()
	f, ok := b.tree.MaybeFind(id)
	require.True(b.t, ok)
	meta := f.Timestamped.Value.Clone()
	meta.DocumentHmac = &h
	meta.Version++
	b.insert(meta)
}

// Delete tombstones id in place (IsDeleted = true), re-signing with the
// owning account.
func (b *Builder) Delete(id uuid.UUID) {
	b.t.Helper()
	f, ok := b.tree.MaybeFind(id)
	require.True(b.t, ok)
	meta := f.Timestamped.Value.Clone()
	meta.IsDeleted = true
	meta.Version++
	b.insert(meta)
}

// ShareWith grants grantee Mode-level access at id, wrapping id's own key
// under the ECDH shared secret between the owning account and grantee.
func (b *Builder) ShareWith(id uuid.UUID, grantee Account, mode filetree.AccessMode) {
	b.t.Helper()
	f, ok := b.tree.MaybeFind(id)
	require.True(b.t, ok)
	meta := f.Timestamped.Value.Clone()

	shared, err := crypto.ECDHShared(b.owner.Private(), grantee.Public())
	require.NoError(b.t, err)
	key := b.keys[id]
	wrapped, err := crypto.AesGcmEncrypt(crypto.AesKey(shared), key[:])
	require.NoError(b.t, err)

	if meta.UserAccessKeys == nil {
		meta.UserAccessKeys = make(map[string]filetree.UserAccessInfo)
	}
	meta.UserAccessKeys[grantee.username] = filetree.UserAccessInfo{
		EncryptedBy: b.owner.Public(),
		Principal:   grantee.Public(),
		Mode:        mode,
		AccessKey:   wrapped,
	}
	meta.Version++
	b.insert(meta)
}

func (b *Builder) wrapForSelf(key crypto.AesKey) crypto.EncryptedValue {
	shared, err := crypto.ECDHShared(b.owner.Private(), b.owner.Public())
	require.NoError(b.t, err)
	wrapped, err := crypto.AesGcmEncrypt(crypto.AesKey(shared), key[:])
	require.NoError(b.t, err)
	return wrapped
}

func (b *Builder) insert(meta filetree.FileMeta) {
	b.t.Helper()
	signedFile, err := signed.Sign(b.owner.Private(), meta, time.Now())
	require.NoError(b.t, err)
	b.tree.Insert(signedFile)
}

// Tree returns a LazyTree over the accumulated files, resolving access for
// as.
func (b *Builder) Tree(as Account) *filetree.LazyTree {
	return filetree.NewLazyTree(b.tree, as)
}

// Map exposes the underlying filetree.Map, e.g. to construct a Staged
// overlay in tests that exercise Staged/Promote directly.
func (b *Builder) Map() filetree.Map { return b.tree }

// Owner returns the account that created the tree.
func (b *Builder) Owner() Account { return b.owner }

// ForgeSignature re-signs id's current revision with signer's key instead of
// the owning account's, without granting signer any access. Tests use this
// to construct the illegal case checkShareLegality must reject: a revision
// whose signer never held Write at that node.
func (b *Builder) ForgeSignature(id uuid.UUID, signer Account) {
	b.t.Helper()
	f, ok := b.tree.MaybeFind(id)
	require.True(b.t, ok)
	meta := f.Timestamped.Value.Clone()
	meta.Version++
	forged, err := signed.Sign(signer.Private(), meta, time.Now())
	require.NoError(b.t, err)
	b.tree.Insert(forged)
}
