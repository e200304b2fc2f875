// Package access implements the three share transitions: Grant, Reject,
// Unshare. Each produces a new, re-signed SignedFile revision for the
// share root; the caller (pkg/core) is responsible for staging it and
// asking pkg/filetree/validate to accept it before promoting it into
// Local.
package access

import (
	"time"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/filetree/validate"
	"github.com/lockbook/lockbook/pkg/lberrors"
	"github.com/lockbook/lockbook/pkg/signed"
)

// Identity is the current account's identity, as needed to sign a share
// transition.
type Identity interface {
	Username() string
	Private() crypto.PrivateKey
}

// Grant adds a UserAccessInfo for grantee at share root id, wrapping id's
// current symmetric key under ECDH(self, granteePub), and re-signs the
// node as self. Self must already hold Owner or Write at id; the caller
// must re-validate the result before promoting it, since Grant itself does
// not consult pkg/filetree/validate.
func Grant(lt *filetree.LazyTree, self Identity, id uuid.UUID, granteeUsername string, granteePub crypto.PublicKey, mode filetree.AccessMode, now time.Time) (filetree.SignedFile, error) {
	level, found := validate.AccessLevel(lt, id, selfPublic(self))
	if !found || !level.Atleast(filetree.Write) {
		return filetree.SignedFile{}, lberrors.New(lberrors.ErrInsufficientPermission, "self lacks write access at share root").WithId(id.String())
	}

	f, ok := lt.Tree.MaybeFind(id)
	if !ok {
		return filetree.SignedFile{}, lberrors.New(lberrors.ErrFileNotFound, "share root does not exist").WithId(id.String())
	}
	key, err := lt.Key(id)
	if err != nil {
		return filetree.SignedFile{}, err
	}

	shared, err := crypto.ECDHShared(self.Private(), granteePub)
	if err != nil {
		return filetree.SignedFile{}, err
	}
	wrapped, err := crypto.AesGcmEncrypt(crypto.AesKey(shared), key[:])
	if err != nil {
		return filetree.SignedFile{}, err
	}

	meta := f.Timestamped.Value.Clone()
	if existing, ok := meta.UserAccessKeys[granteeUsername]; ok && !existing.Deleted {
		return filetree.SignedFile{}, lberrors.New(lberrors.ErrShareAlreadyExists, "grantee already has access").WithId(id.String())
	}
	if meta.UserAccessKeys == nil {
		meta.UserAccessKeys = make(map[string]filetree.UserAccessInfo)
	}
	meta.UserAccessKeys[granteeUsername] = filetree.UserAccessInfo{
		EncryptedBy: selfPublic(self),
		Principal:   granteePub,
		Mode:        mode,
		AccessKey:   wrapped,
	}
	meta.Version++

	return signed.Sign(self.Private(), meta, now)
}

// Reject marks self's own UserAccessInfo at S deleted, hiding S's subtree
// from self's listings on the next sync. The rejecting party signs this
// revision themselves even though it is the very revision that tombstones
// their access: validate's share-legality check recognizes a signer whose
// own entry is tombstoned as a self-reject, and the server additionally
// verifies the revision changes nothing else.
func Reject(lt *filetree.LazyTree, self Identity, id uuid.UUID, now time.Time) (filetree.SignedFile, error) {
	return setDeleted(lt, self, id, self.Username(), now, lberrors.ErrShareNonexistent)
}

// Unshare marks granteeUsername's UserAccessInfo at S deleted; grantee's
// clients lose decryption of S on their next sync. Self must hold Write or
// Owner at S.
func Unshare(lt *filetree.LazyTree, self Identity, id uuid.UUID, granteeUsername string, now time.Time) (filetree.SignedFile, error) {
	level, found := validate.AccessLevel(lt, id, selfPublic(self))
	if !found || !level.Atleast(filetree.Write) {
		return filetree.SignedFile{}, lberrors.New(lberrors.ErrInsufficientPermission, "self lacks write access at share root").WithId(id.String())
	}
	return setDeleted(lt, self, id, granteeUsername, now, lberrors.ErrShareNonexistent)
}

func setDeleted(lt *filetree.LazyTree, self Identity, id uuid.UUID, username string, now time.Time, missingCode lberrors.Code) (filetree.SignedFile, error) {
	f, ok := lt.Tree.MaybeFind(id)
	if !ok {
		return filetree.SignedFile{}, lberrors.New(lberrors.ErrFileNotFound, "share root does not exist").WithId(id.String())
	}
	meta := f.Timestamped.Value.Clone()
	info, ok := meta.UserAccessKeys[username]
	if !ok || info.Deleted {
		return filetree.SignedFile{}, lberrors.New(missingCode, "no active share for that user").WithId(id.String())
	}
	info.Deleted = true
	meta.UserAccessKeys[username] = info
	meta.Version++

	return signed.Sign(self.Private(), meta, now)
}

func selfPublic(self Identity) crypto.PublicKey {
	return self.Private().Public()
}
