package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/keychain"
	"github.com/lockbook/lockbook/pkg/lberrors"
	"github.com/lockbook/lockbook/pkg/server/store"
	"github.com/lockbook/lockbook/pkg/signed"
	"github.com/stretchr/testify/require"
)

func TestCreateAccountThenGetPublicKey(t *testing.T) {
	s := New(0)
	acct, root, err := keychain.NewAccount("alice", "http://localhost")
	require.NoError(t, err)

	require.NoError(t, s.CreateAccount(context.Background(), "alice", acct.Public(), root))

	pub, err := s.PublicKey(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, pub.Equal(acct.Public()))

	err = s.CreateAccount(context.Background(), "alice", acct.Public(), root)
	require.True(t, lberrors.Is(err, lberrors.ErrUsernameTaken))
}

func TestUpsertRejectsStaleVersion(t *testing.T) {
	s := New(0)
	acct, root, err := keychain.NewAccount("bob", "http://localhost")
	require.NoError(t, err)
	require.NoError(t, s.CreateAccount(context.Background(), "bob", acct.Public(), root))

	rootID := root.Timestamped.Value.Id
	updates, _, err := s.UpdatesSince(context.Background(), acct.Public(), 0)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	stored := updates[0]

	meta := stored.SignedFile.Timestamped.Value.Clone()
	meta.Version = stored.Version
	resigned, err := signed.Sign(acct.Private(), meta, time.Now())
	require.NoError(t, err)

	rejected, err := s.Upsert(context.Background(), []store.FileDiff{{Old: &stored.SignedFile, New: resigned}})
	require.NoError(t, err)
	require.Empty(t, rejected)

	// Replaying the same stale Old now fails the version check.
	rejected, err = s.Upsert(context.Background(), []store.FileDiff{{Old: &stored.SignedFile, New: resigned}})
	require.NoError(t, err)
	require.Contains(t, rejected, rootID)
	require.True(t, lberrors.Is(rejected[rootID], lberrors.ErrOldVersionRequired))
}

func TestDocumentRoundTrip(t *testing.T) {
	s := New(0)
	acct, root, err := keychain.NewAccount("carol", "http://localhost")
	require.NoError(t, err)
	require.NoError(t, s.CreateAccount(context.Background(), "carol", acct.Public(), root))

	rootID := root.Timestamped.Value.Id
	docMeta := filetree.FileMeta{
		Id:     uuid.New(),
		Type:   filetree.Document,
		Parent: rootID,
		Owner:  acct.Public(),
	}
	signedDoc, err := signed.Sign(acct.Private(), docMeta, time.Now())
	require.NoError(t, err)

	rejected, err := s.Upsert(context.Background(), []store.FileDiff{{New: signedDoc}})
	require.NoError(t, err)
	require.Empty(t, rejected)

	key, err := crypto.GenerateAesKey()
	require.NoError(t, err)
	ciphertext, err := crypto.AesGcmEncrypt(key, []byte("hello"))
	require.NoError(t, err)
	hmac := crypto.HmacSha256(key, ciphertext.Value)

	_, err = s.PutDocument(context.Background(), docMeta.Id, nil, hmac, ciphertext.Value)
	require.NoError(t, err)

	got, err := s.GetDocument(context.Background(), docMeta.Id, hmac)
	require.NoError(t, err)
	require.Equal(t, ciphertext.Value, got)

	usage, _, err := s.Usage(context.Background(), acct.Public())
	require.NoError(t, err)
	require.Len(t, usage, 1)
	require.Equal(t, uint64(len(ciphertext.Value)), usage[0].Size)
}

func TestPurgeRequiresDeletedFile(t *testing.T) {
	s := New(0)
	acct, root, err := keychain.NewAccount("dave", "http://localhost")
	require.NoError(t, err)
	require.NoError(t, s.CreateAccount(context.Background(), "dave", acct.Public(), root))

	rootID := root.Timestamped.Value.Id

	require.Error(t, s.Purge(context.Background(), uuid.New()))

	err = s.Purge(context.Background(), rootID)
	require.True(t, lberrors.Is(err, lberrors.ErrInvalidArgument))
}

func TestPurgeRemovesDeletedFileAndDocument(t *testing.T) {
	s := New(0)
	acct, root, err := keychain.NewAccount("erin", "http://localhost")
	require.NoError(t, err)
	require.NoError(t, s.CreateAccount(context.Background(), "erin", acct.Public(), root))

	rootID := root.Timestamped.Value.Id
	docMeta := filetree.FileMeta{
		Id:     uuid.New(),
		Type:   filetree.Document,
		Parent: rootID,
		Owner:  acct.Public(),
	}
	signedDoc, err := signed.Sign(acct.Private(), docMeta, time.Now())
	require.NoError(t, err)
	rejected, err := s.Upsert(context.Background(), []store.FileDiff{{New: signedDoc}})
	require.NoError(t, err)
	require.Empty(t, rejected)

	key, err := crypto.GenerateAesKey()
	require.NoError(t, err)
	ciphertext, err := crypto.AesGcmEncrypt(key, []byte("goodbye"))
	require.NoError(t, err)
	hmac := crypto.HmacSha256(key, ciphertext.Value)
	_, err = s.PutDocument(context.Background(), docMeta.Id, nil, hmac, ciphertext.Value)
	require.NoError(t, err)

	updates, _, err := s.UpdatesSince(context.Background(), acct.Public(), 0)
	require.NoError(t, err)
	var stored filetree.ServerFile
	for _, f := range updates {
		if f.Timestamped.Value.Id == docMeta.Id {
			stored = f
		}
	}
	require.NotEqual(t, uuid.Nil, stored.Timestamped.Value.Id)

	deletedMeta := stored.SignedFile.Timestamped.Value.Clone()
	deletedMeta.IsDeleted = true
	deletedMeta.Version = stored.Version
	deletedMeta.DocumentHmac = &hmac
	resigned, err := signed.Sign(acct.Private(), deletedMeta, time.Now())
	require.NoError(t, err)
	rejected, err = s.Upsert(context.Background(), []store.FileDiff{{Old: &stored.SignedFile, New: resigned}})
	require.NoError(t, err)
	require.Empty(t, rejected)

	require.NoError(t, s.Purge(context.Background(), docMeta.Id))

	_, err = s.GetDocument(context.Background(), docMeta.Id, hmac)
	require.True(t, lberrors.Is(err, lberrors.ErrFileNotFound))

	updates, _, err = s.UpdatesSince(context.Background(), acct.Public(), 0)
	require.NoError(t, err)
	for _, f := range updates {
		require.NotEqual(t, docMeta.Id, f.Timestamped.Value.Id)
	}
}
