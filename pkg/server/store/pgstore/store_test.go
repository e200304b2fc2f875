package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/lockbook/lockbook/pkg/keychain"
	"github.com/lockbook/lockbook/pkg/lberrors"
	"github.com/lockbook/lockbook/pkg/server/store"
	"github.com/lockbook/lockbook/pkg/signed"
	"github.com/stretchr/testify/require"
)

// These tests run only against a real Postgres instance, pointed to by
// LOCKBOOK_TEST_DATABASE_URL; they are skipped otherwise rather than
// standing up an in-process fake, since the thing under test is the
// migration/gorm wiring itself.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LOCKBOOK_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LOCKBOOK_TEST_DATABASE_URL not set")
	}
	s, err := New(context.Background(), Config{DSN: dsn}, 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPgstoreCreateAccountThenGetPublicKey(t *testing.T) {
	s := testStore(t)
	acct, root, err := keychain.NewAccount("pgalice", "http://localhost")
	require.NoError(t, err)

	require.NoError(t, s.CreateAccount(context.Background(), "pgalice", acct.Public(), root))

	pub, err := s.PublicKey(context.Background(), "pgalice")
	require.NoError(t, err)
	require.True(t, pub.Equal(acct.Public()))

	err = s.CreateAccount(context.Background(), "pgalice", acct.Public(), root)
	require.True(t, lberrors.Is(err, lberrors.ErrUsernameTaken))
}

func TestPgstoreUpsertRejectsStaleVersion(t *testing.T) {
	s := testStore(t)
	acct, root, err := keychain.NewAccount("pgbob", "http://localhost")
	require.NoError(t, err)
	require.NoError(t, s.CreateAccount(context.Background(), "pgbob", acct.Public(), root))

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

	rejected, err = s.Upsert(context.Background(), []store.FileDiff{{Old: &stored.SignedFile, New: resigned}})
	require.NoError(t, err)
	require.Contains(t, rejected, meta.Id)
	require.True(t, lberrors.Is(rejected[meta.Id], lberrors.ErrOldVersionRequired))
}
