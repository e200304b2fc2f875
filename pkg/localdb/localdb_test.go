package localdb_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/keychain"
	"github.com/lockbook/lockbook/pkg/localdb"
	"github.com/lockbook/lockbook/pkg/signed"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *localdb.DB {
	t.Helper()
	db, err := localdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAccountRoundTrip(t *testing.T) {
	db := openTestDB(t)

	acct, _, err := keychain.NewAccount("alice", "https://api.lockbook.net")
	require.NoError(t, err)

	require.NoError(t, db.SaveAccount(acct))

	loaded, err := db.LoadAccount()
	require.NoError(t, err)
	require.Equal(t, acct.Username(), loaded.Username())
	require.True(t, acct.Public().Equal(loaded.Public()))
}

func TestBaseAndLocalMetadataRoundTrip(t *testing.T) {
	db := openTestDB(t)

	acct, root, err := keychain.NewAccount("alice", "https://api.lockbook.net")
	require.NoError(t, err)
	rootID := root.Timestamped.Value.Id

	base := make(filetree.Map)
	base.Insert(root)
	require.NoError(t, db.SaveBase(base))
	require.NoError(t, db.SaveRoot(rootID))

	childMeta := filetree.FileMeta{
		Id:     uuid.New(),
		Type:   filetree.Folder,
		Parent: rootID,
		Owner:  acct.Public(),
	}
	child, err := signed.Sign(acct.Private(), childMeta, time.Now())
	require.NoError(t, err)
	local := make(filetree.Map)
	local.Insert(child)
	require.NoError(t, db.SaveLocal(local))

	loadedBase, err := db.LoadBase()
	require.NoError(t, err)
	require.Len(t, loadedBase, 1)
	require.True(t, filetree.Equal(loadedBase[rootID], root))

	loadedLocal, err := db.LoadLocal()
	require.NoError(t, err)
	require.Len(t, loadedLocal, 1)
	require.True(t, filetree.Equal(loadedLocal[childMeta.Id], child))

	loadedRoot, err := db.LoadRoot()
	require.NoError(t, err)
	require.Equal(t, rootID, loadedRoot)
}

func TestLastSyncedRoundTrip(t *testing.T) {
	db := openTestDB(t)

	ts, err := db.LoadLastSynced()
	require.NoError(t, err)
	require.Zero(t, ts)

	require.NoError(t, db.SaveLastSynced(1234))
	ts, err = db.LoadLastSynced()
	require.NoError(t, err)
	require.EqualValues(t, 1234, ts)
}

func TestPublicKeyCacheRoundTrip(t *testing.T) {
	db := openTestDB(t)

	_, found, err := db.LookupPublicKey("bob")
	require.NoError(t, err)
	require.False(t, found)

	acct, _, err := keychain.NewAccount("bob", "https://api.lockbook.net")
	require.NoError(t, err)
	require.NoError(t, db.CachePublicKey("bob", acct.Public()))

	pub, found, err := db.LookupPublicKey("bob")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, pub.Equal(acct.Public()))
}

func TestScheduledCleanupsRoundTrip(t *testing.T) {
	db := openTestDB(t)

	paths, err := db.LoadScheduledCleanups()
	require.NoError(t, err)
	require.Empty(t, paths)

	want := []string{"/a/1-abc", "/a/2-def"}
	require.NoError(t, db.SaveScheduledCleanups(want))

	got, err := db.LoadScheduledCleanups()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestEnsureLbIDIsStableAcrossCalls(t *testing.T) {
	dir := t.TempDir()

	first, err := localdb.EnsureLbID(dir)
	require.NoError(t, err)

	second, err := localdb.EnsureLbID(dir)
	require.NoError(t, err)

	require.Equal(t, first, second)
}
