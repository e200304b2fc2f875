package core_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lockbook/lockbook/pkg/core"
	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/docstore"
	"github.com/lockbook/lockbook/pkg/events"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/keychain"
	"github.com/lockbook/lockbook/pkg/lberrors"
	"github.com/lockbook/lockbook/pkg/server"
	"github.com/lockbook/lockbook/pkg/server/store/memstore"
	"github.com/lockbook/lockbook/pkg/wireclient"
)

// These tests drive full client instances against a real HTTP server
// backed by memstore, the same assembly cmd/lockbookd serves in
// production, so every operation crosses the wire protocol rather than a
// fake transport.

func newWireServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := memstore.New(0)
	router := server.NewRouter(st, server.Config{ClockSkew: crypto.DefaultSkewWindow}, nil)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

// registerAccount creates a fresh account against srv and returns a Core
// wired to it, the way a first device comes up.
func registerAccount(t *testing.T, srv *httptest.Server, username string) (*core.Core, keychain.Account) {
	t.Helper()
	acct, root, err := keychain.NewAccount(username, srv.URL)
	require.NoError(t, err)

	client := wireclient.New(srv.URL, acct.Private())
	require.NoError(t, client.NewAccount(context.Background(), username, acct.Public(), root))

	docs, err := docstore.New(t.TempDir())
	require.NoError(t, err)
	c := core.NewFromFreshAccount(acct, root, docs, client, events.NewBus(16))
	c.SetUsageTransport(client)
	return c, acct
}

// importAccount brings the same account up on a second device: decode the
// exported account string, pull metadata to locate the root, then sync a
// fresh Core from empty state.
func importAccount(t *testing.T, srv *httptest.Server, exported string) *core.Core {
	t.Helper()
	acct, err := keychain.Import(exported)
	require.NoError(t, err)

	client := wireclient.New(srv.URL, acct.Private())
	updates, err := client.GetUpdates(context.Background(), 0)
	require.NoError(t, err)

	rootID := uuid.Nil
	for _, f := range updates.Files {
		meta := f.SignedFile.Timestamped.Value
		if meta.IsRoot() && meta.Owner.Equal(acct.Public()) {
			rootID = meta.Id
		}
	}
	require.NotEqual(t, uuid.Nil, rootID, "server should already hold the account's root")

	docs, err := docstore.New(t.TempDir())
	require.NoError(t, err)
	c := core.NewFromPersisted(acct, rootID, make(filetree.Map), make(filetree.Map), docs, client, events.NewBus(16))

	_, err = c.SyncNow(context.Background())
	require.NoError(t, err)
	return c
}

func TestTwoDevices_DocumentWrittenOnOneIsReadableOnTheOther(t *testing.T) {
	srv := newWireServer(t)
	dev1, acct := registerAccount(t, srv, "alice")
	ctx := context.Background()

	aID, err := dev1.CreateFile(dev1.Root(), "a", filetree.Folder, uuid.Nil)
	require.NoError(t, err)
	bID, err := dev1.CreateFile(aID, "b", filetree.Folder, uuid.Nil)
	require.NoError(t, err)
	cID, err := dev1.CreateFile(bID, "c.md", filetree.Document, uuid.Nil)
	require.NoError(t, err)
	require.NoError(t, dev1.WriteDocument(cID, nil, []byte("hello")))

	outcome, err := dev1.SyncNow(ctx)
	require.NoError(t, err)
	require.Empty(t, outcome.Rejected)
	require.Equal(t, 1, outcome.Pushed)

	exported, err := acct.Export()
	require.NoError(t, err)
	dev2 := importAccount(t, srv, exported)

	gotID, err := dev2.ResolvePath("/a/b/c.md")
	require.NoError(t, err)
	require.Equal(t, cID, gotID)

	content, err := dev2.ReadDocument(gotID)
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))
}

func TestSync_SecondRoundTransfersNothing(t *testing.T) {
	srv := newWireServer(t)
	dev1, _ := registerAccount(t, srv, "alice")
	ctx := context.Background()

	docID, err := dev1.CreateFile(dev1.Root(), "note.md", filetree.Document, uuid.Nil)
	require.NoError(t, err)
	require.NoError(t, dev1.WriteDocument(docID, nil, []byte("content")))

	first, err := dev1.SyncNow(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.Pushed)

	second, err := dev1.SyncNow(ctx)
	require.NoError(t, err)
	require.Empty(t, second.Rejected)
	require.Zero(t, second.Pulled)
	require.Zero(t, second.Pushed)
}

func TestCreate_CaseDistinctNamesBothSucceed(t *testing.T) {
	srv := newWireServer(t)
	dev1, _ := registerAccount(t, srv, "alice")

	_, err := dev1.CreateFile(dev1.Root(), "foo", filetree.Folder, uuid.Nil)
	require.NoError(t, err)
	// Name equality is byte-exact under the keyed HMAC, never
	// locale-folded, so "FOO" is a distinct sibling.
	_, err = dev1.CreateFile(dev1.Root(), "FOO", filetree.Folder, uuid.Nil)
	require.NoError(t, err)

	_, err = dev1.CreateFile(dev1.Root(), "foo", filetree.Folder, uuid.Nil)
	require.Error(t, err)
	require.True(t, lberrors.Is(err, lberrors.ErrFileNameTaken))
}

func TestMove_FolderIntoItsOwnDescendantIsRejected(t *testing.T) {
	srv := newWireServer(t)
	dev1, _ := registerAccount(t, srv, "alice")

	bID, err := dev1.CreateFile(dev1.Root(), "b", filetree.Folder, uuid.Nil)
	require.NoError(t, err)
	cID, err := dev1.CreateFile(bID, "c", filetree.Folder, uuid.Nil)
	require.NoError(t, err)

	err = dev1.MoveFile(bID, cID)
	require.Error(t, err)
	require.True(t, lberrors.Is(err, lberrors.ErrFolderMovedIntoItself))

	// The failed move left the tree untouched.
	p, err := dev1.FullPath(cID)
	require.NoError(t, err)
	require.Equal(t, "/b/c", p)
}

func TestRenameRoot_IsRejected(t *testing.T) {
	srv := newWireServer(t)
	dev1, _ := registerAccount(t, srv, "alice")

	err := dev1.RenameFile(dev1.Root(), "new-name")
	require.Error(t, err)
	require.True(t, lberrors.Is(err, lberrors.ErrRootModificationInvalid))
}

func TestUsage_ServerFigureIsCompressed(t *testing.T) {
	srv := newWireServer(t)
	dev1, _ := registerAccount(t, srv, "alice")
	ctx := context.Background()

	docID, err := dev1.CreateFile(dev1.Root(), "big.md", filetree.Document, uuid.Nil)
	require.NoError(t, err)
	plaintext := make([]byte, 1_000_000) // zeros compress hard
	require.NoError(t, dev1.WriteDocument(docID, nil, plaintext))

	local, err := dev1.UncompressedUsage()
	require.NoError(t, err)
	require.Equal(t, uint64(len(plaintext)), local)

	_, err = dev1.SyncNow(ctx)
	require.NoError(t, err)

	usage, err := dev1.GetUsage(ctx)
	require.NoError(t, err)
	require.Len(t, usage.PerFile, 1)
	require.Less(t, usage.PerFile[0].Size, uint64(len(plaintext)))
}
