package core

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/docstore"
	"github.com/lockbook/lockbook/pkg/events"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/filetree/filetreetest"
	"github.com/lockbook/lockbook/pkg/lberrors"
	syncengine "github.com/lockbook/lockbook/pkg/sync"
	"github.com/stretchr/testify/require"
)

// noopTransport answers every sync call as if the server has nothing new
// and accepts everything pushed to it; enough for Core tests that exercise
// local mutation and SyncNow's plumbing without pkg/sync's own behavior.
type noopTransport struct{}

func (noopTransport) GetUpdates(ctx context.Context, since uint64) (syncengine.GetUpdatesResult, error) {
	return syncengine.GetUpdatesResult{}, nil
}

func (noopTransport) Upsert(ctx context.Context, diffs []syncengine.FileDiff) (syncengine.UpsertResult, error) {
	return syncengine.UpsertResult{Rejected: map[uuid.UUID]error{}}, nil
}

func (noopTransport) ChangeDoc(ctx context.Context, id uuid.UUID, oldHmac *[32]byte, newHmac [32]byte, ciphertext []byte) (uint64, error) {
	return 1, nil
}

func (noopTransport) GetDocument(ctx context.Context, id uuid.UUID, hmac [32]byte) ([]byte, error) {
	return nil, lberrors.New(lberrors.ErrFileNotFound, "no such remote blob")
}

func newTestCore(t *testing.T) (*Core, filetreetest.Account, uuid.UUID) {
	t.Helper()
	owner := filetreetest.NewAccount(t, "owner")
	b := filetreetest.NewBuilder(t, owner)
	root := b.Root()

	docs, err := docstore.New(t.TempDir())
	require.NoError(t, err)
	bus := events.NewBus(16)

	c := New(owner, root, b.Map(), make(filetree.Map), docs, noopTransport{}, bus)
	return c, owner, root
}

func TestCore_CreateRenameMoveDelete(t *testing.T) {
	c, _, root := newTestCore(t)

	folderID, err := c.CreateFile(root, "notes", filetree.Folder, uuid.Nil)
	require.NoError(t, err)

	docID, err := c.CreateFile(folderID, "todo.txt", filetree.Document, uuid.Nil)
	require.NoError(t, err)

	p, err := c.FullPath(docID)
	require.NoError(t, err)
	require.Equal(t, "/notes/todo.txt", p)

	require.NoError(t, c.RenameFile(docID, "todo2.txt"))
	p, err = c.FullPath(docID)
	require.NoError(t, err)
	require.Equal(t, "/notes/todo2.txt", p)

	otherFolder, err := c.CreateFile(root, "archive", filetree.Folder, uuid.Nil)
	require.NoError(t, err)
	require.NoError(t, c.MoveFile(docID, otherFolder))
	p, err = c.FullPath(docID)
	require.NoError(t, err)
	require.Equal(t, "/archive/todo2.txt", p)

	require.NoError(t, c.DeleteFile(docID))
	_, err = c.ResolvePath("/archive/todo2.txt")
	require.Error(t, err)
}

func TestCore_DuplicateNameRejected(t *testing.T) {
	c, _, root := newTestCore(t)

	_, err := c.CreateFile(root, "dup", filetree.Document, uuid.Nil)
	require.NoError(t, err)
	_, err = c.CreateFile(root, "dup", filetree.Document, uuid.Nil)
	require.Error(t, err)
}

func TestCore_WriteReadDocumentRoundTrip(t *testing.T) {
	c, _, root := newTestCore(t)

	docID, err := c.CreateFile(root, "note.txt", filetree.Document, uuid.Nil)
	require.NoError(t, err)

	require.NoError(t, c.WriteDocument(docID, nil, []byte("hello world")))
	content, err := c.ReadDocument(docID)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(content))

	// Writing with a stale expectedOld is rejected rather than silently
	// clobbering the newer content.
	err = c.WriteDocument(docID, nil, []byte("stale overwrite"))
	require.Error(t, err)
	require.True(t, lberrors.Is(err, lberrors.ErrReReadRequired))
}

func TestCore_ShareGrantAndUnshare(t *testing.T) {
	c, owner, root := newTestCore(t)
	grantee := filetreetest.NewAccount(t, "grantee")

	folderID, err := c.CreateFile(root, "shared", filetree.Folder, uuid.Nil)
	require.NoError(t, err)

	require.NoError(t, c.ShareFile(folderID, grantee.Username(), grantee.Public(), filetree.Write))

	var granteeSeesShare bool
	err = c.WithView(func(lt *filetree.LazyTree) error {
		f, ok := lt.Tree.MaybeFind(folderID)
		require.True(t, ok)
		info, ok := f.Timestamped.Value.UserAccessKeys[grantee.Username()]
		granteeSeesShare = ok && !info.Deleted
		return nil
	})
	require.NoError(t, err)
	require.True(t, granteeSeesShare)

	require.NoError(t, c.Unshare(folderID, grantee.Username()))
	err = c.WithView(func(lt *filetree.LazyTree) error {
		f, ok := lt.Tree.MaybeFind(folderID)
		require.True(t, ok)
		info := f.Timestamped.Value.UserAccessKeys[grantee.Username()]
		require.True(t, info.Deleted)
		return nil
	})
	require.NoError(t, err)
	_ = owner
}

func TestCore_SyncNow(t *testing.T) {
	c, _, root := newTestCore(t)
	_, err := c.CreateFile(root, "note.txt", filetree.Document, uuid.Nil)
	require.NoError(t, err)

	outcome, err := c.SyncNow(context.Background())
	require.NoError(t, err)
	require.Empty(t, outcome.Rejected)
}

func TestCore_UncompressedUsage(t *testing.T) {
	c, _, root := newTestCore(t)
	docID, err := c.CreateFile(root, "note.txt", filetree.Document, uuid.Nil)
	require.NoError(t, err)
	require.NoError(t, c.WriteDocument(docID, nil, []byte("0123456789")))

	total, err := c.UncompressedUsage()
	require.NoError(t, err)
	require.Equal(t, uint64(10), total)
}
