package path_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/filetree/filetreetest"
	"github.com/lockbook/lockbook/pkg/filetree/path"
	"github.com/lockbook/lockbook/pkg/lberrors"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	t.Parallel()
	segments, err := path.Split("/docs/notes/todo.md")
	require.NoError(t, err)
	require.Equal(t, []string{"docs", "notes", "todo.md"}, segments)

	segments, err = path.Split("/")
	require.NoError(t, err)
	require.Nil(t, segments)

	_, err = path.Split("/docs//todo.md")
	require.Error(t, err)
	require.True(t, lberrors.Is(err, lberrors.ErrPathContainsEmptyFileName))
}

func TestGetByPath_ResolvesNestedFile(t *testing.T) {
	t.Parallel()
	owner := filetreetest.NewAccount(t, "alice")
	b := filetreetest.NewBuilder(t, owner)
	root := b.Root()
	docs := b.Folder(root, "docs")
	todo := b.Document(docs, "todo.md")

	lt := b.Tree(owner)

	id, err := path.GetByPath(lt, root, "/docs/todo.md")
	require.NoError(t, err)
	require.Equal(t, todo, id)

	id, err = path.GetByPath(lt, root, "")
	require.NoError(t, err)
	require.Equal(t, root, id)
}

func TestGetByPath_MissingSegmentIsNotFound(t *testing.T) {
	t.Parallel()
	owner := filetreetest.NewAccount(t, "alice")
	b := filetreetest.NewBuilder(t, owner)
	root := b.Root()
	b.Folder(root, "docs")

	lt := b.Tree(owner)
	_, err := path.GetByPath(lt, root, "/docs/missing.md")
	require.Error(t, err)
	require.True(t, lberrors.Is(err, lberrors.ErrFileNotFound))
}

func TestCheckNameAvailable(t *testing.T) {
	t.Parallel()
	owner := filetreetest.NewAccount(t, "alice")
	b := filetreetest.NewBuilder(t, owner)
	root := b.Root()
	existing := b.Document(root, "todo.md")

	lt := b.Tree(owner)

	err := path.CheckNameAvailable(lt, root, "todo.md", existing)
	require.NoError(t, err, "renaming a file to its own current name must be allowed")

	err = path.CheckNameAvailable(lt, root, "todo.md", uuid.Nil)
	require.Error(t, err)
	require.True(t, lberrors.Is(err, lberrors.ErrFileNameTaken))

	err = path.CheckNameAvailable(lt, root, "plan.md", uuid.Nil)
	require.NoError(t, err)
}

func TestFullPath(t *testing.T) {
	t.Parallel()
	owner := filetreetest.NewAccount(t, "alice")
	b := filetreetest.NewBuilder(t, owner)
	root := b.Root()
	docs := b.Folder(root, "docs")
	todo := b.Document(docs, "todo.md")

	lt := b.Tree(owner)

	full, err := path.FullPath(lt, todo)
	require.NoError(t, err)
	require.Equal(t, "/docs/todo.md", full)

	full, err = path.FullPath(lt, root)
	require.NoError(t, err)
	require.Equal(t, "/", full)
}
