package access_test

import (
	"testing"
	"time"

	"github.com/lockbook/lockbook/pkg/access"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/filetree/filetreetest"
	"github.com/lockbook/lockbook/pkg/filetree/validate"
	"github.com/lockbook/lockbook/pkg/lberrors"
	"github.com/stretchr/testify/require"
)

func TestGrant_OwnerCanShareRoot(t *testing.T) {
	t.Parallel()
	owner := filetreetest.NewAccount(t, "alice")
	grantee := filetreetest.NewAccount(t, "bob")
	b := filetreetest.NewBuilder(t, owner)
	root := b.Root()

	lt := b.Tree(owner)
	rev, err := access.Grant(lt, owner, root, grantee.Username(), grantee.Public(), filetree.Write, time.Now())
	require.NoError(t, err)

	b.Map().Insert(rev)
	lt.Invalidate()
	require.NoError(t, validate.Validate(lt))

	granteeTree := b.Tree(grantee)
	_, err = granteeTree.Key(root)
	require.NoError(t, err, "grantee must be able to decrypt the shared root's key")
}

func TestGrant_NonOwnerWithoutWriteIsRejected(t *testing.T) {
	t.Parallel()
	owner := filetreetest.NewAccount(t, "alice")
	reader := filetreetest.NewAccount(t, "bob")
	thirdParty := filetreetest.NewAccount(t, "carol")
	b := filetreetest.NewBuilder(t, owner)
	root := b.Root()
	b.ShareWith(root, reader, filetree.Read)

	lt := b.Tree(reader)
	_, err := access.Grant(lt, reader, root, thirdParty.Username(), thirdParty.Public(), filetree.Read, time.Now())
	require.Error(t, err)
	require.True(t, lberrors.Is(err, lberrors.ErrInsufficientPermission))
}

func TestGrant_AlreadySharedIsRejected(t *testing.T) {
	t.Parallel()
	owner := filetreetest.NewAccount(t, "alice")
	grantee := filetreetest.NewAccount(t, "bob")
	b := filetreetest.NewBuilder(t, owner)
	root := b.Root()
	b.ShareWith(root, grantee, filetree.Read)

	lt := b.Tree(owner)
	_, err := access.Grant(lt, owner, root, grantee.Username(), grantee.Public(), filetree.Write, time.Now())
	require.Error(t, err)
	require.True(t, lberrors.Is(err, lberrors.ErrShareAlreadyExists))
}

func TestUnshare_RevokesGranteeAccess(t *testing.T) {
	t.Parallel()
	owner := filetreetest.NewAccount(t, "alice")
	grantee := filetreetest.NewAccount(t, "bob")
	b := filetreetest.NewBuilder(t, owner)
	root := b.Root()
	b.ShareWith(root, grantee, filetree.Write)

	lt := b.Tree(owner)
	rev, err := access.Unshare(lt, owner, root, grantee.Username(), time.Now())
	require.NoError(t, err)
	b.Map().Insert(rev)
	lt.Invalidate()

	granteeTree := b.Tree(grantee)
	_, err = granteeTree.Key(root)
	require.Error(t, err, "an unshared grantee must no longer resolve the root's key")
}

func TestReject_SelfCanDropOwnAccessWithoutWritePermission(t *testing.T) {
	t.Parallel()
	owner := filetreetest.NewAccount(t, "alice")
	reader := filetreetest.NewAccount(t, "bob")
	b := filetreetest.NewBuilder(t, owner)
	root := b.Root()
	b.ShareWith(root, reader, filetree.Read)

	lt := b.Tree(reader)
	rev, err := access.Reject(lt, reader, root, time.Now())
	require.NoError(t, err)
	b.Map().Insert(rev)
	lt.Invalidate()

	// The rejected revision is signed by a party with no remaining
	// access, and must still validate — for the rejecter and the owner
	// alike.
	require.NoError(t, validate.Validate(b.Tree(reader)))
	require.NoError(t, validate.Validate(b.Tree(owner)))

	readerTree := b.Tree(reader)
	_, err = readerTree.Key(root)
	require.Error(t, err)
}

func TestUnshare_NonexistentGranteeFails(t *testing.T) {
	t.Parallel()
	owner := filetreetest.NewAccount(t, "alice")
	stranger := filetreetest.NewAccount(t, "eve")
	b := filetreetest.NewBuilder(t, owner)
	root := b.Root()

	lt := b.Tree(owner)
	_, err := access.Unshare(lt, owner, root, stranger.Username(), time.Now())
	require.Error(t, err)
	require.True(t, lberrors.Is(err, lberrors.ErrShareNonexistent))
}
