package core_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lockbook/lockbook/pkg/filetree"
)

func TestSharing_GranteeCanReadAndWriteThroughALink(t *testing.T) {
	srv := newWireServer(t)
	ctx := context.Background()

	alice, _ := registerAccount(t, srv, "alice")
	bob, bobAcct := registerAccount(t, srv, "bob")

	sharedID, err := alice.CreateFile(alice.Root(), "shared", filetree.Folder, uuid.Nil)
	require.NoError(t, err)
	xID, err := alice.CreateFile(sharedID, "x.md", filetree.Document, uuid.Nil)
	require.NoError(t, err)
	require.NoError(t, alice.WriteDocument(xID, nil, []byte("from alice")))

	require.NoError(t, alice.ShareFile(sharedID, "bob", bobAcct.Public(), filetree.Write))
	outcome, err := alice.SyncNow(ctx)
	require.NoError(t, err)
	require.Empty(t, outcome.Rejected)

	// Bob's pull brings in the shared subtree and nothing of alice's
	// private tree.
	_, err = bob.SyncNow(ctx)
	require.NoError(t, err)
	var bobSeesAliceRoot bool
	require.NoError(t, bob.WithView(func(lt *filetree.LazyTree) error {
		_, bobSeesAliceRoot = lt.Tree.MaybeFind(alice.Root())
		_, hasShared := lt.Tree.MaybeFind(sharedID)
		require.True(t, hasShared, "shared subtree should have been pulled")
		return nil
	}))
	require.False(t, bobSeesAliceRoot, "alice's private tree must not be replicated to bob")

	// Bob mounts the share under his own root and works through the path.
	_, err = bob.CreateFile(bob.Root(), "shared", filetree.Link, sharedID)
	require.NoError(t, err)

	gotX, err := bob.ResolvePath("/shared/x.md")
	require.NoError(t, err)
	require.Equal(t, xID, gotX)

	content, err := bob.ReadDocument(xID)
	require.NoError(t, err)
	require.Equal(t, "from alice", string(content))

	current, err := bob.DocumentHmac(xID)
	require.NoError(t, err)
	require.NoError(t, bob.WriteDocument(xID, current, []byte("from bob")))

	outcome, err = bob.SyncNow(ctx)
	require.NoError(t, err)
	require.Empty(t, outcome.Rejected)

	// Alice's next pull converges on bob's revision.
	_, err = alice.SyncNow(ctx)
	require.NoError(t, err)
	content, err = alice.ReadDocument(xID)
	require.NoError(t, err)
	require.Equal(t, "from bob", string(content))
}

func TestSharing_GranteeCanRejectAndTheRejectionSyncs(t *testing.T) {
	srv := newWireServer(t)
	ctx := context.Background()

	alice, _ := registerAccount(t, srv, "alice")
	bob, bobAcct := registerAccount(t, srv, "bob")

	sharedID, err := alice.CreateFile(alice.Root(), "shared", filetree.Folder, uuid.Nil)
	require.NoError(t, err)
	xID, err := alice.CreateFile(sharedID, "x.md", filetree.Document, uuid.Nil)
	require.NoError(t, err)
	require.NoError(t, alice.WriteDocument(xID, nil, []byte("from alice")))
	require.NoError(t, alice.ShareFile(sharedID, "bob", bobAcct.Public(), filetree.Write))
	_, err = alice.SyncNow(ctx)
	require.NoError(t, err)

	_, err = bob.SyncNow(ctx)
	require.NoError(t, err)
	content, err := bob.ReadDocument(xID)
	require.NoError(t, err)
	require.Equal(t, "from alice", string(content))

	// The rejection itself must validate even though it is signed by the
	// very party whose access it removes.
	require.NoError(t, bob.RejectShare(sharedID))

	require.NoError(t, bob.WithView(func(lt *filetree.LazyTree) error {
		f, ok := lt.Tree.MaybeFind(sharedID)
		require.True(t, ok)
		require.True(t, f.Timestamped.Value.UserAccessKeys["bob"].Deleted)
		return nil
	}))
	_, err = bob.ReadDocument(xID)
	require.Error(t, err, "a rejected share must no longer decrypt")

	outcome, err := bob.SyncNow(ctx)
	require.NoError(t, err)
	require.Empty(t, outcome.Rejected, "the server must accept a self-reject revision")

	// Alice's next pull sees bob's grant tombstoned.
	_, err = alice.SyncNow(ctx)
	require.NoError(t, err)
	require.NoError(t, alice.WithView(func(lt *filetree.LazyTree) error {
		f, ok := lt.Tree.MaybeFind(sharedID)
		require.True(t, ok)
		require.True(t, f.Timestamped.Value.UserAccessKeys["bob"].Deleted)
		return nil
	}))
}

func TestSync_ConcurrentEditsMaterializeAConflictSibling(t *testing.T) {
	srv := newWireServer(t)
	ctx := context.Background()

	dev1, acct := registerAccount(t, srv, "alice")
	xID, err := dev1.CreateFile(dev1.Root(), "x.md", filetree.Document, uuid.Nil)
	require.NoError(t, err)
	require.NoError(t, dev1.WriteDocument(xID, nil, []byte("base")))
	_, err = dev1.SyncNow(ctx)
	require.NoError(t, err)

	exported, err := acct.Export()
	require.NoError(t, err)
	dev2 := importAccount(t, srv, exported)

	// Both devices edit the same document from the same base.
	h1, err := dev1.DocumentHmac(xID)
	require.NoError(t, err)
	require.NoError(t, dev1.WriteDocument(xID, h1, []byte("A")))
	h2, err := dev2.DocumentHmac(xID)
	require.NoError(t, err)
	require.NoError(t, dev2.WriteDocument(xID, h2, []byte("B")))

	_, err = dev1.SyncNow(ctx)
	require.NoError(t, err)
	outcome, err := dev2.SyncNow(ctx)
	require.NoError(t, err)
	require.Empty(t, outcome.Rejected)

	// dev2 kept its own edit on x.md and got dev1's as a deterministic
	// conflict sibling.
	content, err := dev2.ReadDocument(xID)
	require.NoError(t, err)
	require.Equal(t, "B", string(content))

	children, err := dev2.ListChildren(dev2.Root())
	require.NoError(t, err)
	conflictID := uuid.Nil
	for _, id := range children {
		if id == xID {
			continue
		}
		m, err := dev2.Stat(id)
		require.NoError(t, err)
		if strings.HasPrefix(m.Name, "x.md-content-conflict-") {
			conflictID = id
		}
	}
	require.NotEqual(t, uuid.Nil, conflictID, "expected a content-conflict sibling")

	conflictContent, err := dev2.ReadDocument(conflictID)
	require.NoError(t, err)
	require.Equal(t, "A", string(conflictContent))

	// After one more round on each side, both devices converge.
	_, err = dev1.SyncNow(ctx)
	require.NoError(t, err)
	content, err = dev1.ReadDocument(xID)
	require.NoError(t, err)
	require.Equal(t, "B", string(content))
	conflictOnDev1, err := dev1.ReadDocument(conflictID)
	require.NoError(t, err)
	require.Equal(t, "A", string(conflictOnDev1))
}
