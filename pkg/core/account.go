package core

import (
	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/docstore"
	"github.com/lockbook/lockbook/pkg/events"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/keychain"
	syncengine "github.com/lockbook/lockbook/pkg/sync"
)

// NewFromFreshAccount builds a Core for an account keychain.NewAccount
// just generated and the caller has already registered with the server
// (the root folder is created locally, then POSTed, before any other
// operation is legal). root is seeded straight into Base, since the server
// is expected to already hold the identical signed record.
func NewFromFreshAccount(acct keychain.Account, root filetree.SignedFile, docs *docstore.Store, transport syncengine.Transport, bus *events.Bus) *Core {
	rootID := root.Timestamped.Value.Id
	base := filetree.Map{rootID: root}
	return New(acct, rootID, base, make(filetree.Map), docs, transport, bus)
}

// NewFromPersisted builds a Core for an account restored from pkg/localdb,
// with its Base/Local maps already loaded from the last session. rootID is
// whichever id in base has Id == Parent for acct's own identity.
func NewFromPersisted(acct keychain.Account, rootID uuid.UUID, base, local filetree.Map, docs *docstore.Store, transport syncengine.Transport, bus *events.Bus) *Core {
	return New(acct, rootID, base, local, docs, transport, bus)
}
