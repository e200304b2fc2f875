package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/access"
	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/filetree"
)

// ShareFile grants granteeUsername mode-level access at id.
func (c *Core) ShareFile(id uuid.UUID, granteeUsername string, granteePub crypto.PublicKey, mode filetree.AccessMode) error {
	_, err := c.mutate(func(lt *filetree.LazyTree, proposed *filetree.Staged) ([]uuid.UUID, error) {
		sf, err := access.Grant(lt, c.identity, id, granteeUsername, granteePub, mode, time.Now())
		if err != nil {
			return nil, err
		}
		proposed.Insert(sf)
		return []uuid.UUID{id}, nil
	})
	return err
}

// RejectShare hides id's subtree from the current account's own listings by
// marking its own UserAccessInfo at id deleted.
func (c *Core) RejectShare(id uuid.UUID) error {
	_, err := c.mutate(func(lt *filetree.LazyTree, proposed *filetree.Staged) ([]uuid.UUID, error) {
		sf, err := access.Reject(lt, c.identity, id, time.Now())
		if err != nil {
			return nil, err
		}
		proposed.Insert(sf)
		return []uuid.UUID{id}, nil
	})
	return err
}

// Unshare revokes granteeUsername's access at id.
func (c *Core) Unshare(id uuid.UUID, granteeUsername string) error {
	_, err := c.mutate(func(lt *filetree.LazyTree, proposed *filetree.Staged) ([]uuid.UUID, error) {
		sf, err := access.Unshare(lt, c.identity, id, granteeUsername, time.Now())
		if err != nil {
			return nil, err
		}
		proposed.Insert(sf)
		return []uuid.UUID{id}, nil
	})
	return err
}
