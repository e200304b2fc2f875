package core

import (
	"context"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/lberrors"
)

// FileUsage is one document's server-reported, compressed blob size.
type FileUsage struct {
	Id   uuid.UUID
	Size uint64
}

// ServerUsage is GetUsage's decoded response: the account's per-file
// compressed storage and the plan's byte cap.
type ServerUsage struct {
	PerFile []FileUsage
	Cap     uint64
}

// UsageTransport is the one server method pkg/core needs for usage
// reporting; kept separate from pkg/sync.Transport since a usage query
// isn't part of a sync round. pkg/wireclient.Client satisfies this too.
type UsageTransport interface {
	GetUsage(ctx context.Context) (ServerUsage, error)
}

// GetUsage returns the server's compressed, billed usage figure. It
// requires network access, unlike UncompressedUsage.
func (c *Core) GetUsage(ctx context.Context) (ServerUsage, error) {
	if c.usage == nil {
		return ServerUsage{}, lberrors.New(lberrors.ErrUnexpected, "no usage transport configured")
	}
	return c.usage.GetUsage(ctx)
}

// UncompressedUsage sums the plaintext length of every document this
// account currently sees (owned or shared), decrypting locally rather than
// asking the server. The two figures differ because stored blobs are
// compressed before encryption.
func (c *Core) UncompressedUsage() (uint64, error) {
	var total uint64
	err := c.WithView(func(lt *filetree.LazyTree) error {
		documents := make(map[uuid.UUID][32]byte)
		for _, id := range lt.Tree.Ids() {
			f, ok := lt.Tree.MaybeFind(id)
			if !ok {
				continue
			}
			meta := f.Timestamped.Value
			if meta.Type != filetree.Document || meta.IsDeleted || meta.DocumentHmac == nil {
				continue
			}
			if deleted, err := lt.ImplicitlyDeleted(id); err != nil || deleted {
				continue
			}
			documents[id] = *meta.DocumentHmac
		}
		sum, err := c.docs.UncompressedUsage(lt, documents)
		if err != nil {
			return err
		}
		total = sum
		return nil
	})
	return total, err
}
