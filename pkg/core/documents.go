package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/events"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/lberrors"
	"github.com/lockbook/lockbook/pkg/signed"
)

// DocumentHmac returns id's current content hmac, nil if the document has
// never been written. Editors pass it back to WriteDocument as expectedOld
// so an intervening write is detected instead of clobbered.
func (c *Core) DocumentHmac(id uuid.UUID) (*[32]byte, error) {
	var hmac *[32]byte
	err := c.WithView(func(lt *filetree.LazyTree) error {
		f, ok := lt.Tree.MaybeFind(id)
		if !ok {
			return lberrors.New(lberrors.ErrFileNotFound, "no such file").WithId(id.String())
		}
		meta := f.Timestamped.Value
		if meta.Type != filetree.Document {
			return lberrors.New(lberrors.ErrFileNotDocument, "not a document").WithId(id.String())
		}
		if meta.DocumentHmac != nil {
			h := *meta.DocumentHmac
			hmac = &h
		}
		return nil
	})
	return hmac, err
}

// ReadDocument decrypts id's current content.
func (c *Core) ReadDocument(id uuid.UUID) ([]byte, error) {
	var plaintext []byte
	err := c.WithView(func(lt *filetree.LazyTree) error {
		f, ok := lt.Tree.MaybeFind(id)
		if !ok {
			return lberrors.New(lberrors.ErrFileNotFound, "no such file").WithId(id.String())
		}
		meta := f.Timestamped.Value
		if meta.Type != filetree.Document {
			return lberrors.New(lberrors.ErrFileNotDocument, "not a document").WithId(id.String())
		}
		if meta.DocumentHmac == nil {
			return nil // never written; empty content
		}
		key, err := lt.Key(id)
		if err != nil {
			return err
		}
		p, err := c.docs.Read(id, *meta.DocumentHmac, key)
		if err != nil {
			return err
		}
		plaintext = p
		return nil
	})
	return plaintext, err
}

// WriteDocument runs the document write pipeline:
// compress, encrypt, hash, then stage a metadata update carrying the new
// hmac, only committing either if both the blob write and the metadata
// validation succeed. expectedOld is the hmac the caller last observed (nil
// if it has never read the document); a mismatch means someone else wrote
// it first and the caller must re-read before retrying.
func (c *Core) WriteDocument(id uuid.UUID, expectedOld *[32]byte, plaintext []byte) error {
	touched, err := c.mutate(func(lt *filetree.LazyTree, proposed *filetree.Staged) ([]uuid.UUID, error) {
		f, ok := lt.Tree.MaybeFind(id)
		if !ok {
			return nil, lberrors.New(lberrors.ErrFileNotFound, "no such file").WithId(id.String())
		}
		meta := f.Timestamped.Value
		if meta.Type != filetree.Document {
			return nil, lberrors.New(lberrors.ErrFileNotDocument, "not a document").WithId(id.String())
		}
		key, err := lt.Key(id)
		if err != nil {
			return nil, err
		}

		newHmac, noop, err := c.docs.SafeWrite(id, key, meta.DocumentHmac, expectedOld, plaintext)
		if err != nil {
			return nil, err
		}
		if noop {
			return nil, nil
		}

		next := meta.Clone()
		next.DocumentHmac = &newHmac
		next.Version++
		sf, err := signed.Sign(c.identity.Private(), next, time.Now())
		if err != nil {
			return nil, err
		}
		proposed.Insert(sf)
		return []uuid.UUID{id}, nil
	})
	if err == nil && len(touched) > 0 {
		c.bus.Publish(events.Event{Kind: events.DocumentWritten, Id: id})
	}
	return err
}
