package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/events"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/filetree/path"
	"github.com/lockbook/lockbook/pkg/lberrors"
	"github.com/lockbook/lockbook/pkg/signed"
)

// CreateFile adds a new Folder, Document, or Link named name under parent,
// owned by the current account, and stages it into Local. For folders this
// generates a fresh symmetric key wrapped under parent's; for documents
// and links it reuses parent's key directly, so every node still carries a
// folder-access-key slot and the key chain keeps a uniform shape.
func (c *Core) CreateFile(parent uuid.UUID, name string, typ filetree.FileType, target uuid.UUID) (uuid.UUID, error) {
	var newID uuid.UUID
	_, err := c.mutate(func(lt *filetree.LazyTree, proposed *filetree.Staged) ([]uuid.UUID, error) {
		if err := path.CheckNameAvailable(lt, parent, name, uuid.Nil); err != nil {
			return nil, err
		}
		parentKey, err := lt.Key(parent)
		if err != nil {
			return nil, err
		}

		id := uuid.New()
		var accessKey crypto.EncryptedValue
		if typ == filetree.Folder {
			key, err := crypto.GenerateAesKey()
			if err != nil {
				return nil, err
			}
			wrapped, err := crypto.AesGcmEncrypt(parentKey, key[:])
			if err != nil {
				return nil, err
			}
			accessKey = wrapped
		} else {
			wrapped, err := crypto.AesGcmEncrypt(parentKey, parentKey[:])
			if err != nil {
				return nil, err
			}
			accessKey = wrapped
		}

		secretName, err := filetree.EncryptName(parentKey, name)
		if err != nil {
			return nil, err
		}

		meta := filetree.FileMeta{
			Id:              id,
			Type:            typ,
			Target:          target,
			Parent:          parent,
			Owner:           c.identity.Public(),
			Name:            secretName,
			FolderAccessKey: accessKey,
		}
		sf, err := signed.Sign(c.identity.Private(), meta, time.Now())
		if err != nil {
			return nil, err
		}
		proposed.Insert(sf)
		newID = id
		return []uuid.UUID{id}, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return newID, nil
}

// RenameFile changes id's name within its current parent.
func (c *Core) RenameFile(id uuid.UUID, newName string) error {
	_, err := c.mutate(func(lt *filetree.LazyTree, proposed *filetree.Staged) ([]uuid.UUID, error) {
		f, ok := lt.Tree.MaybeFind(id)
		if !ok {
			return nil, lberrors.New(lberrors.ErrFileNotFound, "no such file").WithId(id.String())
		}
		meta := f.Timestamped.Value
		if meta.IsRoot() {
			return nil, lberrors.New(lberrors.ErrRootModificationInvalid, "cannot rename the root").WithId(id.String())
		}
		if err := path.CheckNameAvailable(lt, meta.Parent, newName, id); err != nil {
			return nil, err
		}
		parentKey, err := lt.Key(meta.Parent)
		if err != nil {
			return nil, err
		}
		secretName, err := filetree.EncryptName(parentKey, newName)
		if err != nil {
			return nil, err
		}
		next := meta.Clone()
		next.Name = secretName
		next.Version++
		sf, err := signed.Sign(c.identity.Private(), next, time.Now())
		if err != nil {
			return nil, err
		}
		proposed.Insert(sf)
		return []uuid.UUID{id}, nil
	})
	return err
}

// MoveFile reparents id under newParent, re-wrapping id's access key under
// newParent's key. Descendants need no re-wrap: their keys chain through
// id's own key, which does not change, so only id's FolderAccessKey is
// re-sealed here.
func (c *Core) MoveFile(id, newParent uuid.UUID) error {
	_, err := c.mutate(func(lt *filetree.LazyTree, proposed *filetree.Staged) ([]uuid.UUID, error) {
		f, ok := lt.Tree.MaybeFind(id)
		if !ok {
			return nil, lberrors.New(lberrors.ErrFileNotFound, "no such file").WithId(id.String())
		}
		meta := f.Timestamped.Value
		if meta.IsRoot() {
			return nil, lberrors.New(lberrors.ErrRootModificationInvalid, "cannot move the root").WithId(id.String())
		}
		if meta.Parent == newParent {
			return []uuid.UUID{id}, nil
		}
		cur := newParent
		for {
			if cur == id {
				return nil, lberrors.New(lberrors.ErrFolderMovedIntoItself, "destination is inside the folder being moved").WithId(id.String())
			}
			f, ok := lt.Tree.MaybeFind(cur)
			if !ok || f.Timestamped.Value.IsRoot() {
				break
			}
			cur = f.Timestamped.Value.Parent
		}
		name, err := lt.Name(id)
		if err != nil {
			return nil, err
		}
		if err := path.CheckNameAvailable(lt, newParent, name, id); err != nil {
			return nil, err
		}

		oldKey, err := lt.Key(id)
		if err != nil {
			return nil, err
		}
		newParentKey, err := lt.Key(newParent)
		if err != nil {
			return nil, err
		}
		wrapped, err := crypto.AesGcmEncrypt(newParentKey, oldKey[:])
		if err != nil {
			return nil, err
		}
		secretName, err := filetree.EncryptName(newParentKey, name)
		if err != nil {
			return nil, err
		}

		next := meta.Clone()
		next.Parent = newParent
		next.FolderAccessKey = wrapped
		next.Name = secretName
		next.Version++
		sf, err := signed.Sign(c.identity.Private(), next, time.Now())
		if err != nil {
			return nil, err
		}
		proposed.Insert(sf)
		return []uuid.UUID{id}, nil
	})
	return err
}

// DeleteFile tombstones id. Deletion never removes the record, only flags
// it; implicit deletion cascades to descendants via
// LazyTree.ImplicitlyDeleted.
func (c *Core) DeleteFile(id uuid.UUID) error {
	touched, err := c.mutate(func(lt *filetree.LazyTree, proposed *filetree.Staged) ([]uuid.UUID, error) {
		f, ok := lt.Tree.MaybeFind(id)
		if !ok {
			return nil, lberrors.New(lberrors.ErrFileNotFound, "no such file").WithId(id.String())
		}
		meta := f.Timestamped.Value
		if meta.IsRoot() {
			return nil, lberrors.New(lberrors.ErrCannotDeleteRoot, "cannot delete the root").WithId(id.String())
		}
		next := meta.Clone()
		next.IsDeleted = true
		next.Version++
		sf, err := signed.Sign(c.identity.Private(), next, time.Now())
		if err != nil {
			return nil, err
		}
		proposed.Insert(sf)
		return []uuid.UUID{id}, nil
	})
	if err == nil && len(touched) > 0 {
		c.bus.Publish(events.Event{Kind: events.FileRemoved, Id: id})
	}
	return err
}

// ResolvePath resolves a human path under root to its file id.
func (c *Core) ResolvePath(p string) (uuid.UUID, error) {
	var id uuid.UUID
	err := c.WithView(func(lt *filetree.LazyTree) error {
		resolved, err := path.GetByPath(lt, c.root, p)
		if err != nil {
			return err
		}
		id = resolved
		return nil
	})
	return id, err
}

// FullPath reconstructs id's human path by decrypting names up its
// ancestor chain.
func (c *Core) FullPath(id uuid.UUID) (string, error) {
	var p string
	err := c.WithView(func(lt *filetree.LazyTree) error {
		resolved, err := path.FullPath(lt, id)
		if err != nil {
			return err
		}
		p = resolved
		return nil
	})
	return p, err
}

// ListChildren returns id's non-implicitly-deleted direct children.
func (c *Core) ListChildren(id uuid.UUID) ([]uuid.UUID, error) {
	var children []uuid.UUID
	err := c.WithView(func(lt *filetree.LazyTree) error {
		cs, err := lt.Children(id)
		if err != nil {
			return err
		}
		children = cs
		return nil
	})
	return children, err
}

// Metadata is the decrypted view of a file's current FileMeta, name
// included.
type Metadata struct {
	Id        uuid.UUID
	Type      filetree.FileType
	Parent    uuid.UUID
	Name      string
	IsDeleted bool
}

// Stat returns id's decrypted metadata as seen through the current account.
func (c *Core) Stat(id uuid.UUID) (Metadata, error) {
	var m Metadata
	err := c.WithView(func(lt *filetree.LazyTree) error {
		f, ok := lt.Tree.MaybeFind(id)
		if !ok {
			return lberrors.New(lberrors.ErrFileNotFound, "no such file").WithId(id.String())
		}
		name, err := lt.Name(id)
		if err != nil {
			if !f.Timestamped.Value.IsRoot() {
				return err
			}
			name = ""
		}
		meta := f.Timestamped.Value
		m = Metadata{Id: meta.Id, Type: meta.Type, Parent: meta.Parent, Name: name, IsDeleted: meta.IsDeleted}
		return nil
	})
	return m, err
}

