// Package path implements path↔id translation: walking a human path
// left-to-right through a LazyTree using secret-filename HMACs, without
// ever decrypting a segment that isn't on the path.
package path

import (
	"strings"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/lberrors"
)

// Split breaks a path into its non-empty segments, failing if the path
// contains an empty segment ("//", or a stray slash around nothing that
// isn't the leading or trailing one).
func Split(p string) ([]string, error) {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil, nil
	}
	segments := strings.Split(trimmed, "/")
	for _, s := range segments {
		if s == "" {
			return nil, lberrors.New(lberrors.ErrPathContainsEmptyFileName, "path contains an empty segment")
		}
	}
	return segments, nil
}

// GetByPath resolves p, starting at root, returning the id of the final
// segment. An empty path (after trimming slashes) resolves to root itself.
func GetByPath(lt *filetree.LazyTree, root uuid.UUID, p string) (uuid.UUID, error) {
	segments, err := Split(p)
	if err != nil {
		return uuid.Nil, err
	}
	current := root
	for _, segment := range segments {
		key, err := lt.Key(current)
		if err != nil {
			return uuid.Nil, err
		}
		target := filetree.NameHmac(key, segment)

		children, err := lt.Children(current)
		if err != nil {
			return uuid.Nil, err
		}
		found := uuid.Nil
		for _, childId := range children {
			f, ok := lt.Tree.MaybeFind(childId)
			if !ok {
				continue
			}
			if f.Timestamped.Value.Name.Hmac == target {
				found = childId
				break
			}
		}
		if found == uuid.Nil {
			return uuid.Nil, lberrors.New(lberrors.ErrFileNotFound, "no child with that name").WithId(current.String())
		}
		// A link segment resolves to its target, so a mounted share is
		// traversable by path from the account's own root.
		if f, ok := lt.Tree.MaybeFind(found); ok && f.Timestamped.Value.Type == filetree.Link {
			found = f.Timestamped.Value.Target
		}
		current = found
	}
	return current, nil
}

// CheckNameAvailable fails with FileNameTaken if a non-deleted sibling of
// parent already has name, ignoring the file identified by except (so
// renaming a file to its own current name is not an error).
func CheckNameAvailable(lt *filetree.LazyTree, parent uuid.UUID, name string, except uuid.UUID) error {
	key, err := lt.Key(parent)
	if err != nil {
		return err
	}
	target := filetree.NameHmac(key, name)

	children, err := lt.Children(parent)
	if err != nil {
		return err
	}
	for _, childId := range children {
		if childId == except {
			continue
		}
		f, ok := lt.Tree.MaybeFind(childId)
		if !ok {
			continue
		}
		if f.Timestamped.Value.Name.Hmac == target {
			return lberrors.New(lberrors.ErrFileNameTaken, "name already used by a sibling").WithId(parent.String())
		}
	}
	return nil
}

// FullPath reconstructs the human path to id by decrypting names up the
// ancestor chain.
func FullPath(lt *filetree.LazyTree, id uuid.UUID) (string, error) {
	var segments []string
	cur := id
	for {
		f, ok := lt.Tree.MaybeFind(cur)
		if !ok {
			return "", lberrors.New(lberrors.ErrFileNotFound, "no such file").WithId(cur.String())
		}
		meta := f.Timestamped.Value
		if meta.IsRoot() {
			break
		}
		name, err := lt.Name(cur)
		if err != nil {
			return "", err
		}
		segments = append([]string{name}, segments...)
		cur = meta.Parent
	}
	return "/" + strings.Join(segments, "/"), nil
}
