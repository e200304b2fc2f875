package filetree

import "github.com/google/uuid"

// TreeLike is implemented by any container of SignedFiles keyed by id: a
// plain map, a Staged overlay, or a persistence-backed store. The surface
// is kept small so the validation and path-resolution hot paths stay
// generic over storage.
type TreeLike interface {
	// Ids returns every id present in the tree.
	Ids() []uuid.UUID
	// MaybeFind looks up id, reporting whether it exists.
	MaybeFind(id uuid.UUID) (SignedFile, bool)
}

// TreeLikeMut is a mutable TreeLike.
type TreeLikeMut interface {
	TreeLike
	// Insert stores f, returning the previous value at f's id if any.
	Insert(f SignedFile) (SignedFile, bool)
	// Remove deletes id from the tree, returning the removed value if any.
	Remove(id uuid.UUID) (SignedFile, bool)
	// Clear empties the tree.
	Clear()
}

// Map is the simplest TreeLikeMut: a plain map keyed by id. Base and Local
// are both represented as a Map in pkg/core.
type Map map[uuid.UUID]SignedFile

func (m Map) Ids() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids
}

func (m Map) MaybeFind(id uuid.UUID) (SignedFile, bool) {
	f, ok := m[id]
	return f, ok
}

func (m Map) Insert(f SignedFile) (SignedFile, bool) {
	prev, ok := m[f.Timestamped.Value.Id]
	m[f.Timestamped.Value.Id] = f
	return prev, ok
}

func (m Map) Remove(id uuid.UUID) (SignedFile, bool) {
	prev, ok := m[id]
	delete(m, id)
	return prev, ok
}

func (m Map) Clear() {
	for id := range m {
		delete(m, id)
	}
}

// Staged composes a base TreeLike with an overlay TreeLikeMut: lookups
// probe the overlay first, Ids returns the union, and mutations only ever
// touch the overlay. Staged trees nest; a Staged can itself be the base of
// another Staged.
type Staged struct {
	Base    TreeLike
	Overlay TreeLikeMut
}

// NewStaged returns a Staged tree over base with a fresh in-memory overlay.
func NewStaged(base TreeLike) *Staged {
	return &Staged{Base: base, Overlay: make(Map)}
}

func (s *Staged) Ids() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, id := range s.Base.Ids() {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, id := range s.Overlay.Ids() {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Staged) MaybeFind(id uuid.UUID) (SignedFile, bool) {
	if f, ok := s.Overlay.MaybeFind(id); ok {
		return f, true
	}
	return s.Base.MaybeFind(id)
}

func (s *Staged) Insert(f SignedFile) (SignedFile, bool) {
	return s.Overlay.Insert(f)
}

func (s *Staged) Remove(id uuid.UUID) (SignedFile, bool) {
	return s.Overlay.Remove(id)
}

func (s *Staged) Clear() {
	s.Overlay.Clear()
}

// Promote merges the overlay into the base, when the base is itself
// mutable, and empties the overlay. Used when a proposed operation passes
// validation and becomes part of Local.
func (s *Staged) Promote() {
	baseMut, ok := s.Base.(TreeLikeMut)
	if !ok {
		return
	}
	for _, id := range s.Overlay.Ids() {
		f, _ := s.Overlay.MaybeFind(id)
		baseMut.Insert(f)
	}
	s.Overlay.Clear()
}

// Unstage discards the overlay, leaving the base untouched. Used when a
// proposed operation fails validation.
func (s *Staged) Unstage() {
	s.Overlay.Clear()
}
