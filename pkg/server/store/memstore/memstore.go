// Package memstore is the server's default, in-process Store
// implementation: a single mutex guarding a handful of maps.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/lberrors"
	"github.com/lockbook/lockbook/pkg/server/store"
)

type account struct {
	pub crypto.PublicKey
}

// Store is an in-memory store.Store, safe for concurrent use. It never
// persists anything to disk; restarting the process loses all accounts and
// files, which is the point for tests and local development.
type Store struct {
	mu sync.Mutex

	accounts map[string]account
	files    map[uuid.UUID]filetree.ServerFile
	docs     map[documentKey][]byte
	version  uint64
	latestTs int64

	usageCap uint64
}

type documentKey struct {
	id   uuid.UUID
	hmac [32]byte
}

// New returns an empty Store. usageCap is the flat per-account byte budget
// reported by Usage; 0 means unlimited.
func New(usageCap uint64) *Store {
	return &Store{
		accounts: make(map[string]account),
		files:    make(map[uuid.UUID]filetree.ServerFile),
		docs:     make(map[documentKey][]byte),
		usageCap: usageCap,
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) nextVersion() uint64 {
	s.version++
	return s.version
}

func (s *Store) CreateAccount(ctx context.Context, username string, pub crypto.PublicKey, root filetree.SignedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[username]; exists {
		return lberrors.New(lberrors.ErrUsernameTaken, "username already registered")
	}
	s.accounts[username] = account{pub: pub}

	v := s.nextVersion()
	meta := root.Timestamped.Value
	meta.Version = v
	root.Timestamped.Value = meta
	s.files[meta.Id] = filetree.ServerFile{SignedFile: root, Version: v}
	s.latestTs = root.Timestamped.TimestampMs
	return nil
}

func (s *Store) PublicKey(ctx context.Context, username string) (crypto.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[username]
	if !ok {
		return crypto.PublicKey{}, lberrors.New(lberrors.ErrAccountNonexistent, "no such account")
	}
	return acct.pub, nil
}

func (s *Store) UpdatesSince(ctx context.Context, caller crypto.PublicKey, sinceVersion uint64) ([]filetree.ServerFile, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flat := make(map[uuid.UUID]filetree.SignedFile, len(s.files))
	for id, f := range s.files {
		flat[id] = f.SignedFile
	}

	var out []filetree.ServerFile
	for id, f := range s.files {
		if f.Version > sinceVersion && store.VisibleTo(flat, caller, id) {
			out = append(out, f)
		}
	}
	return out, s.latestTs, nil
}

func (s *Store) Upsert(ctx context.Context, diffs []store.FileDiff) (map[uuid.UUID]error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[uuid.UUID]filetree.SignedFile, len(s.files))
	for id, f := range s.files {
		current[id] = f.SignedFile
	}
	proposed := make(map[uuid.UUID]filetree.SignedFile, len(current)+len(diffs))
	for id, f := range current {
		proposed[id] = f
	}
	for _, d := range diffs {
		proposed[d.New.Timestamped.Value.Id] = d.New
	}

	rejected := make(map[uuid.UUID]error)
	accepted := make([]store.FileDiff, 0, len(diffs))
	for _, d := range diffs {
		if err := store.ValidateDiff(current, proposed, d); err != nil {
			rejected[d.New.Timestamped.Value.Id] = err
			delete(proposed, d.New.Timestamped.Value.Id)
			if old, ok := current[d.New.Timestamped.Value.Id]; ok {
				proposed[d.New.Timestamped.Value.Id] = old
			}
			continue
		}
		accepted = append(accepted, d)
	}

	for _, d := range accepted {
		v := s.nextVersion()
		meta := d.New.Timestamped.Value
		meta.Version = v
		d.New.Timestamped.Value = meta
		s.files[meta.Id] = filetree.ServerFile{SignedFile: d.New, Version: v}
		if d.New.Timestamped.TimestampMs > s.latestTs {
			s.latestTs = d.New.Timestamped.TimestampMs
		}
	}

	return rejected, nil
}

func (s *Store) PutDocument(ctx context.Context, id uuid.UUID, oldHmac *[32]byte, newHmac [32]byte, ciphertext []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return 0, lberrors.New(lberrors.ErrFileNotFound, "no such file").WithId(id.String())
	}
	meta := f.SignedFile.Timestamped.Value

	// Content arriving for a hmac the metadata already registered (an
	// Upsert preceded this ChangeDoc): store the blob as-is, no new
	// version.
	if meta.DocumentHmac != nil && *meta.DocumentHmac == newHmac {
		s.docs[documentKey{id: id, hmac: newHmac}] = ciphertext
		return f.Version, nil
	}

	if oldHmac == nil {
		if meta.DocumentHmac != nil {
			return 0, lberrors.New(lberrors.ErrReReadRequired, "document already has content").WithId(id.String())
		}
	} else {
		if meta.DocumentHmac == nil || *meta.DocumentHmac != *oldHmac {
			return 0, lberrors.New(lberrors.ErrReReadRequired, "stale document hmac").WithId(id.String())
		}
	}

	s.docs[documentKey{id: id, hmac: newHmac}] = ciphertext

	v := s.nextVersion()
	meta.DocumentHmac = &newHmac
	meta.Version = v
	f.SignedFile.Timestamped.Value = meta
	f.Version = v
	s.files[id] = f
	return v, nil
}

func (s *Store) GetDocument(ctx context.Context, id uuid.UUID, hmac [32]byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, ok := s.docs[documentKey{id: id, hmac: hmac}]
	if !ok {
		return nil, lberrors.New(lberrors.ErrFileNotFound, "no such document content").WithId(id.String())
	}
	return blob, nil
}

// Purge permanently removes id's record and any document blobs stored
// under it. Returns ErrFileNotFound if id is unknown, ErrInvalidArgument if
// it is not marked deleted.
func (s *Store) Purge(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return lberrors.New(lberrors.ErrFileNotFound, "no such file").WithId(id.String())
	}
	if !f.SignedFile.Timestamped.Value.IsDeleted {
		return lberrors.New(lberrors.ErrInvalidArgument, "file is not deleted").WithId(id.String())
	}

	delete(s.files, id)
	if meta := f.SignedFile.Timestamped.Value; meta.DocumentHmac != nil {
		delete(s.docs, documentKey{id: id, hmac: *meta.DocumentHmac})
	}
	return nil
}

func (s *Store) Usage(ctx context.Context, owner crypto.PublicKey) ([]store.FileUsage, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.FileUsage
	for _, f := range s.files {
		meta := f.SignedFile.Timestamped.Value
		if meta.Type != filetree.Document || meta.DocumentHmac == nil || !meta.Owner.Equal(owner) {
			continue
		}
		var size uint64
		for key, blob := range s.docs {
			if key.id == meta.Id && key.hmac == *meta.DocumentHmac {
				size = uint64(len(blob))
				break
			}
		}
		out = append(out, store.FileUsage{Id: meta.Id, Size: size})
	}
	return out, s.usageCap, nil
}
