// Package docstore implements the content-addressed encrypted document
// blob store: compress-then-encrypt-then-HMAC document bodies, written
// atomically to `{id}-{hmac_hex}` files, with stale blobs deferred to GC
// rather than deleted inline with the write that supersedes them.
package docstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/lberrors"
)

// gcmNonceSize is the nonce length crypto.AesGcmEncrypt produces (AES-GCM's
// standard 96-bit nonce). Blobs store it as a fixed-size prefix so a read
// never needs a second stat to learn ciphertext length.
const gcmNonceSize = 12

// Store manages document blobs under a single base directory, the docs/
// subdirectory of the configured writeable path.
type Store struct {
	basePath string

	// idLocks serializes writes to the same id without blocking reads or
	// writes of other ids.
	idLocks sync.Map // uuid.UUID -> *sync.Mutex

	gcMu    sync.Mutex
	pending []string // blob paths superseded by a write, awaiting CollectGarbage
}

// New opens (creating if necessary) a document store rooted at basePath.
func New(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, lberrors.New(lberrors.ErrInvalidArgument, "base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, lberrors.New(lberrors.ErrUnexpected, "create docstore directory: "+err.Error())
	}
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, lberrors.New(lberrors.ErrUnexpected, "stat docstore directory: "+err.Error())
	}
	if !info.IsDir() {
		return nil, lberrors.New(lberrors.ErrInvalidArgument, "base path is not a directory")
	}
	return &Store{basePath: basePath}, nil
}

func (s *Store) lockFor(id uuid.UUID) *sync.Mutex {
	v, _ := s.idLocks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Store) blobPath(id uuid.UUID, hmac [32]byte) string {
	return filepath.Join(s.basePath, fmt.Sprintf("%s-%x", id, hmac))
}

// Read decrypts the document blob at (id, hmac) under key.
func (s *Store) Read(id uuid.UUID, hmac [32]byte, key crypto.AesKey) ([]byte, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	raw, err := os.ReadFile(s.blobPath(id, hmac))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, lberrors.New(lberrors.ErrFileNotFound, "document blob not found").WithId(id.String())
		}
		return nil, lberrors.New(lberrors.ErrUnexpected, "read document blob: "+err.Error()).WithId(id.String())
	}
	if len(raw) < gcmNonceSize {
		return nil, lberrors.New(lberrors.ErrHmacValidation, "document blob truncated").WithId(id.String())
	}
	ev := crypto.EncryptedValue{Nonce: raw[:gcmNonceSize], Value: raw[gcmNonceSize:]}

	if crypto.HmacSha256(key, ev.Value) != hmac {
		return nil, lberrors.New(lberrors.ErrHmacValidation, "blob content does not match requested hmac").WithId(id.String())
	}

	compressed, err := crypto.AesGcmDecrypt(key, ev)
	if err != nil {
		return nil, err
	}
	plaintext, err := crypto.ZlibDecompress(compressed)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// Has reports whether the blob for (id, hmac) is already on disk, so sync
// can tell which remote documents still need a pull.
func (s *Store) Has(id uuid.UUID, hmac [32]byte) bool {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	_, err := os.Stat(s.blobPath(id, hmac))
	return err == nil
}

// ReadBlob returns the raw on-disk bytes (nonce || ciphertext) for (id,
// hmac), unchanged and still encrypted. pkg/sync uses this to push a
// document's ciphertext to the server without ever decrypting it locally.
func (s *Store) ReadBlob(id uuid.UUID, hmac [32]byte) ([]byte, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	raw, err := os.ReadFile(s.blobPath(id, hmac))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, lberrors.New(lberrors.ErrFileNotFound, "document blob not found").WithId(id.String())
		}
		return nil, lberrors.New(lberrors.ErrUnexpected, "read document blob: "+err.Error()).WithId(id.String())
	}
	return raw, nil
}

// WriteBlob publishes raw bytes (nonce || ciphertext) pulled from the server
// as (id, hmac) directly, without re-encrypting: the server already sent
// ciphertext, so pkg/sync never needs the document key to pull a document.
func (s *Store) WriteBlob(id uuid.UUID, hmac [32]byte, raw []byte) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	path := s.blobPath(id, hmac)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return lberrors.New(lberrors.ErrUnexpected, "write document blob: "+err.Error()).WithId(id.String())
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return lberrors.New(lberrors.ErrUnexpected, "publish document blob: "+err.Error()).WithId(id.String())
	}
	return nil
}

// UncompressedUsage decrypts and decompresses every document blob the ids
// in documents name, summing their plaintext lengths. This is the
// client-side, pre-compression figure, as opposed to GetUsage's
// server-reported (and thus compressed) total.
func (s *Store) UncompressedUsage(lt interface {
	Key(id uuid.UUID) (crypto.AesKey, error)
}, documents map[uuid.UUID][32]byte) (uint64, error) {
	var total uint64
	for id, hmac := range documents {
		key, err := lt.Key(id)
		if err != nil {
			return 0, err
		}
		plaintext, err := s.Read(id, hmac, key)
		if err != nil {
			return 0, err
		}
		total += uint64(len(plaintext))
	}
	return total, nil
}

// SafeWrite runs the full write pipeline: compress, encrypt, HMAC, publish
// atomically, schedule the superseded blob for GC. current is
// the document's hmac as currently recorded in Local (nil if the document
// has never been written); expectedOld is the hmac the caller last observed
// there. A mismatch between the two means another writer published a newer
// version since the caller last read, and SafeWrite fails with
// ReReadRequired rather than silently overwriting it.
//
// On success it returns the new hmac and whether the write was a no-op
// (plaintext compressed+encrypted to the same ciphertext, and therefore the
// same hmac, as what is already current).
func (s *Store) SafeWrite(id uuid.UUID, key crypto.AesKey, current, expectedOld *[32]byte, plaintext []byte) (newHmac [32]byte, noop bool, err error) {
	if !hmacPtrEqual(current, expectedOld) {
		return [32]byte{}, false, lberrors.New(lberrors.ErrReReadRequired, "document changed since last read").WithId(id.String())
	}

	compressed, err := crypto.ZlibCompress(plaintext)
	if err != nil {
		return [32]byte{}, false, err
	}
	ev, err := crypto.AesGcmEncrypt(key, compressed)
	if err != nil {
		return [32]byte{}, false, err
	}
	hmac := crypto.HmacSha256(key, ev.Value)

	if current != nil && *current == hmac {
		return hmac, true, nil
	}

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	path := s.blobPath(id, hmac)
	tmp := path + ".tmp"
	blob := append(append([]byte{}, ev.Nonce...), ev.Value...)
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return [32]byte{}, false, lberrors.New(lberrors.ErrUnexpected, "write document blob: "+err.Error()).WithId(id.String())
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return [32]byte{}, false, lberrors.New(lberrors.ErrUnexpected, "publish document blob: "+err.Error()).WithId(id.String())
	}

	if current != nil {
		s.scheduleCleanup(s.blobPath(id, *current))
	}
	return hmac, false, nil
}

func hmacPtrEqual(a, b *[32]byte) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Store) scheduleCleanup(path string) {
	s.gcMu.Lock()
	defer s.gcMu.Unlock()
	s.pending = append(s.pending, path)
}

// PendingCleanups snapshots the blob paths awaiting CollectGarbage, for
// pkg/localdb to persist across restarts so a crash between a write and
// the next GC run doesn't leak the superseded blob forever.
func (s *Store) PendingCleanups() []string {
	s.gcMu.Lock()
	defer s.gcMu.Unlock()
	out := make([]string, len(s.pending))
	copy(out, s.pending)
	return out
}

// RestorePendingCleanups seeds the GC queue from a prior session's
// persisted scheduled_file_cleanups, merging with anything already pending.
func (s *Store) RestorePendingCleanups(paths []string) {
	if len(paths) == 0 {
		return
	}
	s.gcMu.Lock()
	defer s.gcMu.Unlock()
	s.pending = append(s.pending, paths...)
}

// GCStats summarizes one CollectGarbage run.
type GCStats struct {
	Scanned int
	Removed int
	Errors  int
}

// CollectGarbage deletes every blob scheduled for cleanup since the last
// run, stopping early if ctx is cancelled. Deletion failures are not fatal:
// a blob left behind is retried on the next run.
func (s *Store) CollectGarbage(ctx context.Context) GCStats {
	s.gcMu.Lock()
	batch := s.pending
	s.pending = nil
	s.gcMu.Unlock()

	var stats GCStats
	var retry []string
	for _, path := range batch {
		stats.Scanned++
		select {
		case <-ctx.Done():
			retry = append(retry, path)
			continue
		default:
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			stats.Errors++
			retry = append(retry, path)
			continue
		}
		stats.Removed++
	}

	if len(retry) > 0 {
		s.gcMu.Lock()
		s.pending = append(s.pending, retry...)
		s.gcMu.Unlock()
	}
	return stats
}
