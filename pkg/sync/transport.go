// Package sync implements the three-way merge sync engine: the
// Pull/Merge/Document/Upsert pipeline, conflict materialization, and the
// AlreadySyncing exclusivity guard.
package sync

import (
	"context"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/filetree"
)

// FileDiff is one local mutation relative to Base, as sent to Upsert.
// Old is nil for a locally-created file.
type FileDiff struct {
	Old *filetree.SignedFile
	New filetree.SignedFile
}

// GetUpdatesResult is the server's answer to GetUpdates.
type GetUpdatesResult struct {
	Files          []filetree.ServerFile
	LatestServerTs int64
}

// UpsertResult reports per-diff rejections; an id present here was left in
// Local for the next round rather than promoted to Base.
type UpsertResult struct {
	Rejected map[uuid.UUID]error
}

// Transport is everything pkg/sync needs from the wire — the
// GetUpdates/Upsert/ChangeDoc/GetDocument methods — expressed over domain
// types rather than wire DTOs, so pkg/sync never imports pkg/wireclient.
// pkg/wireclient.Client satisfies this interface.
type Transport interface {
	GetUpdates(ctx context.Context, sinceVersion uint64) (GetUpdatesResult, error)
	Upsert(ctx context.Context, diffs []FileDiff) (UpsertResult, error)
	// ChangeDoc pushes raw, already-encrypted blob bytes for id, replacing
	// oldHmac (nil if the document is new) with newHmac.
	ChangeDoc(ctx context.Context, id uuid.UUID, oldHmac *[32]byte, newHmac [32]byte, ciphertext []byte) (newVersion uint64, err error)
	// GetDocument fetches raw, still-encrypted blob bytes for (id, hmac).
	GetDocument(ctx context.Context, id uuid.UUID, hmac [32]byte) (ciphertext []byte, err error)
}
