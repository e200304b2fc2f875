// Package localdb is the client-side persistence layer: an embedded
// badger/v4 key-value store holding the account record, the Base/Local
// metadata maps, the cached root id, the last-synced cursor, a
// username->public-key cache, and the docstore's pending-GC queue, plus
// the small lb_id.bin install-identity file alongside it.
package localdb

import (
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/lockbook/lockbook/internal/logger"
)

// DB wraps a badger instance rooted at one writeable path.
type DB struct {
	db *badger.DB
}

// badgerLogger adapts internal/logger's package-level functions to
// badger.Logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, args ...interface{})   { logger.Error(fmt.Sprintf(f, args...)) }
func (badgerLogger) Warningf(f string, args ...interface{}) { logger.Warn(fmt.Sprintf(f, args...)) }
func (badgerLogger) Infof(f string, args ...interface{})    { logger.Info(fmt.Sprintf(f, args...)) }
func (badgerLogger) Debugf(f string, args ...interface{})   { logger.Debug(fmt.Sprintf(f, args...)) }

// Open opens (creating if necessary) the metadata database at
// {writeable_path}/metadata.db.
func Open(path string) (*DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{})
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open local metadata db: %w", err)
	}
	return &DB{db: bdb}, nil
}

// Close flushes and closes the underlying badger instance.
func (d *DB) Close() error {
	return d.db.Close()
}
