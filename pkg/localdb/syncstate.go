package localdb

import (
	"encoding/json"

	badger "github.com/dgraph-io/badger/v4"
)

// SaveLastSynced persists the server timestamp (ms) of the most recent
// successful GetUpdates response, for UI display ("last synced 2m ago").
// Sync correctness itself derives sinceVersion from Base's max file
// version, not from this value (pkg/sync.maxVersion).
func (d *DB) SaveLastSynced(serverTsMs int64) error {
	raw, err := json.Marshal(serverTsMs)
	if err != nil {
		return err
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyLastSync(), raw)
	})
}

// LoadLastSynced returns the persisted last-synced timestamp, or 0 if sync
// has never completed.
func (d *DB) LoadLastSynced() (int64, error) {
	var ts int64
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyLastSync())
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ts)
		})
	})
	return ts, err
}
