package localdb

import (
	"encoding/json"

	badger "github.com/dgraph-io/badger/v4"
)

// SaveScheduledCleanups persists pkg/docstore's pending-GC blob paths so a
// crash between a write and the next CollectGarbage run doesn't leak the
// superseded blob forever.
func (d *DB) SaveScheduledCleanups(paths []string) error {
	raw, err := json.Marshal(paths)
	if err != nil {
		return err
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyCleanups(), raw)
	})
}

// LoadScheduledCleanups restores the persisted GC queue, for
// docstore.Store.RestorePendingCleanups at startup.
func (d *DB) LoadScheduledCleanups() ([]string, error) {
	var paths []string
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyCleanups())
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &paths)
		})
	})
	return paths, err
}
