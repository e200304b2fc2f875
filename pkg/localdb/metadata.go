package localdb

import (
	"encoding/json"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/wireclient"
)

// SaveBase replaces the persisted base_metadata table with m's contents.
// pkg/core calls this after every sync round (Phase U commits straight into
// Base), so it always fully overwrites rather than diffing.
func (d *DB) SaveBase(m filetree.Map) error {
	return d.saveMetadataTable(prefixBaseMeta, keyBaseMeta, m)
}

// LoadBase restores the persisted base_metadata table.
func (d *DB) LoadBase() (filetree.Map, error) {
	return d.loadMetadataTable(prefixBaseMeta)
}

// SaveLocal replaces the persisted local_metadata table with m's contents.
func (d *DB) SaveLocal(m filetree.Map) error {
	return d.saveMetadataTable(prefixLocalMeta, keyLocalMeta, m)
}

// LoadLocal restores the persisted local_metadata table.
func (d *DB) LoadLocal() (filetree.Map, error) {
	return d.loadMetadataTable(prefixLocalMeta)
}

func (d *DB) saveMetadataTable(prefix string, keyFn func(uuid.UUID) []byte, m filetree.Map) error {
	return d.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		var stale [][]byte
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			stale = append(stale, append([]byte{}, it.Item().Key()...))
		}
		it.Close()
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}

		for id, sf := range m {
			raw, err := json.Marshal(wireclient.ToSignedFileDTO(sf))
			if err != nil {
				return err
			}
			if err := txn.Set(keyFn(id), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *DB) loadMetadataTable(prefix string) (filetree.Map, error) {
	out := make(filetree.Map)
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var dto wireclient.SignedFileDTO
				if err := json.Unmarshal(val, &dto); err != nil {
					return err
				}
				sf, err := wireclient.FromSignedFileDTO(dto)
				if err != nil {
					return err
				}
				out[sf.Timestamped.Value.Id] = sf
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveRoot persists which id is the account's own root folder, so
// pkg/core.NewFromPersisted doesn't have to rescan Base on every restart.
func (d *DB) SaveRoot(id uuid.UUID) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyRoot(), []byte(id.String()))
	})
}

// LoadRoot restores the persisted root id.
func (d *DB) LoadRoot() (uuid.UUID, error) {
	var id uuid.UUID
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyRoot())
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			parsed, err := uuid.Parse(string(val))
			if err != nil {
				return err
			}
			id = parsed
			return nil
		})
	})
	return id, err
}
