package localdb

import (
	badger "github.com/dgraph-io/badger/v4"
	"github.com/lockbook/lockbook/pkg/crypto"
)

// CachePublicKey remembers username's public key, so sharing a file with a
// previously-seen user doesn't require a GetPublicKey round-trip.
func (d *DB) CachePublicKey(username string, pub crypto.PublicKey) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyPubKey(username), pub.Bytes())
	})
}

// LookupPublicKey returns a cached public key for username, if any.
func (d *DB) LookupPublicKey(username string) (crypto.PublicKey, bool, error) {
	var pub crypto.PublicKey
	found := false
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyPubKey(username))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			p, err := crypto.PublicKeyFromBytes(val)
			if err != nil {
				return err
			}
			pub = p
			found = true
			return nil
		})
	})
	if err != nil {
		return crypto.PublicKey{}, false, err
	}
	return pub, found, nil
}
