package localdb

import (
	badger "github.com/dgraph-io/badger/v4"
	"github.com/lockbook/lockbook/pkg/keychain"
	"github.com/lockbook/lockbook/pkg/lberrors"
)

// SaveAccount persists acct's exported base58 record. There is only ever
// one local account; a second SaveAccount overwrites it.
func (d *DB) SaveAccount(acct keychain.Account) error {
	exported, err := acct.Export()
	if err != nil {
		return err
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyAccount(), []byte(exported))
	})
}

// LoadAccount restores the persisted account, or ErrAccountNonexistent if
// create_account/import_account has never run against this database.
func (d *DB) LoadAccount() (keychain.Account, error) {
	var exported string
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyAccount())
		if err == badger.ErrKeyNotFound {
			return lberrors.New(lberrors.ErrAccountNonexistent, "no local account")
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			exported = string(val)
			return nil
		})
	})
	if err != nil {
		return keychain.Account{}, err
	}
	return keychain.Import(exported)
}
