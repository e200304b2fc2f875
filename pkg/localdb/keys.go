package localdb

import "github.com/google/uuid"

// Key namespace for the seven logical tables, one short ASCII prefix per
// table, full-key range scans for the per-id tables.
//
// Table                  Prefix        Key format                 Value
// ===================================================================================
// account                "acct:"       acct:self                  base58 export string
// base_metadata          "bm:"         bm:<uuid>                  SignedFileDTO (JSON)
// local_metadata         "lm:"         lm:<uuid>                  SignedFileDTO (JSON)
// root                   "root:"       root:self                  uuid
// last_synced            "ls:"         ls:self                    int64 (JSON)
// pub_key_by_username    "pk:"         pk:<username>              raw public key bytes
// scheduled_file_cleanups "gc:"        gc:self                    []string (JSON)
const (
	prefixAccount   = "acct:"
	prefixBaseMeta  = "bm:"
	prefixLocalMeta = "lm:"
	prefixRoot      = "root:"
	prefixLastSync  = "ls:"
	prefixPubKey    = "pk:"
	prefixCleanups  = "gc:"
)

func keyAccount() []byte { return []byte(prefixAccount + "self") }
func keyRoot() []byte    { return []byte(prefixRoot + "self") }
func keyLastSync() []byte { return []byte(prefixLastSync + "self") }
func keyCleanups() []byte { return []byte(prefixCleanups + "self") }

func keyBaseMeta(id uuid.UUID) []byte  { return []byte(prefixBaseMeta + id.String()) }
func keyLocalMeta(id uuid.UUID) []byte { return []byte(prefixLocalMeta + id.String()) }
func keyPubKey(username string) []byte { return []byte(prefixPubKey + username) }
