package pgstore

import (
	"github.com/google/uuid"
)

// accountRow is one row of the accounts table.
type accountRow struct {
	Username  string `gorm:"column:username;primaryKey"`
	PublicKey []byte `gorm:"column:public_key"`
}

func (accountRow) TableName() string { return "accounts" }

// fileRow is one row of the files table: enough relational columns to
// filter and order without deserializing (parent, owner, version, deleted
// flags), plus the full record as canonical JSON in Data so no round of
// migrations is needed whenever filetree.FileMeta grows a field.
type fileRow struct {
	Id           uuid.UUID `gorm:"column:id;primaryKey;type:uuid"`
	Parent       uuid.UUID `gorm:"column:parent;type:uuid"`
	Owner        []byte    `gorm:"column:owner"`
	NameHmac     []byte    `gorm:"column:name_hmac"`
	IsDeleted    bool      `gorm:"column:is_deleted"`
	IsRoot       bool      `gorm:"column:is_root"`
	DocumentHmac []byte    `gorm:"column:document_hmac"`
	Version      uint64    `gorm:"column:version"`
	TimestampMs  int64     `gorm:"column:timestamp_ms"`
	Data         []byte    `gorm:"column:data;type:jsonb"`
}

func (fileRow) TableName() string { return "files" }

// documentRow is one row of the documents table: the encrypted blob
// content-addressed by (file_id, hmac), mirroring pkg/docstore's on-disk
// {id}-{hmac_hex} naming but inside Postgres instead of on the local
// filesystem, for deployments that want a single backing store.
type documentRow struct {
	FileId     uuid.UUID `gorm:"column:file_id;primaryKey;type:uuid"`
	Hmac       []byte    `gorm:"column:hmac;primaryKey"`
	Ciphertext []byte    `gorm:"column:ciphertext"`
}

func (documentRow) TableName() string { return "documents" }
