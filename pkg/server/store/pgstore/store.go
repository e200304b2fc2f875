package pgstore

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/lberrors"
	"github.com/lockbook/lockbook/pkg/server/store"
)

var _ store.Store = (*Store)(nil)

// isUniqueConstraintError reports a Postgres unique-violation via string
// matching rather than depending on pgconn error codes directly.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}

func (s *Store) CreateAccount(ctx context.Context, username string, pub crypto.PublicKey, root filetree.SignedFile) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&accountRow{Username: username, PublicKey: pub.Bytes()}).Error; err != nil {
			if isUniqueConstraintError(err) {
				return lberrors.New(lberrors.ErrUsernameTaken, "username already registered")
			}
			return err
		}

		var version uint64
		if err := tx.Raw("SELECT nextval('file_version_seq')").Scan(&version).Error; err != nil {
			return err
		}

		meta := root.Timestamped.Value
		meta.Version = version
		root.Timestamped.Value = meta

		row, err := toRow(filetree.ServerFile{SignedFile: root, Version: version})
		if err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
}

func (s *Store) PublicKey(ctx context.Context, username string) (crypto.PublicKey, error) {
	var row accountRow
	err := s.db.WithContext(ctx).First(&row, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return crypto.PublicKey{}, lberrors.New(lberrors.ErrAccountNonexistent, "no such account")
	}
	if err != nil {
		return crypto.PublicKey{}, err
	}
	return crypto.PublicKeyFromBytes(row.PublicKey)
}

func (s *Store) UpdatesSince(ctx context.Context, caller crypto.PublicKey, sinceVersion uint64) ([]filetree.ServerFile, int64, error) {
	// Visibility needs the full ancestor chain, so the whole table is
	// loaded and filtered in memory rather than pushed into SQL.
	var rows []fileRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	flat := make(map[uuid.UUID]filetree.SignedFile, len(rows))
	files := make(map[uuid.UUID]filetree.ServerFile, len(rows))
	for _, row := range rows {
		f, err := fromRow(row)
		if err != nil {
			return nil, 0, err
		}
		flat[f.Timestamped.Value.Id] = f.SignedFile
		files[f.Timestamped.Value.Id] = f
	}

	out := make([]filetree.ServerFile, 0, len(files))
	var latestTs int64
	for id, f := range files {
		if f.Version <= sinceVersion || !store.VisibleTo(flat, caller, id) {
			continue
		}
		out = append(out, f)
		if f.SignedFile.Timestamped.TimestampMs > latestTs {
			latestTs = f.SignedFile.Timestamped.TimestampMs
		}
	}

	var maxTs int64
	if err := s.db.WithContext(ctx).Model(&fileRow{}).Select("COALESCE(MAX(timestamp_ms), 0)").Scan(&maxTs).Error; err != nil {
		return nil, 0, err
	}
	if maxTs > latestTs {
		latestTs = maxTs
	}
	return out, latestTs, nil
}

// Upsert mirrors memstore.Upsert's validate-then-apply-the-batch semantics,
// but builds current/proposed from the whole files table inside one
// transaction so concurrent Upserts serialize on Postgres's own locking
// instead of a process-local mutex.
func (s *Store) Upsert(ctx context.Context, diffs []store.FileDiff) (map[uuid.UUID]error, error) {
	rejected := make(map[uuid.UUID]error)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []fileRow
		if err := tx.Find(&rows).Error; err != nil {
			return err
		}

		current := make(map[uuid.UUID]filetree.SignedFile, len(rows))
		for _, row := range rows {
			f, err := fromRow(row)
			if err != nil {
				return err
			}
			current[f.Timestamped.Value.Id] = f.SignedFile
		}
		proposed := make(map[uuid.UUID]filetree.SignedFile, len(current)+len(diffs))
		for id, f := range current {
			proposed[id] = f
		}
		for _, d := range diffs {
			proposed[d.New.Timestamped.Value.Id] = d.New
		}

		accepted := make([]store.FileDiff, 0, len(diffs))
		for _, d := range diffs {
			if err := store.ValidateDiff(current, proposed, d); err != nil {
				rejected[d.New.Timestamped.Value.Id] = err
				delete(proposed, d.New.Timestamped.Value.Id)
				if old, ok := current[d.New.Timestamped.Value.Id]; ok {
					proposed[d.New.Timestamped.Value.Id] = old
				}
				continue
			}
			accepted = append(accepted, d)
		}

		for _, d := range accepted {
			var version uint64
			if err := tx.Raw("SELECT nextval('file_version_seq')").Scan(&version).Error; err != nil {
				return err
			}
			meta := d.New.Timestamped.Value
			meta.Version = version
			d.New.Timestamped.Value = meta

			row, err := toRow(filetree.ServerFile{SignedFile: d.New, Version: version})
			if err != nil {
				return err
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

func (s *Store) PutDocument(ctx context.Context, id uuid.UUID, oldHmac *[32]byte, newHmac [32]byte, ciphertext []byte) (uint64, error) {
	var newVersion uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row fileRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return lberrors.New(lberrors.ErrFileNotFound, "no such file").WithId(id.String())
			}
			return err
		}

		// Content arriving for a hmac the metadata already registered (an
		// Upsert preceded this ChangeDoc): store the blob as-is, no new
		// version.
		if row.DocumentHmac != nil && string(row.DocumentHmac) == string(newHmac[:]) {
			err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&documentRow{FileId: id, Hmac: newHmac[:], Ciphertext: ciphertext}).Error
			if err != nil {
				return err
			}
			newVersion = row.Version
			return nil
		}

		if oldHmac == nil {
			if row.DocumentHmac != nil {
				return lberrors.New(lberrors.ErrReReadRequired, "document already has content").WithId(id.String())
			}
		} else if row.DocumentHmac == nil || string(row.DocumentHmac) != string(oldHmac[:]) {
			return lberrors.New(lberrors.ErrReReadRequired, "stale document hmac").WithId(id.String())
		}

		if err := tx.Create(&documentRow{FileId: id, Hmac: newHmac[:], Ciphertext: ciphertext}).Error; err != nil {
			return err
		}

		f, err := fromRow(row)
		if err != nil {
			return err
		}
		var version uint64
		if err := tx.Raw("SELECT nextval('file_version_seq')").Scan(&version).Error; err != nil {
			return err
		}
		meta := f.Timestamped.Value
		meta.DocumentHmac = &newHmac
		meta.Version = version
		f.Timestamped.Value = meta
		f.Version = version

		newRow, err := toRow(f)
		if err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&newRow).Error; err != nil {
			return err
		}
		newVersion = version
		return nil
	})
	return newVersion, err
}

func (s *Store) GetDocument(ctx context.Context, id uuid.UUID, hmac [32]byte) ([]byte, error) {
	var row documentRow
	err := s.db.WithContext(ctx).First(&row, "file_id = ? AND hmac = ?", id, hmac[:]).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, lberrors.New(lberrors.ErrFileNotFound, "no such document content").WithId(id.String())
	}
	if err != nil {
		return nil, err
	}
	return row.Ciphertext, nil
}

// Purge permanently removes id's row and any document blobs stored under
// it. Returns ErrFileNotFound if id is unknown, ErrInvalidArgument if it is
// not marked deleted.
func (s *Store) Purge(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row fileRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return lberrors.New(lberrors.ErrFileNotFound, "no such file").WithId(id.String())
			}
			return err
		}
		if !row.IsDeleted {
			return lberrors.New(lberrors.ErrInvalidArgument, "file is not deleted").WithId(id.String())
		}

		if err := tx.Where("file_id = ?", id).Delete(&documentRow{}).Error; err != nil {
			return err
		}
		return tx.Delete(&row).Error
	})
}

func (s *Store) Usage(ctx context.Context, owner crypto.PublicKey) ([]store.FileUsage, uint64, error) {
	var rows []fileRow
	err := s.db.WithContext(ctx).
		Where("owner = ? AND document_hmac IS NOT NULL", owner.Bytes()).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	out := make([]store.FileUsage, 0, len(rows))
	for _, row := range rows {
		var doc documentRow
		err := s.db.WithContext(ctx).
			First(&doc, "file_id = ? AND hmac = ?", row.Id, row.DocumentHmac).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		out = append(out, store.FileUsage{Id: row.Id, Size: uint64(len(doc.Ciphertext))})
	}
	return out, s.usageCap, nil
}
