package pgstore

import (
	"encoding/json"
	"fmt"

	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/wireclient"
)

// toRow serializes a domain ServerFile to its relational row, keeping the
// columns queries filter on (parent/owner/version/deleted) alongside the
// full record as JSON.
func toRow(f filetree.ServerFile) (fileRow, error) {
	dto := wireclient.ToServerFileDTO(f)
	data, err := json.Marshal(dto)
	if err != nil {
		return fileRow{}, fmt.Errorf("marshal file record: %w", err)
	}

	meta := f.SignedFile.Timestamped.Value
	row := fileRow{
		Id:          meta.Id,
		Parent:      meta.Parent,
		Owner:       meta.Owner.Bytes(),
		NameHmac:    meta.Name.Hmac[:],
		IsDeleted:   meta.IsDeleted,
		IsRoot:      meta.IsRoot(),
		Version:     f.Version,
		TimestampMs: f.SignedFile.Timestamped.TimestampMs,
		Data:        data,
	}
	if meta.DocumentHmac != nil {
		row.DocumentHmac = meta.DocumentHmac[:]
	}
	return row, nil
}

// fromRow deserializes a relational row back to a domain ServerFile.
func fromRow(row fileRow) (filetree.ServerFile, error) {
	var dto wireclient.ServerFileDTO
	if err := json.Unmarshal(row.Data, &dto); err != nil {
		return filetree.ServerFile{}, fmt.Errorf("unmarshal file record: %w", err)
	}
	return wireclient.FromServerFileDTO(dto)
}
