package localdb

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/lberrors"
)

// lbIDFileName holds the crash-diagnostic install identifier.
const lbIDFileName = "lb_id.bin"

// EnsureLbID reads {writeablePath}/lb_id.bin, creating it with a fresh
// random UUID on first run. The file holds the UUID's raw 16 bytes rather
// than a language-specific serialization, since no encoding in this
// module's dependency set targets that format and the UUID's raw form
// round-trips exactly.
func EnsureLbID(writeablePath string) (uuid.UUID, error) {
	path := filepath.Join(writeablePath, lbIDFileName)

	raw, err := os.ReadFile(path)
	if err == nil {
		id, parseErr := uuid.FromBytes(raw)
		if parseErr != nil {
			return uuid.UUID{}, lberrors.New(lberrors.ErrUnexpected, "corrupt lb_id.bin: "+parseErr.Error())
		}
		return id, nil
	}
	if !os.IsNotExist(err) {
		return uuid.UUID{}, lberrors.New(lberrors.ErrUnexpected, "read lb_id.bin: "+err.Error())
	}

	id := uuid.New()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, id[:], 0o644); err != nil {
		return uuid.UUID{}, lberrors.New(lberrors.ErrUnexpected, "write lb_id.bin: "+err.Error())
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return uuid.UUID{}, lberrors.New(lberrors.ErrUnexpected, "publish lb_id.bin: "+err.Error())
	}
	return id, nil
}
