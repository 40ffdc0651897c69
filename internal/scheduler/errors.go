package scheduler

import (
	"errors"
	"fmt"

	"github.com/edvin/backupd/internal/archive"
	"github.com/edvin/backupd/internal/encrypt"
	"github.com/edvin/backupd/internal/store"
)

// sanitizeError maps a pipeline error to a short message safe for the job
// history: no file paths, no credentials, no command output. The full error
// is still available at debug log level.
func sanitizeError(err error) string {
	var (
		accessErr  *archive.SourceAccessError
		archiveErr *archive.ArchiveError
		sizeErr    *archive.SizeLimitError
		hookErr    *archive.HookError
		encErr     *encrypt.EncryptionError
		upErr      *store.UploadError
	)
	switch {
	case errors.As(err, &accessErr):
		return "source path missing or unreadable"
	case errors.As(err, &sizeErr):
		return fmt.Sprintf("%s archive exceeds size ceiling", sizeErr.Stage)
	case errors.As(err, &archiveErr):
		return "archive creation failed"
	case errors.As(err, &hookErr):
		return fmt.Sprintf("%s-hook failed", hookErr.Stage)
	case errors.As(err, &encErr):
		return "encryption failed"
	case errors.As(err, &upErr):
		return "upload to object store failed"
	default:
		return "internal error"
	}
}
