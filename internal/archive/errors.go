package archive

import "fmt"

// SourceAccessError means the source path is missing or unreadable.
type SourceAccessError struct {
	SourceID string
	Err      error
}

func (e *SourceAccessError) Error() string {
	return fmt.Sprintf("source %s inaccessible: %v", e.SourceID, e.Err)
}

func (e *SourceAccessError) Unwrap() error { return e.Err }

// ArchiveError means the archival command exited nonzero.
type ArchiveError struct {
	Err error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive creation failed: %v", e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// SizeLimitError means the plaintext archive or the encrypted output exceeds
// its hard ceiling.
type SizeLimitError struct {
	Stage     string // "plaintext" or "encrypted"
	SizeBytes int64
	Limit     int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("%s archive size %d exceeds limit %d", e.Stage, e.SizeBytes, e.Limit)
}

// HookError means a pre or post hook was rejected or exited nonzero.
type HookError struct {
	Stage string // "pre" or "post"
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s-hook failed: %v", e.Stage, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }
