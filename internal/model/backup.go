package model

import "time"

// Encryption method constants.
const (
	EncryptionAES256 = "aes256"
	EncryptionGPG    = "gpg"
)

// Metadata describes one produced encrypted backup artifact. It is assembled
// by the archive builder and travels with the file through upload.
type Metadata struct {
	SourceID   string        `json:"source_id"`
	SourceKind string        `json:"source_kind"`
	Timestamp  time.Time     `json:"timestamp"`
	Filename   string        `json:"filename"`
	SizeBytes  int64         `json:"size_bytes"`
	Checksum   string        `json:"checksum"`
	Duration   time.Duration `json:"duration"`
	Encryption string        `json:"encryption"`
}

// RemoteObject is a backup as it exists in the object store.
type RemoteObject struct {
	Key          string            `json:"key"`
	SizeBytes    int64             `json:"size_bytes"`
	LastModified time.Time         `json:"last_modified"`
	Tags         map[string]string `json:"tags,omitempty"`
}
