package encrypt

import (
	"context"
	"fmt"
)

// An Encryptor turns a plaintext file into an encrypted one. The variant is
// selected once at startup from configuration.
type Encryptor interface {
	Encrypt(ctx context.Context, inPath, outPath string) error
	Method() string
}

// EncryptionError wraps any cryptographic or I/O fault during encryption.
type EncryptionError struct {
	Op  string
	Err error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("encryption failed: %s: %v", e.Op, e.Err)
}

func (e *EncryptionError) Unwrap() error {
	return e.Err
}
