package encrypt

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"github.com/edvin/backupd/internal/model"
)

const (
	aesSaltSize   = 16
	aesIterations = 100_000
	aesKeySize    = 32
	aesChunkSize  = 4096
)

// AES implements Encryptor using AES-256-CBC with a PBKDF2-derived key.
//
// Output file format, reproduced byte for byte by DecryptAES:
//
//	[4-byte BE salt length][salt][4-byte BE IV length][IV][ciphertext]
type AES struct {
	passphrase []byte
}

func NewAES(passphrase string) *AES {
	return &AES{passphrase: []byte(passphrase)}
}

func (a *AES) Method() string {
	return model.EncryptionAES256
}

func (a *AES) Encrypt(ctx context.Context, inPath, outPath string) error {
	if err := a.encrypt(ctx, inPath, outPath); err != nil {
		os.Remove(outPath)
		return err
	}
	return nil
}

func (a *AES) encrypt(ctx context.Context, inPath, outPath string) error {
	if err := ctx.Err(); err != nil {
		return &EncryptionError{Op: "context", Err: err}
	}

	in, err := os.Open(inPath)
	if err != nil {
		return &EncryptionError{Op: "open input", Err: err}
	}
	defer in.Close()

	salt := make([]byte, aesSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return &EncryptionError{Op: "generate salt", Err: err}
	}

	key := pbkdf2.Key(a.passphrase, salt, aesIterations, aesKeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return &EncryptionError{Op: "init cipher", Err: err}
	}

	iv := make([]byte, block.BlockSize())
	if _, err := rand.Read(iv); err != nil {
		return &EncryptionError{Op: "generate iv", Err: err}
	}

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return &EncryptionError{Op: "create output", Err: err}
	}
	defer out.Close()

	if err := writeLengthPrefixed(out, salt); err != nil {
		return &EncryptionError{Op: "write salt", Err: err}
	}
	if err := writeLengthPrefixed(out, iv); err != nil {
		return &EncryptionError{Op: "write iv", Err: err}
	}

	enc := cipher.NewCBCEncrypter(block, iv)
	buf := make([]byte, aesChunkSize)
	for {
		n, readErr := io.ReadFull(in, buf)
		if readErr == nil {
			// Full chunk, guaranteed block-aligned.
			enc.CryptBlocks(buf[:n], buf[:n])
			if _, err := out.Write(buf[:n]); err != nil {
				return &EncryptionError{Op: "write ciphertext", Err: err}
			}
			continue
		}
		if readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
			return &EncryptionError{Op: "read plaintext", Err: readErr}
		}
		// Final (possibly empty) chunk: PKCS#7 pad and finish.
		final := pkcs7Pad(buf[:n], block.BlockSize())
		enc.CryptBlocks(final, final)
		if _, err := out.Write(final); err != nil {
			return &EncryptionError{Op: "write final block", Err: err}
		}
		break
	}

	if err := out.Sync(); err != nil {
		return &EncryptionError{Op: "sync output", Err: err}
	}
	return nil
}

// DecryptAES reverses Encrypt for the AES variant. It recovers the salt and
// IV from the self-describing header.
func DecryptAES(passphrase, inPath, outPath string) error {
	if err := decryptAES(passphrase, inPath, outPath); err != nil {
		os.Remove(outPath)
		return err
	}
	return nil
}

func decryptAES(passphrase, inPath, outPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return &EncryptionError{Op: "open input", Err: err}
	}
	defer in.Close()

	salt, err := readLengthPrefixed(in, 64)
	if err != nil {
		return &EncryptionError{Op: "read salt", Err: err}
	}
	key := pbkdf2.Key([]byte(passphrase), salt, aesIterations, aesKeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return &EncryptionError{Op: "init cipher", Err: err}
	}
	iv, err := readLengthPrefixed(in, 64)
	if err != nil {
		return &EncryptionError{Op: "read iv", Err: err}
	}
	if len(iv) != block.BlockSize() {
		return &EncryptionError{Op: "read iv", Err: fmt.Errorf("iv length %d != block size %d", len(iv), block.BlockSize())}
	}

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return &EncryptionError{Op: "create output", Err: err}
	}
	defer out.Close()

	dec := cipher.NewCBCDecrypter(block, iv)
	var held []byte
	buf := make([]byte, aesChunkSize)
	for {
		n, readErr := io.ReadFull(in, buf)
		if n > 0 {
			if n%block.BlockSize() != 0 {
				return &EncryptionError{Op: "read ciphertext", Err: fmt.Errorf("truncated ciphertext")}
			}
			chunk := make([]byte, n)
			dec.CryptBlocks(chunk, buf[:n])
			if held != nil {
				if _, err := out.Write(held); err != nil {
					return &EncryptionError{Op: "write plaintext", Err: err}
				}
			}
			held = chunk
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return &EncryptionError{Op: "read ciphertext", Err: readErr}
		}
	}
	if held == nil {
		return &EncryptionError{Op: "read ciphertext", Err: fmt.Errorf("empty ciphertext")}
	}

	unpadded, err := pkcs7Unpad(held, block.BlockSize())
	if err != nil {
		return &EncryptionError{Op: "strip padding", Err: err}
	}
	if _, err := out.Write(unpadded); err != nil {
		return &EncryptionError{Op: "write plaintext", Err: err}
	}
	return nil
}

func writeLengthPrefixed(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readLengthPrefixed(r io.Reader, max uint32) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 || n > max {
		return nil, fmt.Errorf("implausible length prefix %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	pad := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(pad)}, pad)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(b))
	}
	pad := int(b[len(b)-1])
	if pad == 0 || pad > blockSize {
		return nil, fmt.Errorf("invalid padding byte %d", pad)
	}
	for _, c := range b[len(b)-pad:] {
		if int(c) != pad {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return b[:len(b)-pad], nil
}
