package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edvin/backupd/internal/encrypt"
	"github.com/edvin/backupd/internal/model"
)

const (
	// MaxPlaintextBytes is the hard ceiling on the compressed archive before
	// encryption.
	MaxPlaintextBytes int64 = 100 << 30
	// MaxEncryptedBytes allows 10% encryption overhead on top of the
	// plaintext ceiling.
	MaxEncryptedBytes int64 = MaxPlaintextBytes / 100 * 110

	tempDirPrefix = "backupd-job-"
)

// Builder produces encrypted compressed archives of backup sources.
type Builder struct {
	logger    zerolog.Logger
	encryptor encrypt.Encryptor
	workDir   string
}

func NewBuilder(logger zerolog.Logger, encryptor encrypt.Encryptor, workDir string) *Builder {
	return &Builder{
		logger:    logger.With().Str("component", "archive-builder").Logger(),
		encryptor: encryptor,
		workDir:   workDir,
	}
}

// Build runs the full archive pipeline for one source: pre-hook, tar,
// plaintext ceiling check, encryption, encrypted ceiling check, checksum,
// verification, plaintext removal. The post-hook runs on every exit path.
// On failure the scoped temp directory and all partial outputs are removed
// before returning.
func (b *Builder) Build(ctx context.Context, src model.Source) (encryptedPath string, meta *model.Metadata, err error) {
	started := time.Now().UTC()
	var tempDir string

	// The post-hook is guaranteed to run on every exit path, including
	// failures earlier in the pipeline. A failing post-hook fails an
	// otherwise successful job.
	if src.PostHook != "" {
		defer func() {
			if hookErr := runHook(ctx, "post", src.PostHook); hookErr != nil {
				b.logger.Error().Err(hookErr).Str("source", src.ID).Msg("post-hook failed")
				if err == nil {
					err = hookErr
					encryptedPath = ""
					meta = nil
					if tempDir != "" {
						os.RemoveAll(tempDir)
					}
				}
			}
		}()
	}

	if src.PreHook != "" {
		if err := runHook(ctx, "pre", src.PreHook); err != nil {
			return "", nil, err
		}
	}

	if info, statErr := os.Stat(src.Path); statErr != nil || !info.IsDir() {
		if statErr == nil {
			statErr = fmt.Errorf("%s is not a directory", src.Path)
		}
		return "", nil, &SourceAccessError{SourceID: src.ID, Err: statErr}
	}

	tempDir = filepath.Join(b.workDir, tempDirPrefix+uuid.New().String())
	if mkErr := os.MkdirAll(tempDir, 0o700); mkErr != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", mkErr)
	}
	// Partial outputs never outlive a failed build.
	defer func() {
		if err != nil {
			os.RemoveAll(tempDir)
		}
	}()

	filename := fmt.Sprintf("%s_%s.tar.gz", src.ID, started.Format("20060102_150405"))
	plainPath := filepath.Join(tempDir, filename)

	cmd := exec.CommandContext(ctx, "tar", "czf", plainPath, "-C", src.Path, ".")
	if out, tarErr := cmd.CombinedOutput(); tarErr != nil {
		return "", nil, &ArchiveError{Err: fmt.Errorf("tar czf: %w: %s", tarErr, strings.TrimSpace(string(out)))}
	}

	plainInfo, statErr := os.Stat(plainPath)
	if statErr != nil {
		return "", nil, &ArchiveError{Err: fmt.Errorf("stat archive: %w", statErr)}
	}
	if plainInfo.Size() > MaxPlaintextBytes {
		return "", nil, &SizeLimitError{Stage: "plaintext", SizeBytes: plainInfo.Size(), Limit: MaxPlaintextBytes}
	}

	encryptedPath = plainPath + encryptedSuffix(b.encryptor.Method())
	if encErr := b.encryptor.Encrypt(ctx, plainPath, encryptedPath); encErr != nil {
		return "", nil, encErr
	}

	encInfo, statErr := os.Stat(encryptedPath)
	if statErr != nil {
		return "", nil, &encrypt.EncryptionError{Op: "stat output", Err: statErr}
	}
	if encInfo.Size() > MaxEncryptedBytes {
		return "", nil, &SizeLimitError{Stage: "encrypted", SizeBytes: encInfo.Size(), Limit: MaxEncryptedBytes}
	}
	if encInfo.Size() == 0 {
		return "", nil, &encrypt.EncryptionError{Op: "verify output", Err: fmt.Errorf("encrypted archive is empty")}
	}

	checksum, sumErr := fileChecksum(encryptedPath)
	if sumErr != nil {
		return "", nil, fmt.Errorf("checksum: %w", sumErr)
	}
	if checksum == "" {
		return "", nil, fmt.Errorf("checksum missing for %s", filepath.Base(encryptedPath))
	}

	if rmErr := os.Remove(plainPath); rmErr != nil {
		b.logger.Warn().Err(rmErr).Msg("failed to remove intermediate plaintext archive")
	}

	meta = &model.Metadata{
		SourceID:   src.ID,
		SourceKind: src.Kind,
		Timestamp:  started,
		Filename:   filepath.Base(encryptedPath),
		SizeBytes:  plainInfo.Size(),
		Checksum:   checksum,
		Duration:   time.Since(started),
		Encryption: b.encryptor.Method(),
	}

	b.logger.Info().
		Str("source", src.ID).
		Str("file", meta.Filename).
		Int64("plain_bytes", plainInfo.Size()).
		Int64("encrypted_bytes", encInfo.Size()).
		Dur("duration", meta.Duration).
		Msg("archive built")

	return encryptedPath, meta, nil
}

// RemoveArtifact deletes an encrypted artifact and its scoped temp
// directory. Best effort.
func RemoveArtifact(logger zerolog.Logger, path string) {
	dir := filepath.Dir(path)
	if !strings.HasPrefix(filepath.Base(dir), tempDirPrefix) {
		// Never remove a directory the builder did not create.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Msg("failed to remove local artifact")
		}
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn().Err(err).Msg("failed to remove job temp directory")
	}
}

// SweepOrphans removes leftover job temp directories from earlier abnormal
// terminations. Best effort, called once at startup.
func SweepOrphans(logger zerolog.Logger, workDir string) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), tempDirPrefix) {
			path := filepath.Join(workDir, e.Name())
			if err := os.RemoveAll(path); err != nil {
				logger.Warn().Err(err).Str("dir", e.Name()).Msg("failed to sweep orphaned temp dir")
			} else {
				logger.Info().Str("dir", e.Name()).Msg("swept orphaned temp dir")
			}
		}
	}
}

func encryptedSuffix(method string) string {
	if method == model.EncryptionGPG {
		return ".gpg"
	}
	return ".enc"
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
