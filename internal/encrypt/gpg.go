package encrypt

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/edvin/backupd/internal/model"
)

// GPG implements Encryptor by shelling out to gpg, encrypting to a single
// recipient public key. The key is imported into the local keyring on first
// use if absent; there is no trust-all fallback.
type GPG struct {
	logger     zerolog.Logger
	armoredKey string
	keyID      string

	recipient string // resolved fingerprint, cached after first Encrypt
}

func NewGPG(logger zerolog.Logger, armoredKey, keyID string) *GPG {
	return &GPG{
		logger:     logger.With().Str("component", "gpg-encryptor").Logger(),
		armoredKey: armoredKey,
		keyID:      keyID,
	}
}

func (g *GPG) Method() string {
	return model.EncryptionGPG
}

func (g *GPG) Encrypt(ctx context.Context, inPath, outPath string) error {
	recipient, err := g.resolveRecipient(ctx)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "gpg",
		"--batch", "--no-tty", "--yes",
		"--output", outPath,
		"--recipient", recipient,
		"--encrypt", inPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return &EncryptionError{Op: "gpg encrypt", Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))}
	}
	return nil
}

// resolveRecipient ensures the configured key is usable in the local keyring
// and returns the fingerprint to encrypt to.
func (g *GPG) resolveRecipient(ctx context.Context) (string, error) {
	if g.recipient != "" {
		return g.recipient, nil
	}

	supplied, err := g.suppliedFingerprints(ctx)
	if err != nil {
		return "", err
	}

	present, err := g.keyringFingerprints(ctx)
	if err != nil {
		return "", err
	}

	imported := intersect(supplied, present)
	if len(imported) == 0 {
		if err := g.importKey(ctx); err != nil {
			return "", err
		}
		present, err = g.keyringFingerprints(ctx)
		if err != nil {
			return "", err
		}
		imported = intersect(supplied, present)
	}
	if len(imported) == 0 {
		return "", &EncryptionError{Op: "gpg import", Err: fmt.Errorf("import yielded no usable key")}
	}

	// Pin a deterministic order rather than trusting keyring iteration.
	sort.Strings(imported)

	if g.keyID != "" {
		for _, fpr := range imported {
			if matchesKeyID(fpr, g.keyID) {
				g.recipient = fpr
				return fpr, nil
			}
		}
		return "", &EncryptionError{Op: "gpg key select", Err: fmt.Errorf("configured key id %q matches no imported key", g.keyID)}
	}

	if len(imported) > 1 {
		g.logger.Warn().
			Int("keys", len(imported)).
			Str("selected", imported[0]).
			Msg("multiple usable keys imported, selecting lexicographically first fingerprint")
	}
	g.recipient = imported[0]
	return g.recipient, nil
}

// suppliedFingerprints parses the armored key without importing it.
func (g *GPG) suppliedFingerprints(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "gpg", "--batch", "--no-tty", "--with-colons", "--show-keys")
	cmd.Stdin = strings.NewReader(g.armoredKey)
	out, err := cmd.Output()
	if err != nil {
		return nil, &EncryptionError{Op: "gpg show-keys", Err: err}
	}
	fprs := parseFingerprints(out)
	if len(fprs) == 0 {
		return nil, &EncryptionError{Op: "gpg show-keys", Err: fmt.Errorf("supplied key material contains no public key")}
	}
	return fprs, nil
}

func (g *GPG) keyringFingerprints(ctx context.Context) (map[string]bool, error) {
	cmd := exec.CommandContext(ctx, "gpg", "--batch", "--no-tty", "--with-colons", "--list-keys")
	out, err := cmd.Output()
	if err != nil {
		// An empty keyring makes gpg exit nonzero on some versions.
		return map[string]bool{}, nil
	}
	set := make(map[string]bool)
	for _, fpr := range parseFingerprints(out) {
		set[fpr] = true
	}
	return set, nil
}

func (g *GPG) importKey(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "gpg", "--batch", "--no-tty", "--import")
	cmd.Stdin = strings.NewReader(g.armoredKey)
	if out, err := cmd.CombinedOutput(); err != nil {
		return &EncryptionError{Op: "gpg import", Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))}
	}
	g.logger.Info().Msg("imported public key into keyring")
	return nil
}

// parseFingerprints extracts primary-key fingerprints from --with-colons
// output. Only fpr records directly following a pub record count, so subkey
// fingerprints are ignored.
func parseFingerprints(out []byte) []string {
	var fprs []string
	expectFpr := false
	for _, line := range bytes.Split(out, []byte("\n")) {
		fields := strings.Split(string(line), ":")
		switch fields[0] {
		case "pub":
			expectFpr = true
		case "fpr":
			if expectFpr && len(fields) > 9 && fields[9] != "" {
				fprs = append(fprs, fields[9])
				expectFpr = false
			}
		case "sub", "uid":
			expectFpr = false
		}
	}
	return fprs
}

// matchesKeyID reports whether a configured key id (full fingerprint, long
// id, or short id) identifies the given fingerprint.
func matchesKeyID(fpr, keyID string) bool {
	id := strings.ToUpper(strings.TrimPrefix(keyID, "0x"))
	if id == "" {
		return false
	}
	return strings.HasSuffix(strings.ToUpper(fpr), id)
}

func intersect(supplied []string, present map[string]bool) []string {
	var both []string
	for _, fpr := range supplied {
		if present[fpr] {
			both = append(both, fpr)
		}
	}
	return both
}
