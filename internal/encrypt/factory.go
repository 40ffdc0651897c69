package encrypt

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edvin/backupd/internal/config"
	"github.com/edvin/backupd/internal/model"
)

// New selects the encryptor variant once from configuration.
func New(logger zerolog.Logger, cfg *config.Config) (Encryptor, error) {
	switch cfg.EncryptionMethod {
	case model.EncryptionAES256:
		return NewAES(cfg.Passphrase), nil
	case model.EncryptionGPG:
		return NewGPG(logger, cfg.GPGPublicKey, cfg.GPGKeyID), nil
	default:
		return nil, fmt.Errorf("unknown encryption method %q", cfg.EncryptionMethod)
	}
}
