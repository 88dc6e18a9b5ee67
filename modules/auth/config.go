package auth

import (
	"errors"
	"flag"
	"time"

	"github.com/grafana/dskit/flagext"
)

// minSecretBytes is the minimum HMAC key length; HMAC-SHA512 wants at
// least a 256-bit key.
const minSecretBytes = 32

// UserConfig is one static identity: a username and its bcrypt hash.
type UserConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// Config for the auth boundary.
type Config struct {
	// Secret signs and verifies tokens. Required, at least 32 bytes.
	Secret flagext.Secret `yaml:"secret"`

	TokenTTL time.Duration `yaml:"token_ttl"`

	// Users replaces the built-in demo identities when set.
	Users []UserConfig `yaml:"users"`
}

// RegisterFlagsAndApplyDefaults registers the flags.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.TokenTTL, prefix+".token-ttl", 24*time.Hour, "Lifetime of issued tokens.")
}

// Validate checks the secret strength.
func (cfg *Config) Validate() error {
	if len(cfg.Secret.String()) < minSecretBytes {
		return errors.New("auth.secret must be at least 32 bytes")
	}
	return nil
}
