// Package pin stores and verifies the dashboard's numeric login PIN.
//
// The hash file holds "<salt hex>:<pbkdf2-sha256 hex>". Files written by
// older releases contain a bare SHA-256 hex digest; those still verify and
// are rewritten in the salted format on the first successful login.
package pin

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/p-blackswan/vessel-dashboard/internal/errors"
)

const (
	Iterations = 600_000
	saltLen    = 16
	keyLen     = 32
	pinLen     = 4
)

// Verifier checks PINs against a hash file.
type Verifier struct {
	path       string
	iterations int
	logger     zerolog.Logger
	mu         sync.Mutex
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithIterations overrides the pbkdf2 iteration count. Hashes written with
// one count only verify with the same count.
func WithIterations(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.iterations = n
		}
	}
}

// NewVerifier returns a Verifier for the hash file at path.
func NewVerifier(path string, logger zerolog.Logger, opts ...Option) *Verifier {
	v := &Verifier{
		path:       path,
		iterations: Iterations,
		logger:     logger.With().Str("component", "pin").Logger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// IsSet reports whether a PIN has been configured.
func (v *Verifier) IsSet() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

// ValidateNew checks the format required for a first-time PIN.
func ValidateNew(pin string) error {
	if len(pin) != pinLen {
		return fmt.Errorf("%w: PIN must be %d digits", apperrors.ErrInvalidInput, pinLen)
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: PIN must be %d digits", apperrors.ErrInvalidInput, pinLen)
		}
	}
	return nil
}

// Set hashes pin with a fresh salt and writes it with mode 0600.
func (v *Verifier) Set(pin string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.write(pin)
}

// Verify reports whether pin matches the stored hash. A missing hash file
// verifies nothing.
func (v *Verifier) Verify(pin string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	data, err := os.ReadFile(v.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading PIN hash: %w", err)
	}
	stored := strings.TrimSpace(string(data))

	if saltHex, _, ok := strings.Cut(stored, ":"); ok {
		salt, err := hex.DecodeString(saltHex)
		if err != nil {
			return false, fmt.Errorf("corrupt PIN hash: %w", err)
		}
		return constantTimeEqual(v.hash(pin, salt), stored), nil
	}

	sum := sha256.Sum256([]byte(pin))
	if !constantTimeEqual(hex.EncodeToString(sum[:]), stored) {
		return false, nil
	}
	if err := v.write(pin); err != nil {
		v.logger.Warn().Err(err).Msg("legacy PIN hash verified but migration failed")
	} else {
		v.logger.Info().Msg("legacy PIN hash migrated to pbkdf2")
	}
	return true, nil
}

// write must be called with v.mu held.
func (v *Verifier) write(pin string) error {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return fmt.Errorf("creating PIN dir: %w", err)
	}
	if err := os.WriteFile(v.path, []byte(v.hash(pin, salt)), 0o600); err != nil {
		return fmt.Errorf("writing PIN hash: %w", err)
	}
	// WriteFile keeps the mode of an existing file
	return os.Chmod(v.path, 0o600)
}

func (v *Verifier) hash(pin string, salt []byte) string {
	dk := pbkdf2.Key([]byte(pin), salt, v.iterations, keyLen, sha256.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(dk)
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
