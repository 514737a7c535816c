// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// MaxPasswordBytes bounds the input accepted by the hasher.
const MaxPasswordBytes = 4096

// Default argon2id cost. Matches the parameters existing panel hashes were produced with.
const (
	defaultArgon2Memory  = 64 * 1024 // KiB
	defaultArgon2Time    = 4
	defaultArgon2Threads = 3
	defaultArgon2SaltLen = 16
	defaultArgon2KeyLen  = 32
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code(CodeEmptyPassword).Errorf("password cannot be empty")

// ErrPasswordTooLong is returned when the password exceeds MaxPasswordBytes.
var ErrPasswordTooLong = oops.Code(CodePasswordTooLong).Errorf("password exceeds %d bytes", MaxPasswordBytes)

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a self-describing hash of the password.
	Hash(password string) (string, error)

	// Verify checks if the password matches the hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on invalid hash.
	Verify(password, hash string) (bool, error)

	// NeedsRehash returns true if the hash was produced with different parameters
	// or a different algorithm than the hasher is currently configured for.
	NeedsRehash(hash string) bool
}

// Argon2Params is the argon2id cost configuration.
type Argon2Params struct {
	Memory     uint32 `koanf:"memory"` // KiB
	Time       uint32 `koanf:"time"`
	Threads    uint8  `koanf:"threads"`
	SaltLength uint32 `koanf:"salt_length"`
	KeyLength  uint32 `koanf:"key_length"`
}

// DefaultArgon2Params returns m=65536,t=4,p=3 with a 16 byte salt and 32 byte key.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:     defaultArgon2Memory,
		Time:       defaultArgon2Time,
		Threads:    defaultArgon2Threads,
		SaltLength: defaultArgon2SaltLen,
		KeyLength:  defaultArgon2KeyLen,
	}
}

// Validate checks the parameters are within sane bounds.
func (p Argon2Params) Validate() error {
	switch {
	case p.Memory < 8*uint32(p.Threads) || p.Memory == 0:
		return oops.Code(CodeInvalidConfig).With("field", "argon2.memory").
			Errorf("argon2 memory %d KiB too small for %d threads", p.Memory, p.Threads)
	case p.Time == 0:
		return oops.Code(CodeInvalidConfig).With("field", "argon2.time").Errorf("argon2 time must be at least 1")
	case p.Threads == 0:
		return oops.Code(CodeInvalidConfig).With("field", "argon2.threads").Errorf("argon2 threads must be at least 1")
	case p.SaltLength < 8:
		return oops.Code(CodeInvalidConfig).With("field", "argon2.salt_length").Errorf("argon2 salt must be at least 8 bytes")
	case p.KeyLength < 16:
		return oops.Code(CodeInvalidConfig).With("field", "argon2.key_length").Errorf("argon2 key must be at least 16 bytes")
	}
	return nil
}

// Argon2idHasher implements PasswordHasher using argon2id.
type Argon2idHasher struct {
	params Argon2Params
}

// NewArgon2idHasher creates an Argon2idHasher with the given cost parameters.
func NewArgon2idHasher(params Argon2Params) (*Argon2idHasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Argon2idHasher{params: params}, nil
}

// Params returns the configured cost parameters.
func (h *Argon2idHasher) Params() Argon2Params {
	return h.params
}

// Hash produces an argon2id hash of the password in PHC string format.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLength)

	// $argon2id$v=19$m=65536,t=4,p=3$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks if the password matches the hash using the parameters encoded in it.
func (h *Argon2idHasher) Verify(password, encodedHash string) (bool, error) {
	if len(password) > MaxPasswordBytes {
		return false, nil
	}

	decoded, err := decodeArgon2Hash(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), decoded.salt, decoded.params.Time,
		decoded.params.Memory, decoded.params.Threads, decoded.params.KeyLength)

	return subtle.ConstantTimeCompare(computed, decoded.key) == 1, nil
}

// NeedsRehash reports whether hash differs in algorithm, version or cost from the configured parameters.
// Unparseable hashes always need a rehash.
func (h *Argon2idHasher) NeedsRehash(encodedHash string) bool {
	decoded, err := decodeArgon2Hash(encodedHash)
	if err != nil {
		return true
	}
	if decoded.version != argon2.Version {
		return true
	}
	p := decoded.params
	return p.Memory != h.params.Memory ||
		p.Time != h.params.Time ||
		p.Threads != h.params.Threads ||
		p.SaltLength != h.params.SaltLength ||
		p.KeyLength != h.params.KeyLength
}

type argon2Hash struct {
	version int
	params  Argon2Params
	salt    []byte
	key     []byte
}

func decodeArgon2Hash(encodedHash string) (*argon2Hash, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}

	if parts[1] != "argon2id" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var out argon2Hash
	if _, err := fmt.Sscanf(parts[2], "v=%d", &out.version); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	// Validate threads fits in uint8 to prevent silent truncation
	if threads == 0 || threads > 255 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", threads)
	}
	if memory == 0 || iterations == 0 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("memory and time must be positive")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	// Validate key length to prevent integer overflow in uint32 conversion
	if len(key) == 0 || len(key) > 1<<30 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", len(key))
	}

	out.params = Argon2Params{
		Memory:     memory,
		Time:       iterations,
		Threads:    uint8(threads),
		SaltLength: uint32(len(salt)), //nolint:gosec // bounded by decoded input
		KeyLength:  uint32(len(key)),  //nolint:gosec // bounded above
	}
	out.salt = salt
	out.key = key
	return &out, nil
}
