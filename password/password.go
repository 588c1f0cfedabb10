// Package password hashes and verifies account passwords.
//
// New hashes are argon2id strings in PHC format:
//
//	$argon2id$v=19$m=65536,t=2,p=2$<salt>$<key>
//
// Hashes produced by older deployments with bcrypt still verify, and are
// reported as needing a rehash so callers can upgrade them after a
// successful login.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const algorithmID = "argon2id"

var (
	ErrInvalidHash         = errors.New("password: invalid hash format")
	ErrUnsupportedHash     = errors.New("password: unsupported hash algorithm")
	ErrIncompatibleVersion = errors.New("password: incompatible argon2 version")
)

// Params controls the cost of new argon2id hashes.
type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams follows the OWASP baseline for argon2id.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Time:        2,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher is safe for concurrent use.
type Hasher struct {
	params Params
}

func New(p Params) (*Hasher, error) {
	if p.Memory < 8*1024 {
		return nil, fmt.Errorf("password: memory must be at least 8192 KiB, got %d", p.Memory)
	}
	if p.Time < 1 || p.Parallelism < 1 {
		return nil, errors.New("password: time and parallelism must be positive")
	}
	if p.SaltLength < 16 || p.KeyLength < 16 {
		return nil, errors.New("password: salt and key length must be at least 16 bytes")
	}
	return &Hasher{params: p}, nil
}

// Default returns a Hasher using DefaultParams.
func Default() *Hasher {
	return &Hasher{params: DefaultParams()}
}

func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("password: reading salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version,
		h.params.Memory, h.params.Time, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Unusable returns a valid-looking hash of a random secret that is never
// disclosed, so no password will ever verify against it.
func (h *Hasher) Unusable() (string, error) {
	secret := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return "", fmt.Errorf("password: reading secret: %w", err)
	}
	return h.Hash(base64.RawStdEncoding.EncodeToString(secret))
}

// Verify compares password against encoded in constant time. needsRehash is
// true when the hash is valid and matches but was produced by bcrypt or with
// weaker argon2 parameters than the Hasher's.
func (h *Hasher) Verify(password, encoded string) (ok, needsRehash bool, err error) {
	if strings.HasPrefix(encoded, "$2a$") || strings.HasPrefix(encoded, "$2b$") || strings.HasPrefix(encoded, "$2y$") {
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, false, nil
		}
		if err != nil {
			return false, false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
		}
		return true, true, nil
	}

	parsed, err := decode(encoded)
	if err != nil {
		return false, false, err
	}
	key := argon2.IDKey([]byte(password), parsed.salt, parsed.Time, parsed.Memory, parsed.Parallelism, uint32(len(parsed.key)))
	if subtle.ConstantTimeCompare(key, parsed.key) != 1 {
		return false, false, nil
	}
	weaker := parsed.Memory < h.params.Memory ||
		parsed.Time < h.params.Time ||
		parsed.Parallelism < h.params.Parallelism ||
		uint32(len(parsed.key)) != h.params.KeyLength
	return true, weaker, nil
}

type decoded struct {
	Params
	salt []byte
	key  []byte
}

func decode(encoded string) (*decoded, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, ErrInvalidHash
	}
	if parts[1] != algorithmID {
		return nil, ErrUnsupportedHash
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil {
		return nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return nil, ErrIncompatibleVersion
	}

	out := &decoded{}
	for _, kv := range strings.Split(parts[3], ",") {
		name, value, found := strings.Cut(kv, "=")
		if !found {
			return nil, ErrInvalidHash
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return nil, ErrInvalidHash
		}
		switch name {
		case "m":
			out.Memory = uint32(n)
		case "t":
			out.Time = uint32(n)
		case "p":
			if n > 255 {
				return nil, ErrInvalidHash
			}
			out.Parallelism = uint8(n)
		default:
			return nil, ErrInvalidHash
		}
	}
	if out.Memory == 0 || out.Time == 0 || out.Parallelism == 0 {
		return nil, ErrInvalidHash
	}

	if out.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, ErrInvalidHash
	}
	if out.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(out.key) == 0 {
		return nil, ErrInvalidHash
	}
	return out, nil
}
