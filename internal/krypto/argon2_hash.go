package krypto

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Variant = "argon2id"
	saltLen       = 16
	hashLen       = 32

	// Parameters as recommended by OWASP for argon2id.
	argon2MemoryKiB   = 47104
	argon2Iterations  = 1
	argon2Parallelism = 1
)

// ErrInvalidInput indicates the input for hashing or parsing is not valid.
var ErrInvalidInput = errors.New("invalid input")

var b64 = base64.RawStdEncoding

// Argon2Hash is an argon2id hash together with the parameters used to create it.
// Its string form is the PHC format used by most argon2 implementations:
//
//	$argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>
type Argon2Hash struct {
	Variant     string
	Version     int
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	Salt        []byte
	Hash        []byte
}

// HashArgon2 hashes data with a random salt.
func HashArgon2(data []byte) (Argon2Hash, error) {
	salt, err := randBytes(saltLen)
	if err != nil {
		return Argon2Hash{}, err
	}

	return hashArgon2(data, salt)
}

// HashArgon2WithKey hashes data using the key as the salt. The result is
// deterministic, which makes it suitable for blind indexes.
func HashArgon2WithKey(data []byte, key Key) (Argon2Hash, error) {
	if len(key.value) == 0 {
		return Argon2Hash{}, fmt.Errorf("%w: empty key", ErrInvalidInput)
	}

	return hashArgon2(data, key.value)
}

func hashArgon2(data, salt []byte) (Argon2Hash, error) {
	if len(data) == 0 {
		return Argon2Hash{}, fmt.Errorf("%w: no data to hash", ErrInvalidInput)
	}

	h := Argon2Hash{
		Variant:     argon2Variant,
		Version:     argon2.Version,
		MemoryKiB:   argon2MemoryKiB,
		Iterations:  argon2Iterations,
		Parallelism: argon2Parallelism,
		Salt:        salt,
	}

	h.Hash = argon2.IDKey(data, h.Salt, h.Iterations, h.MemoryKiB, h.Parallelism, hashLen)
	return h, nil
}

// MatchBytes reports whether data hashes to h. The comparison is constant time.
func (h Argon2Hash) MatchBytes(data []byte) bool {
	if len(h.Hash) == 0 {
		return false
	}

	other := argon2.IDKey(data, h.Salt, h.Iterations, h.MemoryKiB, h.Parallelism, uint32(len(h.Hash)))
	return subtle.ConstantTimeCompare(other, h.Hash) == 1
}

// ParseArgon2Hash parses a hash in PHC string format.
func ParseArgon2Hash(s string) (Argon2Hash, error) {
	parts := strings.Split(s, "$")
	if len(parts) != 6 || parts[0] != "" {
		return Argon2Hash{}, fmt.Errorf("%w: expected 6 segments", ErrInvalidInput)
	}

	h := Argon2Hash{
		Variant: parts[1],
	}

	if h.Variant != argon2Variant {
		return Argon2Hash{}, fmt.Errorf("%w: unsupported variant %q", ErrInvalidInput, h.Variant)
	}

	_, err := fmt.Sscanf(parts[2], "v=%d", &h.Version)
	if err != nil {
		return Argon2Hash{}, fmt.Errorf("%w: invalid version: %w", ErrInvalidInput, err)
	}

	if h.Version != argon2.Version {
		return Argon2Hash{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidInput, h.Version)
	}

	_, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &h.MemoryKiB, &h.Iterations, &h.Parallelism)
	if err != nil {
		return Argon2Hash{}, fmt.Errorf("%w: invalid parameters: %w", ErrInvalidInput, err)
	}

	h.Salt, err = b64.DecodeString(parts[4])
	if err != nil {
		return Argon2Hash{}, fmt.Errorf("%w: invalid salt: %w", ErrInvalidInput, err)
	}

	h.Hash, err = b64.DecodeString(parts[5])
	if err != nil {
		return Argon2Hash{}, fmt.Errorf("%w: invalid hash: %w", ErrInvalidInput, err)
	}

	return h, nil
}

// String returns the hash in PHC string format.
func (h Argon2Hash) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		h.Variant, h.Version, h.MemoryKiB, h.Iterations, h.Parallelism,
		b64.EncodeToString(h.Salt), b64.EncodeToString(h.Hash),
	)
}

func (h Argon2Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Argon2Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseArgon2Hash(string(text))
	if err != nil {
		return err
	}

	*h = parsed
	return nil
}

// Scan implements sql.Scanner.
func (h *Argon2Hash) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return h.UnmarshalText([]byte(v))
	case []byte:
		return h.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into argon2 hash", src)
	}
}
