package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/willemschots/dreambig/internal/krypto"
)

const (
	minPasswordBytes = 8
	// We put a generous upper cap on password length, so people can use
	// passphrases but we don't allow MBs of data as a password.
	maxPasswordBytes = 512

	specialChars = `!@#$%^&*(),.?":{}|<>`

	// SecretMarker is a string we can look for in logs to see if the app
	// is accidentally exposing secrets.
	SecretMarker = krypto.SecretMarker
)

var (
	ErrInvalidPassword = errors.New("invalid password")
	ErrWeakPassword    = errors.New("weak password")
)

// Password is a plaintext password.
//
// It should never be persisted, logged or exposed in any other way. To
// protect ourselves from accidentally doing so, the type implements
// several common interfaces that would allow it to be used inappropriately.
//
// There are only two operations allowed on a Password:
// - Converting it to a hash.
// - Comparing it with an existing hash to see if they match.
type Password struct {
	plain []byte
}

// ParsePassword creates a new Password from a plaintext string.
// It errors if the password is too short or too long. Use it for
// passwords that already exist, such as login credentials.
func ParsePassword(pwd string) (Password, error) {
	if len(pwd) < minPasswordBytes || len(pwd) > maxPasswordBytes {
		return Password{}, ErrInvalidPassword
	}

	return Password{
		plain: []byte(pwd),
	}, nil
}

// ParseStrongPassword parses a password that is about to be set. On top of
// the length limits it requires an uppercase letter, a lowercase letter,
// a digit and a special character.
func ParseStrongPassword(pwd string) (Password, error) {
	p, err := ParsePassword(pwd)
	if err != nil {
		return Password{}, fmt.Errorf("%w: must be between %d and %d bytes", ErrWeakPassword, minPasswordBytes, maxPasswordBytes)
	}

	var upper, lower, digit, special bool
	for _, r := range pwd {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(specialChars, r):
			special = true
		}
	}

	var missing []string
	if !upper {
		missing = append(missing, "an uppercase letter")
	}
	if !lower {
		missing = append(missing, "a lowercase letter")
	}
	if !digit {
		missing = append(missing, "a digit")
	}
	if !special {
		missing = append(missing, "a special character")
	}

	if len(missing) > 0 {
		return Password{}, fmt.Errorf("%w: must contain %s", ErrWeakPassword, strings.Join(missing, ", "))
	}

	return p, nil
}

// Match checks if the plaintext password matches the given hash.
func (p Password) Match(h krypto.Argon2Hash) bool {
	return h.MatchBytes(p.plain)
}

// Hash hashes the plaintext password using the argon2id algorithm.
func (p Password) Hash() (krypto.Argon2Hash, error) {
	return krypto.HashArgon2(p.plain)
}

func (p Password) Format(f fmt.State, verb rune) {
	f.Write([]byte(SecretMarker))
}

func (p Password) MarshalText() ([]byte, error) {
	return []byte(SecretMarker), nil
}

func (p *Password) UnmarshalText(text []byte) error {
	parsed, err := ParsePassword(string(text))
	if err != nil {
		return err
	}

	*p = parsed
	return nil
}

// StrongPassword is a Password that passed ParseStrongPassword when decoded.
type StrongPassword struct {
	Password
}

func (p *StrongPassword) UnmarshalText(text []byte) error {
	parsed, err := ParseStrongPassword(string(text))
	if err != nil {
		return err
	}

	p.Password = parsed
	return nil
}
