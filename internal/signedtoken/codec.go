// Package signedtoken issues and validates compact HMAC signed tokens.
//
// A token is a ':' delimited list of fields. The subject fields come first,
// followed by the issue time in unix seconds, an optional random nonce and
// finally the hex encoded HMAC-SHA256 over all preceding fields:
//
//	subject[:subject...]:issued_at[:nonce]:signature
//
// Tokens are stateless. Their validity is a function of their fields, the
// key and the current time.
package signedtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/willemschots/dreambig/internal/krypto"
)

const (
	separator = ":"
	nonceLen  = 32
)

var (
	// ErrInvalidToken is returned for malformed, tampered and expired tokens alike.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrInvalidSubject indicates a subject can't be embedded in a token.
	ErrInvalidSubject = errors.New("invalid token subject")
)

// Format describes the layout of a token.
type Format struct {
	// Purpose separates the signing keys of different token kinds.
	Purpose  string
	Subjects int
	Nonce    bool
}

var (
	// ResetFormat is user_id:issued_at:nonce:signature.
	ResetFormat = Format{Purpose: "password-reset", Subjects: 1, Nonce: true}
	// VerificationFormat is user_id:email:issued_at:nonce:signature.
	VerificationFormat = Format{Purpose: "email-verification", Subjects: 2, Nonce: true}
	// CSRFFormat is session_id:issued_at:signature.
	CSRFFormat = Format{Purpose: "csrf", Subjects: 1, Nonce: false}
)

// Fields returns the total number of fields in a token of this format.
func (f Format) Fields() int {
	n := f.Subjects + 2
	if f.Nonce {
		n++
	}
	return n
}

// Claims are the validated contents of a token.
type Claims struct {
	Subjects []string
	IssuedAt time.Time
}

// Codec issues and validates tokens of a single format.
type Codec struct {
	key    krypto.Key
	format Format
	expiry time.Duration

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

// New creates a codec that signs with a subkey of key for the purpose of
// format and accepts tokens up to expiry old.
func New(key krypto.Key, format Format, expiry time.Duration) *Codec {
	return &Codec{
		key:     key.Derive(format.Purpose),
		format:  format,
		expiry:  expiry,
		NowFunc: time.Now,
	}
}

// Expiry returns how long issued tokens remain valid.
func (c *Codec) Expiry() time.Duration {
	return c.expiry
}

// Issue creates a token for the given subjects.
func (c *Codec) Issue(subjects ...string) (string, error) {
	if len(subjects) != c.format.Subjects {
		return "", ErrInvalidSubject
	}

	for _, s := range subjects {
		if s == "" || strings.Contains(s, separator) {
			return "", ErrInvalidSubject
		}
	}

	fields := make([]string, 0, c.format.Fields())
	fields = append(fields, subjects...)
	fields = append(fields, strconv.FormatInt(c.NowFunc().Unix(), 10))

	if c.format.Nonce {
		nonce, err := krypto.RandomString(nonceLen)
		if err != nil {
			return "", err
		}
		fields = append(fields, nonce)
	}

	payload := strings.Join(fields, separator)
	return payload + separator + c.sign(payload), nil
}

// Validate checks the structure, signature and age of token.
// All failures return ErrInvalidToken.
func (c *Codec) Validate(token string) (Claims, error) {
	fields := strings.Split(token, separator)
	if len(fields) != c.format.Fields() {
		return Claims{}, ErrInvalidToken
	}

	last := len(fields) - 1
	payload := strings.Join(fields[:last], separator)
	if !hmac.Equal([]byte(c.sign(payload)), []byte(fields[last])) {
		return Claims{}, ErrInvalidToken
	}

	issuedAt, err := strconv.ParseInt(fields[c.format.Subjects], 10, 64)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	if issuedAt+int64(c.expiry/time.Second) < c.NowFunc().Unix() {
		return Claims{}, ErrInvalidToken
	}

	return Claims{
		Subjects: fields[:c.format.Subjects],
		IssuedAt: time.Unix(issuedAt, 0),
	}, nil
}

// Subject returns the first field of token without validating it.
// It must only be used to attribute failed attempts, never to grant access.
func Subject(token string) (string, bool) {
	subject, _, ok := strings.Cut(token, separator)
	if !ok || subject == "" {
		return "", false
	}
	return subject, true
}

func (c *Codec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.key.SecretValue())
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
