package krypto

import (
	"crypto/rand"
	"encoding/base64"
)

// RandomString returns n random bytes encoded as unpadded URL-safe base64.
// The result never contains ':' and is safe to embed in delimited tokens.
func RandomString(n int) (string, error) {
	b, err := randBytes(n)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

func randBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}
