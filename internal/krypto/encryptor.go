package krypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrUnknownKey indicates that the key used to encrypt the data is unknown.
	ErrUnknownKey = errors.New("unknown key")
	// ErrInvalidData indicates that the data is invalid.
	ErrInvalidData = errors.New("invalid data")
)

const indexBytes = 4

// Encryptor encrypts and decrypts data at rest using AES-GCM.
//
// Keys form an append only list, new data is always encrypted with the last
// key. Every message starts with the big endian index of its key, which is
// also authenticated as additional data. Rotating keys is done by appending
// a key, data encrypted with older keys stays readable and is re-encrypted
// with the latest key the next time it is written.
//
// The index used is not considered secret.
type Encryptor struct {
	aeads []cipher.AEAD
}

// NewEncryptor creates a new encryptor with the provided keys.
func NewEncryptor(keys []Key) (*Encryptor, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one key is required")
	}

	aeads := make([]cipher.AEAD, 0, len(keys))
	for i, k := range keys {
		block, err := aes.NewCipher(k.value)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}

		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}

		aeads = append(aeads, gcm)
	}

	return &Encryptor{
		aeads: aeads,
	}, nil
}

// Encrypt encrypts the data using the latest available key.
// It returns the encrypted data prefixed with the key index and nonce.
func (s *Encryptor) Encrypt(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrInvalidData
	}

	index := len(s.aeads) - 1
	aead := s.aeads[index]

	nonce, err := randBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}

	out := make([]byte, indexBytes, indexBytes+len(nonce)+len(data)+aead.Overhead())
	binary.BigEndian.PutUint32(out, uint32(index))
	out = append(out, nonce...)

	return aead.Seal(out, nonce, data, out[:indexBytes]), nil
}

// Decrypt decrypts a message created by Encrypt with any of the known keys.
func (s *Encryptor) Decrypt(message []byte) ([]byte, error) {
	index, err := s.KeyIndex(message)
	if err != nil {
		return nil, err
	}

	aead := s.aeads[index]
	headerLen := indexBytes + aead.NonceSize()
	if len(message) <= headerLen {
		return nil, ErrInvalidData
	}

	nonce := message[indexBytes:headerLen]
	return aead.Open(nil, nonce, message[headerLen:], message[:indexBytes])
}

// KeyIndex returns the index of the key message was encrypted with.
func (s *Encryptor) KeyIndex(message []byte) (int, error) {
	if len(message) < indexBytes {
		return 0, ErrInvalidData
	}

	index := binary.BigEndian.Uint32(message[:indexBytes])
	if uint64(index) >= uint64(len(s.aeads)) {
		return 0, ErrUnknownKey
	}

	return int(index), nil
}
