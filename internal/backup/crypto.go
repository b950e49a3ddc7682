// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

const (
	nonceSize  = 16
	tagSize    = 16
	headerSize = nonceSize + tagSize
)

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return gcm, nil
}

// sealPayload encrypts plaintext under a fresh random nonce and returns
// nonce || tag || ciphertext.
func sealPayload(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: generate nonce: %v", ErrEncryptionFailed, err)
	}

	payload := make([]byte, headerSize, headerSize+len(plaintext)+tagSize)
	copy(payload, nonce)

	// Seal appends ciphertext || tag after the header; the tag is then
	// moved in front of the ciphertext.
	payload = gcm.Seal(payload, nonce, plaintext, nil)
	n := len(payload)
	copy(payload[nonceSize:headerSize], payload[n-tagSize:])
	return payload[:n-tagSize], nil
}

// openPayload reverses sealPayload.
func openPayload(key, payload []byte) ([]byte, error) {
	if len(payload) < headerSize {
		return nil, fmt.Errorf("%w: payload shorter than header", ErrDecryptionFailed)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := payload[:nonceSize]
	tag := payload[nonceSize:headerSize]
	ciphertext := payload[headerSize:]

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// Encrypt seals plaintext with k in the artifact payload format.
func (k *Key) Encrypt(plaintext []byte) ([]byte, error) {
	var payload []byte
	err := k.use(func(key []byte) error {
		var err error
		payload, err = sealPayload(key, plaintext)
		return err
	})
	return payload, err
}

// Decrypt opens an artifact payload with k.
func (k *Key) Decrypt(payload []byte) ([]byte, error) {
	var plaintext []byte
	err := k.use(func(key []byte) error {
		var err error
		plaintext, err = openPayload(key, payload)
		return err
	})
	return plaintext, err
}
