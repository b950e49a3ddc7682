// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Key is the artifact encryption key held in an encrypted memguard enclave.
// The plaintext key only exists in locked memory for the duration of one
// encrypt or decrypt call.
type Key struct {
	enclave *memguard.Enclave
}

// NewKey seals raw into a Key. raw is wiped.
func NewKey(raw []byte) (*Key, error) {
	if len(raw) != KeySize {
		memguard.WipeBytes(raw)
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrEncryptionFailed, KeySize, len(raw))
	}
	return &Key{enclave: memguard.NewEnclave(raw)}, nil
}

// ParseKey decodes a hex-encoded 32-byte key.
func ParseKey(hexKey string) (*Key, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("%w: key is not valid hex", ErrEncryptionFailed)
	}
	return NewKey(raw)
}

// GenerateKey creates a random key and returns it with its hex encoding so
// the operator can record it. Artifacts sealed with a key that was not
// recorded can never be decrypted.
func GenerateKey() (*Key, string, error) {
	buf := memguard.NewBufferRandom(KeySize)
	if buf == nil || buf.Size() != KeySize {
		return nil, "", fmt.Errorf("%w: could not allocate key buffer", ErrEncryptionFailed)
	}
	encoded := hex.EncodeToString(buf.Bytes())
	return &Key{enclave: buf.Seal()}, encoded, nil
}

// use opens the enclave for the duration of fn.
func (k *Key) use(fn func(key []byte) error) error {
	if k == nil || k.enclave == nil {
		return fmt.Errorf("%w: %w", ErrEncryptionFailed, ErrNoKey)
	}
	buf, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("%w: open key enclave: %v", ErrEncryptionFailed, err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}
