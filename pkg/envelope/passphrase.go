package envelope

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/hashpath/foreman/pkg/types"
)

const (
	// PassphraseAlgo is the only algorithm accepted in passphrase blocks
	PassphraseAlgo = "AES-256-GCM"

	// PassphraseVersion is the only block version accepted
	PassphraseVersion = 1

	// PBKDF2Iterations matches what the operator UI produces
	PBKDF2Iterations = 100000

	saltSize = 16
)

// EncryptWithPassphrase encrypts plaintext under a site master passphrase.
// The key is PBKDF2-HMAC-SHA256(passphrase, salt, 100000, 32) with a fresh
// per-block salt. The derived key is zeroed before return.
func EncryptWithPassphrase(passphrase string, plaintext []byte) (*types.PassphraseBlock, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, keySize, sha256.New)
	defer zero(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	ciphertext := gcm.Seal(nil, iv, plaintext, nil)

	return &types.PassphraseBlock{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Algo:       PassphraseAlgo,
		Version:    PassphraseVersion,
	}, nil
}

// DecryptWithPassphrase decrypts a passphrase block. Algo and version are
// validated strictly before any key derivation.
func DecryptWithPassphrase(passphrase string, block *types.PassphraseBlock) ([]byte, error) {
	if block.Algo != PassphraseAlgo {
		return nil, fmt.Errorf("unsupported algo %q", block.Algo)
	}
	if block.Version != PassphraseVersion {
		return nil, fmt.Errorf("unsupported version %d", block.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(block.Salt)
	if err != nil {
		return nil, fmt.Errorf("invalid salt encoding: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(block.IV)
	if err != nil {
		return nil, fmt.Errorf("invalid iv encoding: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(block.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("invalid ciphertext encoding: %w", err)
	}

	key := pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, keySize, sha256.New)
	defer zero(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != gcm.NonceSize() {
		return nil, ErrAuthFailure
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}
