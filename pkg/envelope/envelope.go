package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hashpath/foreman/pkg/types"
)

// SchemaVersion is the current envelope schema
const SchemaVersion = 1

// ErrAuthFailure is returned whenever authentication fails during unwrap or
// decrypt. Callers get this and nothing else: no partial plaintext, no hint
// at which byte was wrong.
var ErrAuthFailure = errors.New("envelope authentication failure")

// CanonicalAAD serializes the AAD deterministically: sorted keys, no
// whitespace. Both sides must authenticate the same bytes or the GCM tag
// check fails.
func CanonicalAAD(aad types.AAD) ([]byte, error) {
	m := map[string]interface{}{
		"schema_version": aad.SchemaVersion,
		"key_version":    aad.KeyVersion,
		"created_at":     aad.CreatedAt,
	}
	if aad.MinerID != "" {
		m["miner_id"] = aad.MinerID
	}
	// encoding/json sorts map keys
	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize aad: %w", err)
	}
	return out, nil
}

// Seal encrypts plaintext for the given device public key: a fresh 32-byte
// DEK encrypts the payload with AES-256-GCM (canonical AAD authenticated),
// and the DEK is sealed to the device key. The DEK is zeroed before return.
func Seal(devicePub *[keySize]byte, plaintext []byte, aad types.AAD, counter int64) (*types.Envelope, error) {
	if aad.SchemaVersion == 0 {
		aad.SchemaVersion = SchemaVersion
	}
	if aad.CreatedAt == "" {
		aad.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	dek := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, fmt.Errorf("failed to generate dek: %w", err)
	}
	defer zero(dek)

	gcm, err := newGCM(dek)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	aadBytes, err := CanonicalAAD(aad)
	if err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, aadBytes)

	wrapped, err := SealBox(devicePub, dek)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap dek: %w", err)
	}

	return &types.Envelope{
		EncryptedPayload: base64.StdEncoding.EncodeToString(ciphertext),
		WrappedDEK:       base64.StdEncoding.EncodeToString(wrapped),
		Nonce:            base64.StdEncoding.EncodeToString(nonce),
		AAD:              aad,
		Counter:          counter,
		SchemaVersion:    aad.SchemaVersion,
		KeyVersion:       aad.KeyVersion,
	}, nil
}

// Open decrypts an envelope on the edge: unseal the DEK with the device
// private key, then AES-GCM-decrypt the payload against the canonical AAD.
// Any tampering with payload, nonce, wrapped DEK, or AAD yields
// ErrAuthFailure.
func Open(kp *KeyPair, env *types.Envelope) ([]byte, error) {
	wrapped, err := base64.StdEncoding.DecodeString(env.WrappedDEK)
	if err != nil {
		return nil, fmt.Errorf("invalid wrapped dek encoding: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.EncryptedPayload)
	if err != nil {
		return nil, fmt.Errorf("invalid payload encoding: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce encoding: %w", err)
	}

	dek, err := OpenBox(&kp.Public, &kp.Private, wrapped)
	if err != nil {
		return nil, err
	}
	defer zero(dek)

	gcm, err := newGCM(dek)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrAuthFailure
	}

	aadBytes, err := CanonicalAAD(env.AAD)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, aadBytes)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
