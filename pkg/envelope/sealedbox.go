package envelope

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const (
	keySize           = 32
	sealedBoxOverhead = keySize + box.Overhead
)

// KeyPair is an X25519 key pair for a single edge device
type KeyPair struct {
	Public  [keySize]byte
	Private [keySize]byte
}

// GenerateKeyPair creates a fresh X25519 key pair
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return &KeyPair{Public: *pub, Private: *priv}, nil
}

// KeyPairFromPrivate rebuilds the full key pair from a stored private key
func KeyPairFromPrivate(priv *[keySize]byte) (*KeyPair, error) {
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	kp := &KeyPair{Private: *priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SealBox encrypts msg to the recipient's public key as an anonymous-sender
// sealed box: an ephemeral key pair is generated per message, the nonce is
// BLAKE2b-24(ephemeral_pk || recipient_pk), and the ephemeral public key is
// prepended to the box ciphertext. Only the recipient can open it.
func SealBox(recipientPub *[keySize]byte, msg []byte) ([]byte, error) {
	ephPub, ephPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	defer zero(ephPriv[:])

	nonce, err := sealNonce(ephPub, recipientPub)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, keySize+len(msg)+box.Overhead)
	out = append(out, ephPub[:]...)
	out = box.Seal(out, msg, nonce, recipientPub, ephPriv)
	return out, nil
}

// OpenBox decrypts a sealed box with the recipient's key pair
func OpenBox(recipientPub, recipientPriv *[keySize]byte, sealed []byte) ([]byte, error) {
	if len(sealed) < sealedBoxOverhead {
		return nil, ErrAuthFailure
	}

	var ephPub [keySize]byte
	copy(ephPub[:], sealed[:keySize])

	nonce, err := sealNonce(&ephPub, recipientPub)
	if err != nil {
		return nil, err
	}

	msg, ok := box.Open(nil, sealed[keySize:], nonce, &ephPub, recipientPriv)
	if !ok {
		return nil, ErrAuthFailure
	}
	return msg, nil
}

// sealNonce derives the 24-byte box nonce from the two public keys, matching
// the libsodium crypto_box_seal construction
func sealNonce(ephPub, recipientPub *[keySize]byte) (*[24]byte, error) {
	h, err := blake2b.New(24, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create nonce hash: %w", err)
	}
	h.Write(ephPub[:])
	h.Write(recipientPub[:])

	var nonce [24]byte
	copy(nonce[:], h.Sum(nil))
	return &nonce, nil
}

// zero overwrites a sensitive buffer. Best effort: the runtime may have
// copied it, but we don't leave plaintexts sitting in reachable memory.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
