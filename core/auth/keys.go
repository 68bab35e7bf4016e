// Package auth authenticates frames exchanged between the controller and
// the root.
//
// Both sides hold an Ed25519 identity key. The frame key is the X25519
// shared secret derived from the local private key and the peer's public
// key, so neither side sends a secret over the mesh. Each signed frame ends
// in a truncated HMAC-SHA256 tag over its header and payload.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
)

var (
	ErrInvalidPubKeySize  = errors.New("invalid public key size: expected 32 bytes")
	ErrInvalidPrivKeySize = errors.New("invalid private key size: expected 32-byte seed or 64-byte key")
)

// KeyPair holds an Ed25519 identity key pair.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateKeyPair generates a new Ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// KeyPairFromPrivateKey accepts either a 32-byte seed or a 64-byte Go
// Ed25519 private key.
func KeyPairFromPrivateKey(b []byte) (*KeyPair, error) {
	var priv ed25519.PrivateKey
	switch len(b) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(b)
	case ed25519.PrivateKeySize:
		priv = make(ed25519.PrivateKey, ed25519.PrivateKeySize)
		copy(priv, b)
	default:
		return nil, ErrInvalidPrivKeySize
	}
	return &KeyPair{PublicKey: priv.Public().(ed25519.PublicKey), PrivateKey: priv}, nil
}

// ParseKeyPair decodes a hex-encoded seed or private key.
func ParseKeyPair(s string) (*KeyPair, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	return KeyPairFromPrivateKey(b)
}

// ParsePublicKey decodes a hex-encoded Ed25519 public key.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, ErrInvalidPubKeySize
	}
	return ed25519.PublicKey(b), nil
}

// PrivateKeyHex returns the 32-byte seed as hex.
func (kp *KeyPair) PrivateKeyHex() string {
	return hex.EncodeToString(kp.PrivateKey.Seed())
}

// PublicKeyHex returns the public key as hex.
func (kp *KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(kp.PublicKey)
}

// Ed25519PubKeyToX25519 converts an Ed25519 public key to its Montgomery
// (X25519) form.
func Ed25519PubKeyToX25519(edPubKey []byte) ([]byte, error) {
	point, err := new(edwards25519.Point).SetBytes(edPubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid Ed25519 public key: %w", err)
	}
	return point.BytesMontgomery(), nil
}

// Ed25519PrivKeyToX25519 converts an Ed25519 private key to its X25519
// scalar (RFC 8032: SHA-512 of the seed, clamped).
func Ed25519PrivKeyToX25519(edPrivKey ed25519.PrivateKey) ([]byte, error) {
	if len(edPrivKey) != ed25519.PrivateKeySize {
		return nil, ErrInvalidPrivKeySize
	}
	h := sha512.Sum512(edPrivKey.Seed())
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return h[:32], nil
}

// SharedSecret derives the 32-byte frame key between a local private key
// and a remote public key.
func SharedSecret(local ed25519.PrivateKey, remote ed25519.PublicKey) ([]byte, error) {
	if len(remote) != ed25519.PublicKeySize {
		return nil, ErrInvalidPubKeySize
	}

	priv, err := Ed25519PrivKeyToX25519(local)
	if err != nil {
		return nil, fmt.Errorf("failed to convert private key: %w", err)
	}
	pub, err := Ed25519PubKeyToX25519(remote)
	if err != nil {
		return nil, fmt.Errorf("failed to convert public key: %w", err)
	}

	secret, err := curve25519.X25519(priv, pub)
	if err != nil {
		return nil, fmt.Errorf("ECDH failed: %w", err)
	}
	return secret, nil
}
