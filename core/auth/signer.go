package auth

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/kabili207/whisper-go/core/codec"
)

var (
	ErrUnsigned    = errors.New("frame is not signed")
	ErrTagMismatch = errors.New("frame tag verification failed")
)

// Signer signs and verifies frames with a shared secret.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer from a pre-computed shared secret.
func NewSigner(secret []byte) *Signer {
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Signer{secret: s}
}

// NewPeerSigner derives the shared secret between local and remote and
// returns a Signer for it.
func NewPeerSigner(local *KeyPair, remote ed25519.PublicKey) (*Signer, error) {
	secret, err := SharedSecret(local.PrivateKey, remote)
	if err != nil {
		return nil, fmt.Errorf("deriving frame key: %w", err)
	}
	return NewSigner(secret), nil
}

func (s *Signer) tag(f *codec.Frame) [codec.TagSize]byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(f.AuthenticatedBytes())
	var t [codec.TagSize]byte
	copy(t[:], mac.Sum(nil))
	return t
}

// Sign sets the signed flag and tag on f.
func (s *Signer) Sign(f *codec.Frame) {
	f.Flags |= codec.FlagSigned
	f.Tag = s.tag(f)
}

// Verify checks the tag on f.
func (s *Signer) Verify(f *codec.Frame) error {
	if !f.Signed() {
		return ErrUnsigned
	}
	want := s.tag(f)
	if !hmac.Equal(want[:], f.Tag[:]) {
		return ErrTagMismatch
	}
	return nil
}
