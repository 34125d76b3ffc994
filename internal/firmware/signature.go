package firmware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jedisct1/go-minisign"
)

var (
	// ErrNoPublicKey is returned when uploads cannot be verified because no key is configured
	ErrNoPublicKey = errors.New("firmware: no public key configured")

	// ErrInvalidSignature is returned when an image does not match its signature
	ErrInvalidSignature = errors.New("firmware: invalid signature")
)

// ParsePublicKey parses a minisign public key (the base64 line of a .pub file)
func ParsePublicKey(keyStr string) (minisign.PublicKey, error) {
	return minisign.NewPublicKey(strings.TrimSpace(keyStr))
}

// VerifySignature checks image against the text of a .minisig file
func VerifySignature(image []byte, sigText string, pubKey minisign.PublicKey) error {
	sig, err := minisign.DecodeSignature(strings.TrimSpace(sigText))
	if err != nil {
		return fmt.Errorf("decode signature: %v: %w", err, ErrInvalidSignature)
	}

	valid, err := pubKey.Verify(image, sig)
	if err != nil {
		return fmt.Errorf("verify signature: %v: %w", err, ErrInvalidSignature)
	}
	if !valid {
		return ErrInvalidSignature
	}
	return nil
}
