package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrInvalidAESKeySize    = errors.New("invalid AES key size")
	ErrInvalidEncodedFormat = errors.New("invalid encoded identifier, expecting base64url")
	ErrCiphertextTooShort   = errors.New("ciphertext too short, cannot extract nonce")
	ErrDecryptionFailed     = errors.New("identifier decryption failed")
)

const (
	// AES-256 requires a 32-byte key.
	aes256KeyBytes = 32
	// GCM standard nonce size.
	gcmNonceSizeBytes = 12
)

// Sha256Hex computes the SHA256 hash of an input string and returns it hex-encoded.
func Sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// IdentifierCodec reversibly encodes the stored user identifier.
// With a key it seals with AES-256-GCM; without one it only base64url-encodes.
// Neither mode is a security boundary.
type IdentifierCodec struct {
	aead cipher.AEAD
}

// NewIdentifierCodec builds a codec from a hex-encoded 32-byte key. An empty key yields
// the plain base64url codec.
func NewIdentifierCodec(aesKeyHex string) (*IdentifierCodec, error) {
	if aesKeyHex == "" {
		return &IdentifierCodec{}, nil
	}
	key, err := hex.DecodeString(aesKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode AES key from hex: %w", err)
	}
	if len(key) != aes256KeyBytes {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAESKeySize, aes256KeyBytes, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher block: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return &IdentifierCodec{aead: aead}, nil
}

// Encode returns the base64url form of the (optionally sealed) identifier: nonce (12 bytes) + ciphertext.
func (c *IdentifierCodec) Encode(plain string) (string, error) {
	if c.aead == nil {
		return base64.URLEncoding.EncodeToString([]byte(plain)), nil
	}
	nonce := make([]byte, gcmNonceSizeBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decode reverses Encode.
func (c *IdentifierCodec) Decode(encoded string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEncodedFormat, err)
	}
	if c.aead == nil {
		return string(raw), nil
	}
	if len(raw) < gcmNonceSizeBytes {
		return "", fmt.Errorf("%w: length %d, minimum %d", ErrCiphertextTooShort, len(raw), gcmNonceSizeBytes)
	}
	plaintext, err := c.aead.Open(nil, raw[:gcmNonceSizeBytes], raw[gcmNonceSizeBytes:], nil)
	if err != nil {
		// Usually "cipher: message authentication failed", i.e. a foreign key or tampered value.
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
