package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the key length used by both algorithms.
const KeySize = 32

// CipherType identifies the cipher algorithm.
type CipherType string

const (
	CipherAESGCM   CipherType = "aes-gcm"
	CipherChaCha20 CipherType = "chacha20-poly1305"
)

// ErrDecrypt is returned when authentication fails.
var ErrDecrypt = errors.New("adaptive: decryption failed")

// Cipher provides authenticated encryption. The nonce is prepended to the
// ciphertext.
type Cipher struct {
	typ  CipherType
	aead cipher.AEAD
}

// New creates a cipher with the algorithm best suited to this CPU.
func New(key []byte) (*Cipher, error) {
	return NewWithType(key, Preferred())
}

// Preferred returns AES-GCM where Go uses hardware AES, ChaCha20 otherwise.
func Preferred() CipherType {
	switch runtime.GOARCH {
	case "amd64", "arm64", "s390x", "ppc64le":
		return CipherAESGCM
	default:
		return CipherChaCha20
	}
}

// NewWithType creates a cipher of the specified type.
func NewWithType(key []byte, typ CipherType) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("adaptive: key must be %d bytes, got %d", KeySize, len(key))
	}

	var (
		aead cipher.AEAD
		err  error
	)
	switch typ {
	case CipherAESGCM:
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case CipherChaCha20:
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("adaptive: unknown cipher type %q", typ)
	}
	if err != nil {
		return nil, err
	}
	return &Cipher{typ: typ, aead: aead}, nil
}

// Type returns the cipher type.
func (c *Cipher) Type() CipherType { return c.typ }

// Overhead returns the bytes added to each plaintext.
func (c *Cipher) Overhead() int {
	return c.aead.NonceSize() + c.aead.Overhead()
}

// Encrypt seals plaintext, binding additionalData.
func (c *Cipher) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

// Decrypt opens ciphertext produced by Encrypt.
func (c *Cipher) Decrypt(ciphertext, additionalData []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(ciphertext) < ns+c.aead.Overhead() {
		return nil, ErrDecrypt
	}
	plain, err := c.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], additionalData)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// DeriveKey stretches secret into a KeySize key bound to info with HKDF-SHA256.
// secret must carry enough entropy on its own; this is not a password hash.
func DeriveKey(secret []byte, info string) ([]byte, error) {
	if len(secret) < 16 {
		return nil, errors.New("adaptive: secret must be at least 16 bytes")
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("adaptive: derive key: %w", err)
	}
	return key, nil
}
