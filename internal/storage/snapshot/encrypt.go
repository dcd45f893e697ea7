package snapshot

import (
	"github.com/yndnr/meshkv/internal/core/domain"
	"github.com/yndnr/meshkv/pkg/crypto/adaptive"
)

// keyInfo binds derived keys to this file format.
const keyInfo = "meshkv snapshot v1"

// MinSecretLength is the shortest accepted encryption secret.
const MinSecretLength = 16

// NewCodecFromSecret derives the body key from a configured secret.
// An empty secret yields a plaintext codec.
func NewCodecFromSecret(secret string) (*Codec, error) {
	if secret == "" {
		return NewCodec(nil)
	}
	if len(secret) < MinSecretLength {
		return nil, domain.ErrConfiguration.Detailf("encryption key must be at least %d bytes", MinSecretLength)
	}
	key, err := adaptive.DeriveKey([]byte(secret), keyInfo)
	if err != nil {
		return nil, domain.ErrConfiguration.WithDetails("derive encryption key").WithCause(err)
	}
	return NewCodec(key)
}
