// Package adaptive provides authenticated encryption for snapshot bodies.
//
// Supported Algorithms:
//
//   - AES-256-GCM: preferred when hardware AES support is available
//   - ChaCha20-Poly1305: fallback for other platforms
//
// Usage:
//
//	key, err := adaptive.DeriveKey(secret, "meshkv snapshot")
//	c, err := adaptive.New(key)
//	sealed, err := c.Encrypt(body, header)
//	body, err = c.Decrypt(sealed, header)
package adaptive
