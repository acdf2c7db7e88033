// Package crypto provides the authenticated encryption used to seal every
// packet exchanged by the core. Adapted from the teacher's AES-GCM/AES-CBC
// context, generalized to seal/open the wire envelopes in pkg/wire.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"

	"github.com/streamcore/streamcore/pkg/wire"
)

var (
	ErrInvalidKey       = errors.New("crypto: invalid key size")
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
)

// Context holds encryption/decryption state for the 16-byte pre-shared
// key described in spec.md §1 and §6.
type Context struct {
	gcm cipher.AEAD
}

// NewContext creates a crypto context from a pre-shared AES key. Only
// 16/24/32-byte keys are accepted; spec.md §6 specifies a 16-byte key.
func NewContext(key []byte) (*Context, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Context{gcm: gcm}, nil
}

// SealUDP encrypts a plaintext Packet into a UDPEnvelope with a fresh
// random nonce.
func (c *Context) SealUDP(plaintext []byte) (*wire.UDPEnvelope, error) {
	env := &wire.UDPEnvelope{}
	if _, err := rand.Read(env.IV[:]); err != nil {
		return nil, err
	}
	sealed := c.gcm.Seal(nil, env.IV[:], plaintext, nil)
	tagStart := len(sealed) - c.gcm.Overhead()
	copy(env.Tag[:], sealed[tagStart:])
	env.Ciphertext = sealed[:tagStart]
	return env, nil
}

// OpenUDP decrypts and authenticates a UDPEnvelope. Any tampering or
// truncation is reported as ErrDecryptionFailed; callers drop the packet
// silently per spec.md §3/§7 — replay is not independently mitigated here,
// relying on the ring buffer's frame-id monotonicity instead.
func (c *Context) OpenUDP(env *wire.UDPEnvelope) ([]byte, error) {
	sealed := make([]byte, len(env.Ciphertext)+len(env.Tag))
	copy(sealed, env.Ciphertext)
	copy(sealed[len(env.Ciphertext):], env.Tag[:])
	plaintext, err := c.gcm.Open(nil, env.IV[:], sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// SealTCP encrypts a plaintext message into a TCPEnvelope.
func (c *Context) SealTCP(plaintext []byte) (*wire.TCPEnvelope, error) {
	env := &wire.TCPEnvelope{DeclaredPayloadSize: int32(len(plaintext))}
	if _, err := rand.Read(env.IV[:]); err != nil {
		return nil, err
	}
	sealed := c.gcm.Seal(nil, env.IV[:], plaintext, nil)
	tagStart := len(sealed) - c.gcm.Overhead()
	copy(env.Tag[:], sealed[tagStart:])
	env.Ciphertext = sealed[:tagStart]
	env.DeclaredPayloadSize = int32(len(env.Ciphertext))
	return env, nil
}

// OpenTCP decrypts and authenticates a TCPEnvelope.
func (c *Context) OpenTCP(env *wire.TCPEnvelope) ([]byte, error) {
	sealed := make([]byte, len(env.Ciphertext)+len(env.Tag))
	copy(sealed, env.Ciphertext)
	copy(sealed[len(env.Ciphertext):], env.Tag[:])
	plaintext, err := c.gcm.Open(nil, env.IV[:], sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// ChallengeResponse proves possession of the pre-shared key without
// transmitting it: seal a server-chosen nonce and let the peer verify the
// tag, per spec.md §6's handshake.
func (c *Context) ChallengeResponse(nonce []byte) ([]byte, error) {
	env, err := c.SealTCP(nonce)
	if err != nil {
		return nil, err
	}
	return env.Marshal(), nil
}
