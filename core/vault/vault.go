package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrNoKey     = errors.New("vault: encryption key is missing or not 256 bits")
	ErrMalformed = errors.New("vault: stored value is malformed")
	ErrIntegrity = errors.New("vault: integrity check failed")
	ErrBadState  = errors.New("vault: invalid state token")
)

const gcmTagSize = 16

// Vault encrypts credentials before they reach storage and signs OAuth
// state tokens. A single 256-bit master key is supplied out-of-band; two
// independent subkeys are derived from it so the encryption key never
// doubles as a MAC key.
type Vault struct {
	aead    cipher.AEAD
	signKey []byte
}

// New builds a Vault from a hex-encoded 256-bit master key.
func New(keyHex string) (*Vault, error) {
	master, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil || len(master) != 32 {
		return nil, ErrNoKey
	}

	encKey := make([]byte, 32)
	signKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte("orbyt-credential-encryption")), encKey); err != nil {
		return nil, fmt.Errorf("vault: derive encryption key: %w", err)
	}
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte("orbyt-oauth-state-signing")), signKey); err != nil {
		return nil, fmt.Errorf("vault: derive signing key: %w", err)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	return &Vault{aead: aead, signKey: signKey}, nil
}

// Encrypt seals plaintext with a fresh random nonce. The stored form is
// hex(nonce):hex(tag):hex(ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}

	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt opens a value produced by Encrypt.
func (v *Vault) Decrypt(token string) (string, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return "", ErrMalformed
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != v.aead.NonceSize() {
		return "", ErrMalformed
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != gcmTagSize {
		return "", ErrMalformed
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformed
	}

	plaintext, err := v.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plaintext), nil
}

// SignState produces an anti-CSRF state token of the form nonce.hexsig.
func (v *Vault) SignState(nonce string) string {
	mac := hmac.New(sha256.New, v.signKey)
	mac.Write([]byte(nonce))
	return nonce + "." + hex.EncodeToString(mac.Sum(nil))
}

// VerifyState checks a state token in constant time.
func (v *Vault) VerifyState(state string) error {
	idx := strings.LastIndex(state, ".")
	if idx <= 0 || idx == len(state)-1 {
		return ErrBadState
	}
	nonce, sig := state[:idx], state[idx+1:]

	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrBadState
	}

	mac := hmac.New(sha256.New, v.signKey)
	mac.Write([]byte(nonce))
	want := mac.Sum(nil)

	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrBadState
	}
	return nil
}
