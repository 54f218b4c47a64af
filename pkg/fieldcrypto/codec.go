/**
 * @description
 * Field-level encryption for values persisted in string columns. Two independent
 * key classes are supported: general data (amounts, team names, sanction reasons)
 * and PII (names, date of birth, country, email).
 *
 * @dependencies
 * - golang.org/x/crypto/chacha20poly1305: XChaCha20-Poly1305 AEAD.
 * - golang.org/x/crypto/hkdf: per-class key derivation from the configured secrets.
 */
package fieldcrypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeyClass selects which key a value is sealed with.
type KeyClass int

const (
	General KeyClass = iota
	PII
)

func (k KeyClass) String() string {
	switch k {
	case General:
		return "general"
	case PII:
		return "pii"
	default:
		return fmt.Sprintf("KeyClass(%d)", int(k))
	}
}

var (
	ErrMissingKey      = errors.New("fieldcrypto: encryption key not configured")
	ErrUnknownKeyClass = errors.New("fieldcrypto: unknown key class")
	ErrDecrypt         = errors.New("fieldcrypto: unable to decrypt value")
)

// Codec encrypts and decrypts string fields.
type Codec struct {
	aeads map[KeyClass]cipher.AEAD
}

// New derives one AEAD per key class. Both secrets are required.
func New(generalSecret, piiSecret string) (*Codec, error) {
	secrets := map[KeyClass]string{
		General: strings.TrimSpace(generalSecret),
		PII:     strings.TrimSpace(piiSecret),
	}

	aeads := make(map[KeyClass]cipher.AEAD, len(secrets))
	for class, secret := range secrets {
		if secret == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingKey, class)
		}
		key, err := deriveKey(secret, class)
		if err != nil {
			return nil, err
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("fieldcrypto: init %s cipher: %w", class, err)
		}
		aeads[class] = aead
	}
	return &Codec{aeads: aeads}, nil
}

func deriveKey(secret string, class KeyClass) ([]byte, error) {
	info := []byte("filpass/field-encryption/" + class.String())
	reader := hkdf.New(sha256.New, []byte(secret), nil, info)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("fieldcrypto: derive %s key: %w", class, err)
	}
	return key, nil
}

// Encrypt seals plaintext with a fresh random nonce. The nonce is prepended to
// the sealed box and the frame is base64 encoded. Empty input is returned as is.
func (c *Codec) Encrypt(plaintext string, class KeyClass) (string, error) {
	if plaintext == "" {
		return plaintext, nil
	}
	aead, ok := c.aeads[class]
	if !ok {
		return "", ErrUnknownKeyClass
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("fieldcrypto: read nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Empty input is returned as is.
func (c *Codec) Decrypt(ciphertext string, class KeyClass) (string, error) {
	if ciphertext == "" {
		return ciphertext, nil
	}
	aead, ok := c.aeads[class]
	if !ok {
		return "", ErrUnknownKeyClass
	}

	frame, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(frame) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: frame too short", ErrDecrypt)
	}

	nonce, box := frame[:aead.NonceSize()], frame[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plaintext), nil
}

// EncryptOptional encrypts a nullable value.
func (c *Codec) EncryptOptional(value *string, class KeyClass) (*string, error) {
	if value == nil {
		return nil, nil
	}
	out, err := c.Encrypt(*value, class)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DecryptOptional decrypts a nullable value.
func (c *Codec) DecryptOptional(value *string, class KeyClass) (*string, error) {
	if value == nil {
		return nil, nil
	}
	out, err := c.Decrypt(*value, class)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
