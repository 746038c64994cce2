package archive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"dbrewind/internal/apperrors"
)

const (
	keySize          = 32
	pbkdf2Iterations = 100000
	saltSize         = 16
)

// Encryptor seals archive payloads with AES-256-GCM. A nil Encryptor is a
// valid no-op.
type Encryptor struct {
	key []byte
}

// NewEncryptor wraps a raw 256-bit key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return &Encryptor{key: key}, nil
}

// NewEncryptorFromPassphrase derives a key from a passphrase with PBKDF2.
// The salt must be stable across encrypt and decrypt; callers persist it in
// the archive header.
func NewEncryptorFromPassphrase(passphrase string, salt []byte) (*Encryptor, error) {
	if passphrase == "" {
		return nil, apperrors.Errorf(apperrors.KindStorage, "empty encryption passphrase")
	}
	if len(salt) != saltSize {
		return nil, apperrors.Errorf(apperrors.KindStorage, "encryption salt must be %d bytes", saltSize)
	}
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
	return &Encryptor{key: key}, nil
}

// NewEncryptorFromEnv loads a hex-encoded key from an environment variable.
func NewEncryptorFromEnv(envVar string) (*Encryptor, error) {
	hexKey := os.Getenv(envVar)
	if hexKey == "" {
		return nil, apperrors.Errorf(apperrors.KindStorage, "environment variable %s not set", envVar)
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to decode hex key from environment", err)
	}
	return NewEncryptor(key)
}

// GenerateKey produces a fresh random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to generate encryption key", err)
	}
	return key, nil
}

// GenerateSalt produces a fresh random PBKDF2 salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to generate salt", err)
	}
	return salt, nil
}

// ValidateKey rejects keys of the wrong size and trivially weak keys.
func ValidateKey(key []byte) error {
	if len(key) != keySize {
		return apperrors.Errorf(apperrors.KindStorage, "encryption key must be %d bytes", keySize)
	}
	allZeros, allOnes := true, true
	for _, b := range key {
		if b != 0 {
			allZeros = false
		}
		if b != 0xFF {
			allOnes = false
		}
	}
	if allZeros || allOnes {
		return apperrors.Errorf(apperrors.KindStorage, "encryption key is trivially weak")
	}
	return nil
}

// Encrypt seals plaintext; the nonce is prepended to the ciphertext.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if e == nil {
		return plaintext, nil
	}
	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to generate nonce", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt. Tampered or wrong-key payloads fail with
// KindCorruption.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if e == nil {
		return ciphertext, nil
	}
	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, apperrors.Errorf(apperrors.KindCorruption, "encrypted payload shorter than nonce")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, apperrors.New(apperrors.KindCorruption, "failed to decrypt archive payload", err)
	}
	return plaintext, nil
}

func (e *Encryptor) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to create GCM mode", err)
	}
	return gcm, nil
}
