// Package crypto loads the hot-wallet keys used to sign swaps, either from a
// raw value or from a password-encrypted key file.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	envelopeVersion  = 2
)

// KeyFamily tags which chain family an encrypted key belongs to.
type KeyFamily string

const (
	FamilyEVM    KeyFamily = "evm"
	FamilySolana KeyFamily = "solana"
)

// envelope is the on-disk format of an encrypted key. Binary fields are
// standard base64.
type envelope struct {
	Version    int       `json:"version"`
	Family     KeyFamily `json:"family"`
	Salt       string    `json:"salt"`
	Nonce      string    `json:"nonce"`
	Ciphertext string    `json:"ciphertext"`
}

// KeyConfig says where a wallet key comes from. Raw takes precedence over
// EncryptedPath.
type KeyConfig struct {
	Raw           string
	EncryptedPath string
	Password      string
}

// Seal encrypts key material with PBKDF2-HMAC-SHA256 and AES-256-GCM and
// returns the JSON envelope. The family is bound into the ciphertext as
// associated data, so a file cannot be loaded for the wrong chain family.
func Seal(family KeyFamily, secret []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if len(secret) == 0 {
		return nil, errors.New("crypto: empty key")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	return json.MarshalIndent(envelope{
		Version:    envelopeVersion,
		Family:     family,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, secret, []byte(family))),
	}, "", "  ")
}

// Open decrypts an envelope produced by Seal for the given family.
func Open(family KeyFamily, data []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("crypto: parsing key file: %w", err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("crypto: unsupported key file version %d", env.Version)
	}
	if env.Family != family {
		return nil, fmt.Errorf("crypto: key file is for %q, want %q", env.Family, family)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("crypto: nonce is %d bytes", len(nonce))
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, []byte(family))
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return plain, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// readSealed loads and opens cfg.EncryptedPath.
func readSealed(family KeyFamily, cfg KeyConfig) ([]byte, error) {
	data, err := os.ReadFile(cfg.EncryptedPath)
	if err != nil {
		return nil, fmt.Errorf("crypto: reading key file: %w", err)
	}
	return Open(family, data, cfg.Password)
}
