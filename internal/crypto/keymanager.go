// Package crypto holds the voucher-signing key and the EIP-712 signer that
// authorises buyers to settle listings on-chain.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 1
)

// sealedKey is the on-disk format of a password-protected signing key.
type sealedKey struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where the voucher-signing key comes from. A raw key wins
// over an encrypted key file.
type KeySource struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

// EncryptKey seals a hex-encoded secp256k1 key with password using
// PBKDF2-HMAC-SHA256 and AES-256-GCM. The result is the JSON key file body.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto/key: password must not be empty")
	}
	keyBytes, err := decodeKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto/key: salt: %w", err)
	}
	gcm, err := keyCipher(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto/key: nonce: %w", err)
	}

	return json.MarshalIndent(sealedKey{
		Version:    keyFileVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey and returns the key as
// hex without a 0x prefix.
func DecryptKey(sealed []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto/key: password must not be empty")
	}

	var sk sealedKey
	if err := json.Unmarshal(sealed, &sk); err != nil {
		return "", fmt.Errorf("crypto/key: parse key file: %w", err)
	}
	if sk.Version != keyFileVersion {
		return "", fmt.Errorf("crypto/key: unsupported key file version %d", sk.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(sk.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto/key: salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(sk.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto/key: nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(sk.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto/key: ciphertext: %w", err)
	}

	gcm, err := keyCipher(password, salt)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto/key: decrypt (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// LoadKey resolves the signing key from src.
func LoadKey(src KeySource) (string, error) {
	if src.RawPrivateKey != "" {
		keyBytes, err := decodeKeyHex(src.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(keyBytes), nil
	}

	if src.EncryptedKeyPath != "" {
		data, err := os.ReadFile(src.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto/key: read key file: %w", err)
		}
		return DecryptKey(data, src.KeyPassword)
	}

	return "", errors.New("crypto/key: no signing key configured")
}

func decodeKeyHex(s string) ([]byte, error) {
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/key: key is not valid hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("crypto/key: expected 32-byte key, got %d bytes", len(keyBytes))
	}
	return keyBytes, nil
}

func keyCipher(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto/key: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto/key: gcm: %w", err)
	}
	return gcm, nil
}
