package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// sensitiveParameterNames are the step parameter keys whose values are
// encrypted before a plan is persisted. Matching is case-insensitive and
// substring-based so "db_password" and "Authorization" are both caught.
var sensitiveParameterNames = []string{
	"password", "token", "secret", "credential",
	"api_key", "apikey", "authorization", "private_key",
}

// EncryptionService encrypts sensitive step parameters so stored test plans
// never hold target-service credentials in the clear
type EncryptionService struct {
	key []byte
}

// NewEncryptionService creates an encryption service from a passphrase.
// The AES key is derived with PBKDF2, so the same passphrase yields the same
// key in the API and engine processes sharing one store.
func NewEncryptionService(key string) *EncryptionService {
	salt := []byte("intelli-qa-plan-store")
	derivedKey := pbkdf2.Key([]byte(key), salt, 10000, 32, sha256.New)

	return &EncryptionService{key: derivedKey}
}

// Encrypt encrypts plaintext using AES-GCM and returns it base64-encoded
func (e *EncryptionService) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt
func (e *EncryptionService) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// EncryptSensitiveFields returns a copy of the map with sensitive string
// values encrypted. Non-string and non-sensitive values pass through.
func (e *EncryptionService) EncryptSensitiveFields(data map[string]interface{}) (map[string]interface{}, error) {
	return e.transformSensitiveFields(data, e.Encrypt)
}

// DecryptSensitiveFields reverses EncryptSensitiveFields
func (e *EncryptionService) DecryptSensitiveFields(data map[string]interface{}) (map[string]interface{}, error) {
	return e.transformSensitiveFields(data, e.Decrypt)
}

func (e *EncryptionService) transformSensitiveFields(data map[string]interface{}, transform func(string) (string, error)) (map[string]interface{}, error) {
	if data == nil {
		return nil, nil
	}

	result := make(map[string]interface{}, len(data))
	for k, v := range data {
		str, isString := v.(string)
		if !isString || str == "" || !IsSensitiveParameter(k) {
			result[k] = v
			continue
		}

		transformed, err := transform(str)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		result[k] = transformed
	}

	return result, nil
}

// IsSensitiveParameter reports whether a step parameter name holds a value
// that must not be persisted in the clear
func IsSensitiveParameter(name string) bool {
	lowered := strings.ToLower(name)
	for _, sensitive := range sensitiveParameterNames {
		if strings.Contains(lowered, sensitive) {
			return true
		}
	}
	return false
}

// GenerateSecureToken generates a cryptographically secure random token,
// used for API bootstrap tokens
func GenerateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}
