package security

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptionService_EncryptDecrypt(t *testing.T) {
	service := NewEncryptionService("test-key-123")

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty string", ""},
		{"simple text", "hello world"},
		{"special characters", "!@#$%^&*()_+-=[]{}|;':\",./<>?"},
		{"long text", "This is a very long text that should be encrypted and decrypted properly without any issues"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := service.Encrypt(tt.plaintext)
			require.NoError(t, err)

			if tt.plaintext == "" {
				assert.Equal(t, "", ciphertext)
				return
			}

			assert.NotEqual(t, tt.plaintext, ciphertext)
			assert.NotEmpty(t, ciphertext)

			decrypted, err := service.Decrypt(ciphertext)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, decrypted)
		})
	}
}

func TestEncryptionService_SameKeySharedAcrossProcesses(t *testing.T) {
	// The API seals plans and the engine opens them with a separately
	// constructed service from the same passphrase
	sealer := NewEncryptionService("shared-key")
	opener := NewEncryptionService("shared-key")

	ciphertext, err := sealer.Encrypt("s3cr3t")
	require.NoError(t, err)

	plaintext, err := opener.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", plaintext)
}

func TestEncryptionService_EncryptSensitiveFields(t *testing.T) {
	service := NewEncryptionService("test-key-123")

	params := map[string]interface{}{
		"url":           "https://orders.internal/api/v1/orders",
		"method":        "POST",
		"password":      "secret123",
		"api_key":       "key123",
		"Authorization": "Bearer abc",
		"retries":       42,
	}

	encrypted, err := service.EncryptSensitiveFields(params)
	require.NoError(t, err)

	assert.NotEqual(t, "secret123", encrypted["password"])
	assert.NotEqual(t, "key123", encrypted["api_key"])
	assert.NotEqual(t, "Bearer abc", encrypted["Authorization"])

	assert.Equal(t, "https://orders.internal/api/v1/orders", encrypted["url"])
	assert.Equal(t, "POST", encrypted["method"])
	assert.Equal(t, 42, encrypted["retries"])

	decrypted, err := service.DecryptSensitiveFields(encrypted)
	require.NoError(t, err)

	assert.Equal(t, "secret123", decrypted["password"])
	assert.Equal(t, "key123", decrypted["api_key"])
	assert.Equal(t, "Bearer abc", decrypted["Authorization"])
}

func TestEncryptionService_EncryptSensitiveFieldsNilMap(t *testing.T) {
	service := NewEncryptionService("test-key-123")

	result, err := service.EncryptSensitiveFields(nil)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestIsSensitiveParameter(t *testing.T) {
	tests := []struct {
		name      string
		sensitive bool
	}{
		{"password", true},
		{"db_password", true},
		{"API_KEY", true},
		{"Authorization", true},
		{"client_secret", true},
		{"refresh_token", true},
		{"url", false},
		{"method", false},
		{"expected_status", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.sensitive, IsSensitiveParameter(tt.name))
		})
	}
}

func TestGenerateSecureToken(t *testing.T) {
	lengths := []int{16, 32, 64}

	for _, length := range lengths {
		t.Run(fmt.Sprintf("length_%d", length), func(t *testing.T) {
			token, err := GenerateSecureToken(length)
			require.NoError(t, err)
			assert.NotEmpty(t, token)

			token2, err := GenerateSecureToken(length)
			require.NoError(t, err)
			assert.NotEqual(t, token, token2)
		})
	}
}

func TestEncryptionService_DecryptInvalidData(t *testing.T) {
	service := NewEncryptionService("test-key-123")

	t.Run("invalid base64", func(t *testing.T) {
		_, err := service.Decrypt("invalid-base64!")
		assert.Error(t, err)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := service.Decrypt("dGVzdA==")
		assert.Error(t, err)
	})

	t.Run("wrong key", func(t *testing.T) {
		other := NewEncryptionService("another-key")

		encrypted, err := service.Encrypt("test")
		require.NoError(t, err)

		_, err = other.Decrypt(encrypted)
		assert.Error(t, err)
	})
}
