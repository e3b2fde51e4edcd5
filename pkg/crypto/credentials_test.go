package crypto

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCredentialEncryptor(t *testing.T) {
	_, err := NewCredentialEncryptor("")
	assert.ErrorIs(t, err, ErrInvalidKey)

	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	enc, err := NewCredentialEncryptor(key)
	require.NoError(t, err)
	assert.NotNil(t, enc)

	enc, err = NewCredentialEncryptor("a passphrase of any length")
	require.NoError(t, err)
	assert.NotNil(t, enc)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	enc, err := NewCredentialEncryptor("test-key")
	require.NoError(t, err)

	sealed, err := enc.Encrypt("s3cr3t")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cr3t", sealed)

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", plain)

	empty, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEncrypt_UniqueNonces(t *testing.T) {
	enc, err := NewEphemeralEncryptor()
	require.NoError(t, err)

	a, err := enc.Encrypt("same")
	require.NoError(t, err)
	b, err := enc.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypt_WrongKey(t *testing.T) {
	enc1, err := NewCredentialEncryptor("key-one")
	require.NoError(t, err)
	enc2, err := NewCredentialEncryptor("key-two")
	require.NoError(t, err)

	sealed, err := enc1.Encrypt("password")
	require.NoError(t, err)

	_, err = enc2.Decrypt(sealed)
	assert.True(t, errors.Is(err, ErrDecryptionFailed))

	_, err = enc1.Decrypt("not base64!!")
	assert.True(t, errors.Is(err, ErrDecryptionFailed))
}

func TestSealJSON_OpenJSON(t *testing.T) {
	enc, err := NewEphemeralEncryptor()
	require.NoError(t, err)

	type bundle struct {
		User     string `json:"user"`
		Password string `json:"password"`
	}

	sealed, err := enc.SealJSON(bundle{User: "app", Password: "pw"})
	require.NoError(t, err)

	var out bundle
	require.NoError(t, enc.OpenJSON(sealed, &out))
	assert.Equal(t, bundle{User: "app", Password: "pw"}, out)
}
