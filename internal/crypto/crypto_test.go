package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignKnownVector(t *testing.T) {
	// Reference vector from the exchange REST documentation.
	auth := &HMACAuth{
		Key:    "vmPUZE6mv9SD5VNHk4HlWFsOr6aKE2zvsw0MuIgwCIPy6utIco14y7Ju91duEh8A",
		Secret: "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j",
	}
	query := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"

	sig := auth.Sign(query)
	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", sig)
	assert.Equal(t, query+"&signature="+sig, auth.SignQuery(query))
}

func TestHMACAuthRedacted(t *testing.T) {
	auth := &HMACAuth{Key: "abcdef", Secret: "123456"}
	s := auth.String()
	assert.NotContains(t, s, "abcdef")
	assert.NotContains(t, s, "123456")
	assert.Contains(t, s, "abcd****")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP"
	blob, err := EncryptSecret(secret, "hunter2")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptSecret("some-secret", "right")
	require.NoError(t, err)

	_, err = DecryptSecret(blob, "wrong")
	require.Error(t, err)
}

func TestEncryptValidation(t *testing.T) {
	_, err := EncryptSecret("", "pw")
	require.Error(t, err)
	_, err = EncryptSecret("secret", "")
	require.Error(t, err)
}

func TestLoadSecret(t *testing.T) {
	// Raw secret takes precedence.
	got, err := LoadSecret(SecretConfig{RawSecret: "raw"})
	require.NoError(t, err)
	assert.Equal(t, "raw", got)

	// Encrypted file path.
	blob, err := EncryptSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretConfig{EncryptedSecretPath: path, SecretPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	// Nothing configured.
	_, err = LoadSecret(SecretConfig{})
	require.Error(t, err)
}
