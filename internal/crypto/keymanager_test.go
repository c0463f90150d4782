package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptKey(t *testing.T) {
	sealed, err := EncryptKey("0x"+testKeyHex, "correct horse")
	require.NoError(t, err)
	require.NotContains(t, string(sealed), testKeyHex)

	plain, err := DecryptKey(sealed, "correct horse")
	require.NoError(t, err)
	require.Equal(t, testKeyHex, plain)

	_, err = DecryptKey(sealed, "battery staple")
	require.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	t.Run("raw key wins", func(t *testing.T) {
		k, err := LoadKey(KeySource{RawPrivateKey: "0x" + testKeyHex, EncryptedKeyPath: "/nonexistent"})
		require.NoError(t, err)
		require.Equal(t, testKeyHex, k)
	})

	t.Run("encrypted file", func(t *testing.T) {
		sealed, err := EncryptKey(testKeyHex, "pw")
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "key.json")
		require.NoError(t, os.WriteFile(path, sealed, 0o600))

		k, err := LoadKey(KeySource{EncryptedKeyPath: path, KeyPassword: "pw"})
		require.NoError(t, err)
		require.Equal(t, testKeyHex, k)
	})

	t.Run("short key", func(t *testing.T) {
		_, err := LoadKey(KeySource{RawPrivateKey: "abcd"})
		require.Error(t, err)
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := LoadKey(KeySource{})
		require.Error(t, err)
	})
}
