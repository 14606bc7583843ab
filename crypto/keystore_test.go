package crypto

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadKeystoreRoundTrips(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "publisher.json")
	require.NoError(t, SaveToKeystore(path, key, "correct horse battery staple"))

	loaded, err := LoadFromKeystore(path, "correct horse battery staple")
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), loaded.Bytes())
}

func TestLoadFromKeystoreRejectsWrongPassphrase(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "publisher.json")
	require.NoError(t, SaveToKeystore(path, key, "correct horse battery staple"))

	_, err = LoadFromKeystore(path, "wrong passphrase")
	require.Error(t, err)
}
