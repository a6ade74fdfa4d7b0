package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeyFile(t *testing.T, der []byte, blockType string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "key.pem")
	block := &pem.Block{Type: blockType, Bytes: der}
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestLoadRSAPrivateKey_PKCS1(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := writeKeyFile(t, x509.MarshalPKCS1PrivateKey(key), "RSA PRIVATE KEY")

	loaded, err := LoadRSAPrivateKey(path)
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))
}

func TestLoadRSAPrivateKey_PKCS8(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	path := writeKeyFile(t, der, "PRIVATE KEY")

	loaded, err := LoadRSAPrivateKey(path)
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))
}

func TestLoadRSAPrivateKey_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadRSAPrivateKey(filepath.Join(t.TempDir(), "missing.pem"))
	require.Error(t, err)
}

func TestLoadRSAPrivateKey_NotPEM(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "not-pem.txt")
	require.NoError(t, os.WriteFile(path, []byte("not a pem file"), 0o600))

	_, err := LoadRSAPrivateKey(path)
	require.Error(t, err)
}
