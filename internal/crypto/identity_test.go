package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known test vector: the Hardhat default account #0.
const (
	testKeyHex  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddrHex = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestAddressFromKey(t *testing.T) {
	addr, err := AddressFromKey(testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddrHex), addr)

	// 0x prefix is accepted too.
	addr, err = AddressFromKey("0x" + testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddrHex), addr)

	_, err = AddressFromKey("not-hex")
	require.Error(t, err)
}

func TestResolveAddress_LiteralWins(t *testing.T) {
	addr, err := ResolveAddress(testAddrHex, KeyConfig{})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddrHex), addr)

	_, err = ResolveAddress("0xzz", KeyConfig{})
	require.Error(t, err)
}

func TestResolveAddress_FromEncryptedKey(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "correct horse")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.enc")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	addr, err := ResolveAddress("", KeyConfig{
		EncryptedKeyPath: path,
		KeyPassword:      "correct horse",
	})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddrHex), addr)

	_, err = ResolveAddress("", KeyConfig{
		EncryptedKeyPath: path,
		KeyPassword:      "wrong password",
	})
	require.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "s3cret")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = DecryptKey(blob, "nope")
	require.Error(t, err)

	_, err = EncryptKey("short", "s3cret")
	require.Error(t, err)
}
