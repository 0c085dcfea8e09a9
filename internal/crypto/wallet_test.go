package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	sealed, err := Seal(FamilyEVM, secret, "hunter2")
	require.NoError(t, err)

	got, err := Open(FamilyEVM, sealed, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, secret, got)

	_, err = Open(FamilyEVM, sealed, "wrong")
	assert.ErrorContains(t, err, "wrong password")

	_, err = Open(FamilySolana, sealed, "hunter2")
	assert.ErrorContains(t, err, "key file is for")

	_, err = Seal(FamilyEVM, secret, "")
	assert.Error(t, err)
}

func TestLoadEVMKey(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	want := EVMAddress(key)
	rawHex := hex.EncodeToString(ethcrypto.FromECDSA(key))

	for _, raw := range []string{rawHex, "0x" + rawHex, "  0x" + rawHex + "\n"} {
		got, err := LoadEVMKey(KeyConfig{Raw: raw})
		require.NoError(t, err)
		assert.Equal(t, want, EVMAddress(got))
	}

	sealed, err := Seal(FamilyEVM, ethcrypto.FromECDSA(key), "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "evm.key.json")
	require.NoError(t, os.WriteFile(path, sealed, 0o600))

	got, err := LoadEVMKey(KeyConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, want, EVMAddress(got))

	_, err = LoadEVMKey(KeyConfig{Raw: "zz"})
	assert.Error(t, err)
	_, err = LoadEVMKey(KeyConfig{Raw: "abcd"})
	assert.Error(t, err, "too short for secp256k1")
	_, err = LoadEVMKey(KeyConfig{})
	assert.ErrorIs(t, err, errNoSource)
}

func TestLoadSolanaKey(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	key := ed25519.NewKeyFromSeed(seed)
	want := base58.Encode(key.Public().(ed25519.PublicKey))

	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	arr, err := json.Marshal(ints)
	require.NoError(t, err)

	cases := map[string]string{
		"keypair": base58.Encode(key),
		"seed":    base58.Encode(seed),
		"array":   string(arr),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := LoadSolanaKey(KeyConfig{Raw: raw})
			require.NoError(t, err)
			assert.Equal(t, want, SolanaAddress(got))
		})
	}

	t.Run("encrypted", func(t *testing.T) {
		sealed, err := Seal(FamilySolana, key, "pw")
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "sol.key.json")
		require.NoError(t, os.WriteFile(path, sealed, 0o600))

		got, err := LoadSolanaKey(KeyConfig{EncryptedPath: path, Password: "pw"})
		require.NoError(t, err)
		assert.Equal(t, want, SolanaAddress(got))
	})

	t.Run("mismatched keypair", func(t *testing.T) {
		bad := append([]byte(nil), key...)
		bad[63] ^= 0xff
		_, err := LoadSolanaKey(KeyConfig{Raw: base58.Encode(bad)})
		assert.ErrorContains(t, err, "does not match")
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := LoadSolanaKey(KeyConfig{Raw: base58.Encode([]byte{1, 2, 3})})
		assert.Error(t, err)
	})
}

func TestSealWalletKey(t *testing.T) {
	dir := t.TempDir()

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	sealed, addr, err := SealWalletKey(FamilyEVM, "0x"+hex.EncodeToString(ethcrypto.FromECDSA(key)), "pw")
	require.NoError(t, err)
	assert.Equal(t, EVMAddress(key), addr)

	path := filepath.Join(dir, "evm.key")
	require.NoError(t, os.WriteFile(path, sealed, 0o600))
	loaded, err := LoadEVMKey(KeyConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, addr, EVMAddress(loaded))

	_, sol, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	sealed, addr, err = SealWalletKey(FamilySolana, base58.Encode(sol.Seed()), "pw")
	require.NoError(t, err)
	assert.Equal(t, SolanaAddress(sol), addr)

	path = filepath.Join(dir, "sol.key")
	require.NoError(t, os.WriteFile(path, sealed, 0o600))
	loadedSol, err := LoadSolanaKey(KeyConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, addr, SolanaAddress(loadedSol))

	_, _, err = SealWalletKey("bitcoin", "abc", "pw")
	assert.Error(t, err)
}
