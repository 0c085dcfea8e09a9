package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
)

var errNoSource = errors.New("crypto: no key source configured (set a raw key or an encrypted key file)")

// LoadEVMKey resolves a secp256k1 key from hex (with or without 0x) or from
// an encrypted file holding the 32 raw bytes.
func LoadEVMKey(cfg KeyConfig) (*ecdsa.PrivateKey, error) {
	var raw []byte
	switch {
	case cfg.Raw != "":
		b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(cfg.Raw), "0x"))
		if err != nil {
			return nil, fmt.Errorf("crypto: evm key is not valid hex: %w", err)
		}
		raw = b
	case cfg.EncryptedPath != "":
		b, err := readSealed(FamilyEVM, cfg)
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		return nil, errNoSource
	}
	key, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid evm key: %w", err)
	}
	return key, nil
}

// EVMAddress returns the checksummed address of key.
func EVMAddress(key *ecdsa.PrivateKey) string {
	return ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
}

// LoadSolanaKey resolves an ed25519 key. The raw value may be a base58
// 64-byte keypair, a base58 32-byte seed, or the JSON byte array written by
// solana-keygen. An encrypted file holds the 64-byte keypair.
func LoadSolanaKey(cfg KeyConfig) (ed25519.PrivateKey, error) {
	var raw []byte
	switch {
	case cfg.Raw != "":
		b, err := decodeSolanaSecret(strings.TrimSpace(cfg.Raw))
		if err != nil {
			return nil, err
		}
		raw = b
	case cfg.EncryptedPath != "":
		b, err := readSealed(FamilySolana, cfg)
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		return nil, errNoSource
	}
	return solanaKey(raw)
}

// SolanaAddress returns the base58 public key of key.
func SolanaAddress(key ed25519.PrivateKey) string {
	return base58.Encode(key.Public().(ed25519.PublicKey))
}

func decodeSolanaSecret(s string) ([]byte, error) {
	if strings.HasPrefix(s, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(s), &ints); err != nil {
			return nil, fmt.Errorf("crypto: solana key array: %w", err)
		}
		out := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("crypto: solana key array byte %d out of range", i)
			}
			out[i] = byte(v)
		}
		return out, nil
	}
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: solana key is not valid base58: %w", err)
	}
	return b, nil
}

func solanaKey(raw []byte) (ed25519.PrivateKey, error) {
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		key := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if !bytes.Equal(key[ed25519.SeedSize:], raw[ed25519.SeedSize:]) {
			return nil, errors.New("crypto: solana keypair public half does not match its seed")
		}
		return key, nil
	default:
		return nil, fmt.Errorf("crypto: solana key must be 32 or 64 bytes, got %d", len(raw))
	}
}

// SealWalletKey parses a raw key of the given family, seals its canonical
// bytes for an encrypted key file, and returns the wallet address.
func SealWalletKey(family KeyFamily, raw, password string) ([]byte, string, error) {
	var (
		secret  []byte
		address string
	)
	switch family {
	case FamilyEVM:
		key, err := LoadEVMKey(KeyConfig{Raw: raw})
		if err != nil {
			return nil, "", err
		}
		secret, address = ethcrypto.FromECDSA(key), EVMAddress(key)
	case FamilySolana:
		key, err := LoadSolanaKey(KeyConfig{Raw: raw})
		if err != nil {
			return nil, "", err
		}
		secret, address = []byte(key), SolanaAddress(key)
	default:
		return nil, "", fmt.Errorf("crypto: unknown key family %q", family)
	}
	sealed, err := Seal(family, secret, password)
	if err != nil {
		return nil, "", err
	}
	return sealed, address, nil
}
