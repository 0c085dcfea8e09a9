package solana

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const (
	signatureLen = ed25519.SignatureSize
	pubkeyLen    = ed25519.PublicKeySize
)

// decodeShortU16 reads Solana's compact-u16 length prefix.
func decodeShortU16(b []byte) (val int, n int, err error) {
	for n < 3 {
		if n >= len(b) {
			return 0, 0, errors.New("solana: truncated compact-u16")
		}
		elem := int(b[n])
		val |= (elem & 0x7f) << (7 * n)
		n++
		if elem&0x80 == 0 {
			return val, n, nil
		}
	}
	return 0, 0, errors.New("solana: compact-u16 overflow")
}

// signTransaction signs a serialized (legacy or v0) transaction whose fee
// payer is key, filling signature slot 0. The other slots are left intact.
func signTransaction(raw []byte, key ed25519.PrivateKey) ([]byte, []byte, error) {
	numSigs, n, err := decodeShortU16(raw)
	if err != nil {
		return nil, nil, err
	}
	if numSigs < 1 {
		return nil, nil, errors.New("solana: transaction has no signature slots")
	}
	msgStart := n + numSigs*signatureLen
	if msgStart >= len(raw) {
		return nil, nil, errors.New("solana: truncated transaction")
	}
	msg := raw[msgStart:]

	payer, err := feePayer(msg)
	if err != nil {
		return nil, nil, err
	}
	pub := key.Public().(ed25519.PublicKey)
	if !bytes.Equal(payer, pub) {
		return nil, nil, fmt.Errorf("solana: fee payer %s is not the wallet %s",
			base58.Encode(payer), base58.Encode(pub))
	}

	sig := ed25519.Sign(key, msg)
	out := make([]byte, len(raw))
	copy(out, raw)
	copy(out[n:n+signatureLen], sig)
	return out, sig, nil
}

// feePayer returns the first account key of a message.
func feePayer(msg []byte) ([]byte, error) {
	i := 0
	if len(msg) > 0 && msg[0]&0x80 != 0 {
		i++ // versioned message prefix
	}
	i += 3 // header
	if i >= len(msg) {
		return nil, errors.New("solana: truncated message header")
	}
	numKeys, n, err := decodeShortU16(msg[i:])
	if err != nil {
		return nil, err
	}
	i += n
	if numKeys < 1 || i+pubkeyLen > len(msg) {
		return nil, errors.New("solana: message has no account keys")
	}
	return msg[i : i+pubkeyLen], nil
}

// validateWallet checks that addr is a base58 ed25519 point, i.e. an address
// that can sign, not a program-derived address.
func validateWallet(addr string) error {
	b, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("solana: decode address %q: %w", addr, err)
	}
	if len(b) != pubkeyLen {
		return fmt.Errorf("solana: address %q has %d bytes", addr, len(b))
	}
	if _, err := new(edwards25519.Point).SetBytes(b); err != nil {
		return fmt.Errorf("solana: address %q is off curve", addr)
	}
	return nil
}
