package domain

import (
	"fmt"
	"regexp"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// Well-known chain ids. Solana has no EVM chain id; 999 is the id the
// position records have always used for it.
const (
	ChainEthereum int64 = 1
	ChainBSC      int64 = 56
	ChainBase     int64 = 8453
	ChainSolana   int64 = 999
)

// ChainFamily selects the swap provider implementation for a chain.
type ChainFamily string

const (
	FamilyEVM    ChainFamily = "evm"
	FamilySolana ChainFamily = "solana"
)

// Chain is one entry of the static chain registry.
type Chain struct {
	ID                  int64
	Name                string
	Family              ChainFamily
	NativeSymbol        string
	NativeDecimals      uint8
	WrappedNative       string // base asset for routed paths
	QuoteAsset          string // asset received on sell
	QuoteAssetUSDPegged bool
	ReserveAsset        string // optional USD-pegged top-up source
	ReserveDecimals     uint8
	GasBuffer           decimal.Decimal // native units kept aside for fees
	NativeCoinGeckoID   string
	NativeFallbackUSD   decimal.Decimal
	DexScreenerID       string
}

var evmAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// DetectChain infers a chain id from the shape of a token address: 0x-prefixed
// hex is treated as BSC, a base58 32-byte key as Solana.
func DetectChain(address string) (int64, error) {
	if evmAddressRe.MatchString(address) {
		return ChainBSC, nil
	}
	if b, err := base58.Decode(address); err == nil && len(b) == 32 {
		return ChainSolana, nil
	}
	return 0, fmt.Errorf("detect chain for %q: %w", address, ErrUnsupportedChain)
}
