package web3

import (
	"sort"
	"strings"

	xerrors "OpenMCP-Sui/internal/errors"
)

// SUICoinType is the fully qualified type of the native gas coin.
const SUICoinType = "0x2::sui::SUI"

// Token is a coin symbol resolved to its on-chain type and precision.
type Token struct {
	Symbol   string
	CoinType string
	Decimals uint8
}

// IsNative reports whether the token is the gas coin.
func (t Token) IsNative() bool {
	return t.CoinType == SUICoinType
}

// TokenRegistry maps user-facing symbols to coin metadata.
type TokenRegistry struct {
	tokens map[string]Token
}

// DefaultTokens returns the built-in SUI and USDC definitions.
func DefaultTokens() map[string]TokenDefinition {
	return map[string]TokenDefinition{
		"SUI":  {CoinType: SUICoinType, Decimals: 9},
		"USDC": {CoinType: "0xa1ec7fc00a6f40db9693ad1415d0c193ad3906494428cf252621037bd7117e29::usdc::USDC", Decimals: 6},
	}
}

// NewTokenRegistry builds a registry from the defaults overlaid with defs.
func NewTokenRegistry(defs map[string]TokenDefinition) *TokenRegistry {
	merged := DefaultTokens()
	for symbol, def := range defs {
		merged[strings.ToUpper(strings.TrimSpace(symbol))] = def
	}
	tokens := make(map[string]Token, len(merged))
	for symbol, def := range merged {
		tokens[symbol] = Token{Symbol: symbol, CoinType: def.CoinType, Decimals: def.Decimals}
	}
	return &TokenRegistry{tokens: tokens}
}

// Lookup resolves a symbol case-insensitively. An empty symbol means SUI.
func (r *TokenRegistry) Lookup(symbol string) (Token, error) {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	if key == "" {
		key = "SUI"
	}
	if token, ok := r.tokens[key]; ok {
		return token, nil
	}
	return Token{}, xerrors.New(xerrors.CodeUnknownToken, "unsupported token "+symbol,
		xerrors.WithMetadata("token", symbol))
}

// Symbols lists registered symbols in sorted order.
func (r *TokenRegistry) Symbols() []string {
	out := make([]string, 0, len(r.tokens))
	for symbol := range r.tokens {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}
