// Package amount converts human decimal amounts into integer base units and
// back, using exact fixed-point arithmetic.
package amount

import (
	"math/big"
	"regexp"
	"strings"

	xerrors "OpenMCP-Sui/internal/errors"
)

// Normalize converts a decimal string such as "1.5" into base units for a
// token with the given precision. Digits beyond the precision are truncated.
func Normalize(amount string, decimals uint8) (string, error) {
	value, err := parse(amount)
	if err != nil {
		return "", err
	}
	scaled := new(big.Rat).Mul(value, new(big.Rat).SetInt(pow10(decimals)))
	base := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if !base.IsUint64() {
		return "", xerrors.New(xerrors.CodeInvalidAmount, "amount exceeds u64 range",
			xerrors.WithMetadata("amount", amount))
	}
	return base.String(), nil
}

// MustNormalize is Normalize for constants known to be valid.
func MustNormalize(amount string, decimals uint8) string {
	out, err := Normalize(amount, decimals)
	if err != nil {
		panic(err)
	}
	return out
}

// Format renders base units as an exact decimal string without trailing zeros.
func Format(base string, decimals uint8) (string, error) {
	value, err := parseBase(base)
	if err != nil {
		return "", err
	}
	whole, frac := new(big.Int).QuoRem(value, pow10(decimals), new(big.Int))
	if decimals == 0 || frac.Sign() == 0 {
		return whole.String(), nil
	}
	digits := frac.String()
	digits = strings.Repeat("0", int(decimals)-len(digits)) + digits
	return whole.String() + "." + strings.TrimRight(digits, "0"), nil
}

// FormatFixed renders base units with exactly places fractional digits,
// rounding half away from zero.
func FormatFixed(base string, decimals uint8, places int) (string, error) {
	value, err := parseBase(base)
	if err != nil {
		return "", err
	}
	return new(big.Rat).SetFrac(value, pow10(decimals)).FloatString(places), nil
}

// decimalPattern accepts plain decimal notation with an optional exponent.
// big.Rat alone would also take fractions and base-prefixed literals like 0x10.
var decimalPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d{1,3})?$`)

func parse(amount string) (*big.Rat, error) {
	s := strings.TrimSpace(amount)
	if !decimalPattern.MatchString(s) {
		return nil, invalid(amount)
	}
	value, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, invalid(amount)
	}
	if value.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, "amount must not be negative",
			xerrors.WithMetadata("amount", amount))
	}
	return value, nil
}

func parseBase(base string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(base), 10)
	if !ok || value.Sign() < 0 {
		return nil, invalid(base)
	}
	return value, nil
}

func invalid(amount string) error {
	return xerrors.New(xerrors.CodeInvalidAmount, "amount is not a decimal number",
		xerrors.WithMetadata("amount", amount))
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
