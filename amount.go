package x402

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// AmountToBigInt converts a decimal amount string to atomic units.
// For example, "1.5" with 6 decimals becomes 1500000. Negative amounts and
// amounts finer than the token's precision are rejected.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, amount)
	}

	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, amount, decimals)
	}
	return scaled.BigInt(), nil
}

// BigIntToAmount converts atomic units to a decimal string.
// For example, 1500000 with 6 decimals becomes "1.5".
func BigIntToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).String()
}

// FormatAmount renders an atomic amount string for display, e.g. "1000" with
// 6 decimals as "0.001". Unparseable amounts are returned unchanged.
func FormatAmount(atomic string, decimals int) string {
	v, ok := new(big.Int).SetString(atomic, 10)
	if !ok {
		return atomic
	}
	return BigIntToAmount(v, decimals)
}
