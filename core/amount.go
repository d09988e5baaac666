package core

import (
	"errors"
	"math/big"
	"regexp"

	"github.com/shopspring/decimal"
)

// amountPattern accepts plain non-negative decimals: "1", "1.", "1.5", ".5".
// Signs, exponents, separators and whitespace are rejected.
var amountPattern = regexp.MustCompile(`^(?:[0-9]+\.?[0-9]*|\.[0-9]+)$`)

var errInvalidAmount = errors.New("invalid amount format")

// ParseAmount parses a user-entered ETH amount without any locale interpretation
func ParseAmount(s string) (decimal.Decimal, error) {
	if !amountPattern.MatchString(s) {
		return decimal.Zero, errInvalidAmount
	}
	if s[0] == '.' {
		s = "0" + s
	}
	if s[len(s)-1] == '.' {
		s += "0"
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errInvalidAmount
	}
	return d, nil
}

// EthToWei converts ETH to base units, truncating anything past 18 fractional digits
func EthToWei(eth decimal.Decimal) *big.Int {
	return eth.Shift(EthDecimals).Truncate(0).BigInt()
}

// WeiToEth converts base units to ETH exactly
func WeiToEth(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -EthDecimals)
}

// FormatBalance truncates to DisplayDecimals fractional digits and strips trailing zeros.
// It never rounds up.
func FormatBalance(eth decimal.Decimal) string {
	return eth.Truncate(DisplayDecimals).String()
}
