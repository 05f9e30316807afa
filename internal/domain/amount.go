package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of minor units in one display unit.
const AmountScale = 1_000_000

// AmountDecimals is the number of decimal places carried by an Amount.
const AmountDecimals = 6

// BpsDenominator converts basis points to a fraction.
const BpsDenominator = 10_000

// Amount is a currency value in fixed-point minor units (value * 1e6).
type Amount int64

// ParseAmount parses a decimal string such as "92.5" into minor units.
// More than six fractional digits is rejected rather than silently rounded.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("amount: empty value")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount: parse %q: %w", s, err)
	}
	return AmountFromDecimal(d)
}

// AmountFromDecimal converts a decimal display value into minor units.
func AmountFromDecimal(d decimal.Decimal) (Amount, error) {
	scaled := d.Shift(AmountDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount: %s has more than %d decimal places", d.String(), AmountDecimals)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount: %s out of range", d.String())
	}
	return Amount(scaled.IntPart()), nil
}

// MustAmount is ParseAmount for constants in tests and defaults.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Decimal returns the display value.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -AmountDecimals)
}

// String renders the display value without trailing zeros ("92.5").
func (a Amount) String() string {
	return a.Decimal().String()
}

// MarshalText encodes the amount as a decimal string so JSON clients never
// see floating point values.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Amount) UnmarshalText(text []byte) error {
	v, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// MulBps returns floor(a * bps / 10000). The product is computed in decimal
// so large amounts cannot overflow int64 before the division.
func (a Amount) MulBps(bps int) Amount {
	if a <= 0 || bps <= 0 {
		return 0
	}
	v := decimal.NewFromInt(int64(a)).
		Mul(decimal.NewFromInt(int64(bps))).
		Div(decimal.NewFromInt(BpsDenominator)).
		Floor()
	return Amount(v.IntPart())
}

// MulQty returns a * qty, reporting overflow.
func (a Amount) MulQty(qty int) (Amount, error) {
	v := decimal.NewFromInt(int64(a)).Mul(decimal.NewFromInt(int64(qty)))
	if !v.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount: %s x %d overflows", a, qty)
	}
	return Amount(v.IntPart()), nil
}

// FeeSplit is the result of splitting a sale price.
type FeeSplit struct {
	PlatformFee    Amount
	RoyaltyFee     Amount
	SellerProceeds Amount
}

// SplitFees floors both fees and gives the remainder to the seller, so
// PlatformFee + RoyaltyFee + SellerProceeds == price always holds.
func SplitFees(price Amount, platformFeeBps, royaltyBps int) FeeSplit {
	platform := price.MulBps(platformFeeBps)
	royalty := price.MulBps(royaltyBps)
	return FeeSplit{
		PlatformFee:    platform,
		RoyaltyFee:     royalty,
		SellerProceeds: price - platform - royalty,
	}
}
