package config

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Balance is an amount of wei. It is serialized as a decimal string and parses decimal, scientific ("1e18") and hex
// ("0x10") notation.
type Balance struct {
	big.Int
}

// NewBalance creates a Balance of amount wei.
func NewBalance(amount *big.Int) Balance {
	var b Balance
	b.Set(amount)
	return b
}

// Uint256 returns the balance as a word, saturating at the maximum.
func (b *Balance) Uint256() *uint256.Int {
	value, overflow := uint256.FromBig(&b.Int)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return value
}

func (b *Balance) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		b.SetInt64(0)
		return nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if _, ok := b.SetString(s[2:], 16); !ok {
			return errors.Errorf("invalid hex balance %q", s)
		}
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return errors.Wrapf(err, "invalid balance %q", s)
	}
	if d.IsNegative() {
		return errors.Errorf("balance %q cannot be negative", s)
	}
	b.Set(d.BigInt())
	return nil
}

// MarshalJSON implements json.Marshaler.
func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Balance) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.WithStack(err)
	}
	return b.parse(s)
}

// MarshalYAML implements yaml.Marshaler.
func (b Balance) MarshalYAML() (any, error) {
	return b.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *Balance) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return errors.WithStack(err)
	}
	return b.parse(s)
}
