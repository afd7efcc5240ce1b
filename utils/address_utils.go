package utils

import (
	"encoding/hex"
	"strings"

	"github.com/crytic/medusa-geth/common"
	"github.com/pkg/errors"
)

// HexStringToAddress converts a hex string (with or without the "0x" prefix) to a common.Address. Returns an error
// if the string is not valid hex or is longer than an address.
func HexStringToAddress(s string) (common.Address, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(trimmed)%2 == 1 {
		trimmed = "0" + trimmed
	}
	b, err := hex.DecodeString(trimmed)
	if err != nil || len(b) > common.AddressLength {
		return common.Address{}, errors.Errorf("invalid address '%s'", s)
	}
	return common.BytesToAddress(b), nil
}

// HexStringsToAddresses converts every hex string provided to a common.Address. Returns an error on the first
// invalid string.
func HexStringsToAddresses(addresses []string) ([]common.Address, error) {
	parsed := make([]common.Address, 0, len(addresses))
	for _, s := range addresses {
		address, err := HexStringToAddress(s)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, address)
	}
	return parsed, nil
}
