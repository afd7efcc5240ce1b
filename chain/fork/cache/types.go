package cache

import (
	"github.com/crytic/medusa-geth/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// ErrCacheMiss is returned when the requested item is not cached.
var ErrCacheMiss = errors.New("not found in cache")

// AccountObject is the cached account data fetched from chain.
type AccountObject struct {
	Balance *uint256.Int `json:"balance"`
	Nonce   uint64       `json:"nonce"`
	Code    []byte       `json:"code"`
}

// StateCache caches account objects and storage slots fetched from chain.
type StateCache interface {
	GetAccount(address common.Address) (*AccountObject, error)
	WriteAccount(address common.Address, data AccountObject) error

	GetSlotData(address common.Address, slot common.Hash) (common.Hash, error)
	WriteSlotData(address common.Address, slot common.Hash, data common.Hash) error

	Close() error
}
