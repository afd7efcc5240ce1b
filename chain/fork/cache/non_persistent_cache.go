package cache

import (
	"sync"

	"github.com/crytic/medusa-geth/common"
)

// nonPersistentStateCache is a thread-safe in-memory StateCache.
type nonPersistentStateCache struct {
	accountLock  sync.RWMutex
	accountCache map[common.Address]*AccountObject

	slotLock  sync.RWMutex
	slotCache map[common.Address]map[common.Hash]common.Hash
}

// NewNonPersistentCache creates an in-memory StateCache.
func NewNonPersistentCache() StateCache {
	return newNonPersistentStateCache()
}

func newNonPersistentStateCache() *nonPersistentStateCache {
	return &nonPersistentStateCache{
		accountCache: make(map[common.Address]*AccountObject),
		slotCache:    make(map[common.Address]map[common.Hash]common.Hash),
	}
}

// GetAccount returns the cached account or ErrCacheMiss.
func (s *nonPersistentStateCache) GetAccount(address common.Address) (*AccountObject, error) {
	s.accountLock.RLock()
	defer s.accountLock.RUnlock()

	obj, ok := s.accountCache[address]
	if !ok {
		return nil, ErrCacheMiss
	}
	return obj, nil
}

func (s *nonPersistentStateCache) WriteAccount(address common.Address, data AccountObject) error {
	s.accountLock.Lock()
	defer s.accountLock.Unlock()
	s.accountCache[address] = &data
	return nil
}

// GetSlotData returns the cached slot or ErrCacheMiss.
func (s *nonPersistentStateCache) GetSlotData(address common.Address, slot common.Hash) (common.Hash, error) {
	s.slotLock.RLock()
	defer s.slotLock.RUnlock()
	if slots, ok := s.slotCache[address]; ok {
		if data, ok := slots[slot]; ok {
			return data, nil
		}
	}
	return common.Hash{}, ErrCacheMiss
}

func (s *nonPersistentStateCache) WriteSlotData(address common.Address, slot common.Hash, data common.Hash) error {
	s.slotLock.Lock()
	defer s.slotLock.Unlock()

	if _, ok := s.slotCache[address]; !ok {
		s.slotCache[address] = make(map[common.Hash]common.Hash)
	}
	s.slotCache[address][slot] = data
	return nil
}

func (s *nonPersistentStateCache) Close() error {
	return nil
}
