package cache

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/crytic/hydra/logging"
	"github.com/crytic/hydra/utils"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/crypto"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
	"golang.org/x/net/context"
)

const (
	// cacheDirectoryName is the directory under the work directory holding cache databases.
	cacheDirectoryName = ".rpccache"
	// bucketName is the bbolt bucket holding every cached item.
	bucketName = "cache"
	// defaultFlushThreshold is the number of pending writes which triggers a flush to disk.
	defaultFlushThreshold = 25
)

// persistentCache is a thread-safe StateCache backed by an in-memory cache and a bbolt database. Writes are batched
// and flushed once the threshold is reached, and on Close.
type persistentCache struct {
	memCache *nonPersistentStateCache
	db       *bbolt.DB

	pendingWriteMutex sync.Mutex
	pendingWrites     []pendingWrite
	flushThreshold    int

	closeOnce sync.Once
	closeErr  error
}

type pendingWrite struct {
	key   []byte
	value []byte
}

// NewPersistentCache opens the cache database for the endpoint and block height under workDirectory. The database is
// closed when ctx is cancelled or Close is called.
func NewPersistentCache(ctx context.Context, workDirectory string, endpoint string, height uint64) (StateCache, error) {
	cacheDirectory := filepath.Join(workDirectory, cacheDirectoryName)
	if err := utils.MakeDirectory(cacheDirectory); err != nil {
		return nil, errors.Wrap(err, "failed to create cache directory")
	}
	cacheFile := filepath.Join(cacheDirectory, CacheFilename(endpoint, height))
	db, err := bbolt.Open(cacheFile, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "could not open cache database %s", cacheFile)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.WithStack(err)
	}

	p := &persistentCache{
		memCache:       newNonPersistentStateCache(),
		db:             db,
		flushThreshold: defaultFlushThreshold,
		pendingWrites:  make([]pendingWrite, 0),
	}

	go func() {
		<-ctx.Done()
		if err := p.Close(); err != nil {
			logging.GlobalLogger.NewSubLogger("module", logging.RPC_SERVICE).Error("Failed to close the RPC cache", err)
		}
	}()
	return p, nil
}

// CacheFilename returns the database file name for an endpoint and block height.
func CacheFilename(endpoint string, height uint64) string {
	digest := crypto.Keccak256([]byte(endpoint))
	return fmt.Sprintf("%d-%x.dat", height, digest[:10])
}

func (p *persistentCache) getFromPersist(key []byte, value any) (bool, error) {
	found := false
	err := p.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, value)
	})
	if err != nil {
		return false, errors.Wrap(err, "could not read cache entry")
	}
	return found, nil
}

func (p *persistentCache) writeToPersist(key []byte, value []byte) error {
	p.pendingWriteMutex.Lock()
	defer p.pendingWriteMutex.Unlock()

	p.pendingWrites = append(p.pendingWrites, pendingWrite{key: key, value: value})
	if len(p.pendingWrites) >= p.flushThreshold {
		return p.flushWrites()
	}
	return nil
}

// flushWrites writes all pending writes in one transaction. The caller must hold pendingWriteMutex.
func (p *persistentCache) flushWrites() error {
	if len(p.pendingWrites) == 0 {
		return nil
	}
	err := p.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		for _, pw := range p.pendingWrites {
			if err := bucket.Put(pw.key, pw.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "could not flush cache writes")
	}
	p.pendingWrites = p.pendingWrites[:0]
	return nil
}

func (p *persistentCache) GetAccount(address common.Address) (*AccountObject, error) {
	obj, err := p.memCache.GetAccount(address)
	if err == nil || !errors.Is(err, ErrCacheMiss) {
		return obj, err
	}

	var stored AccountObject
	exists, err := p.getFromPersist(address.Bytes(), &stored)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrCacheMiss
	}
	return &stored, p.memCache.WriteAccount(address, stored)
}

func (p *persistentCache) GetSlotData(address common.Address, slot common.Hash) (common.Hash, error) {
	data, err := p.memCache.GetSlotData(address, slot)
	if err == nil || !errors.Is(err, ErrCacheMiss) {
		return data, err
	}

	var stored common.Hash
	exists, err := p.getFromPersist(slotKey(address, slot), &stored)
	if err != nil {
		return common.Hash{}, err
	}
	if !exists {
		return common.Hash{}, ErrCacheMiss
	}
	return stored, p.memCache.WriteSlotData(address, slot, stored)
}

func (p *persistentCache) WriteAccount(address common.Address, data AccountObject) error {
	if err := p.memCache.WriteAccount(address, data); err != nil {
		return err
	}
	serialized, err := json.Marshal(data)
	if err != nil {
		return errors.WithStack(err)
	}
	return p.writeToPersist(address.Bytes(), serialized)
}

func (p *persistentCache) WriteSlotData(address common.Address, slot common.Hash, data common.Hash) error {
	if err := p.memCache.WriteSlotData(address, slot, data); err != nil {
		return err
	}
	serialized, err := json.Marshal(data)
	if err != nil {
		return errors.WithStack(err)
	}
	return p.writeToPersist(slotKey(address, slot), serialized)
}

// Close flushes pending writes and closes the database. Later calls return the first call's result.
func (p *persistentCache) Close() error {
	p.closeOnce.Do(func() {
		p.pendingWriteMutex.Lock()
		err := p.flushWrites()
		p.pendingWriteMutex.Unlock()
		if closeErr := p.db.Close(); err == nil && closeErr != nil {
			err = errors.WithStack(closeErr)
		}
		p.closeErr = err
	})
	return p.closeErr
}

func slotKey(address common.Address, slot common.Hash) []byte {
	key := make([]byte, 0, common.AddressLength+common.HashLength)
	key = append(key, address.Bytes()...)
	return append(key, slot.Bytes()...)
}
