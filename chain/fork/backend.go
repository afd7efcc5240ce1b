package fork

import (
	"github.com/crytic/hydra/chain/fork/cache"
	"github.com/crytic/hydra/chain/fork/rpc"
	"github.com/crytic/hydra/logging"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"golang.org/x/net/context"
)

// Backend fetches state that is not present locally, such as the storage of a contract deployed on chain.
type Backend interface {
	GetStorageAt(address common.Address, slot common.Hash) (common.Hash, error)
	GetBalance(address common.Address) (*uint256.Int, error)
	GetCode(address common.Address) ([]byte, error)
}

// PinnedBackend is a Backend locked to a block height. Local execution starts at that height.
type PinnedBackend interface {
	Backend
	BlockNumber() uint64
}

var _ Backend = (*EmptyBackend)(nil)
var _ PinnedBackend = (*RPCBackend)(nil)

// EmptyBackend reports every account as empty.
type EmptyBackend struct{}

func (EmptyBackend) GetStorageAt(common.Address, common.Hash) (common.Hash, error) {
	return common.Hash{}, nil
}

func (EmptyBackend) GetBalance(common.Address) (*uint256.Int, error) {
	return new(uint256.Int), nil
}

func (EmptyBackend) GetCode(common.Address) ([]byte, error) {
	return nil, nil
}

// RPCBackendConfig describes how to reach and cache a remote node.
type RPCBackendConfig struct {
	// URL is the JSON-RPC endpoint.
	URL string
	// BlockNumber is the block height state is read at. Zero resolves the latest block once at startup.
	BlockNumber uint64
	// PoolSize is the number of connections to open.
	PoolSize uint
	// PersistentCache stores fetched state in WorkDirectory so later runs do not refetch it.
	PersistentCache bool
	// WorkDirectory holds the persistent cache.
	WorkDirectory string
}

// RPCBackend fetches state from a remote node, locked to a single block height. Every result is cached with no
// expiry. Errors are never cached.
type RPCBackend struct {
	context    context.Context
	clientPool *rpc.ClientPool
	height     uint64
	heightTag  string
	cache      cache.StateCache
	logger     *logging.Logger
}

// NewRPCBackend connects to the endpoint and resolves the block height. The backend is released when ctx is
// cancelled or Close is called.
func NewRPCBackend(ctx context.Context, config RPCBackendConfig) (*RPCBackend, error) {
	clientPool, err := rpc.NewClientPool(config.URL, config.PoolSize)
	if err != nil {
		return nil, err
	}
	backend := &RPCBackend{
		context:    ctx,
		clientPool: clientPool,
		height:     config.BlockNumber,
		logger:     logging.GlobalLogger.NewSubLogger("module", logging.RPC_SERVICE),
	}

	if backend.height == 0 {
		var latest hexutil.Uint64
		if err := clientPool.ExecuteRequestBlocking(ctx, &latest, "eth_blockNumber"); err != nil {
			clientPool.Close()
			return nil, errors.Wrap(err, "could not resolve the latest block")
		}
		backend.height = uint64(latest)
	}
	backend.heightTag = hexutil.Uint64(backend.height).String()

	if config.PersistentCache {
		backend.cache, err = cache.NewPersistentCache(ctx, config.WorkDirectory, config.URL, backend.height)
		if err != nil {
			clientPool.Close()
			return nil, err
		}
	} else {
		backend.cache = cache.NewNonPersistentCache()
	}

	backend.logger.Info("Fetching on-chain state from ", config.URL, " at block ", backend.height)
	return backend, nil
}

// BlockNumber returns the height state is read at.
func (q *RPCBackend) BlockNumber() uint64 {
	return q.height
}

// Close releases the cache and connections.
func (q *RPCBackend) Close() error {
	q.clientPool.Close()
	return q.cache.Close()
}

// GetStorageAt returns the value of a slot. Nodes report zero for slots never written.
func (q *RPCBackend) GetStorageAt(address common.Address, slot common.Hash) (common.Hash, error) {
	if data, err := q.cache.GetSlotData(address, slot); err == nil {
		return data, nil
	}

	var result hexutil.Bytes
	err := q.clientPool.ExecuteRequestBlocking(q.context, &result, "eth_getStorageAt", address, slot, q.heightTag)
	if err != nil {
		return common.Hash{}, err
	}
	value := common.BytesToHash(result)
	q.logger.Trace("Fetched slot ", slot.Hex(), " of ", address.Hex())
	return value, q.cache.WriteSlotData(address, slot, value)
}

// GetBalance returns the native balance of an account.
func (q *RPCBackend) GetBalance(address common.Address) (*uint256.Int, error) {
	obj, err := q.getAccount(address)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(obj.Balance), nil
}

// GetCode returns the runtime code of an account.
func (q *RPCBackend) GetCode(address common.Address) ([]byte, error) {
	obj, err := q.getAccount(address)
	if err != nil {
		return nil, err
	}
	return obj.Code, nil
}

// getAccount fetches balance, nonce and code concurrently and caches them together.
func (q *RPCBackend) getAccount(address common.Address) (*cache.AccountObject, error) {
	if obj, err := q.cache.GetAccount(address); err == nil {
		return obj, nil
	}

	pendingBalance, err := q.clientPool.ExecuteRequestAsync(q.context, "eth_getBalance", address, q.heightTag)
	if err != nil {
		return nil, err
	}
	pendingNonce, err := q.clientPool.ExecuteRequestAsync(q.context, "eth_getTransactionCount", address, q.heightTag)
	if err != nil {
		return nil, err
	}
	pendingCode, err := q.clientPool.ExecuteRequestAsync(q.context, "eth_getCode", address, q.heightTag)
	if err != nil {
		return nil, err
	}

	var balance hexutil.Big
	if err := pendingBalance.GetResultBlocking(q.context, &balance); err != nil {
		return nil, err
	}
	var nonce hexutil.Uint64
	if err := pendingNonce.GetResultBlocking(q.context, &nonce); err != nil {
		return nil, err
	}
	var code hexutil.Bytes
	if err := pendingCode.GetResultBlocking(q.context, &code); err != nil {
		return nil, err
	}

	balanceTyped, overflow := uint256.FromBig(balance.ToInt())
	if overflow {
		return nil, errors.Errorf("balance of %s overflows 256 bits", address)
	}
	obj := cache.AccountObject{Balance: balanceTyped, Nonce: uint64(nonce), Code: code}
	q.logger.Trace("Fetched account ", address.Hex())
	return &obj, q.cache.WriteAccount(address, obj)
}
