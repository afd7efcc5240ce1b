package fork

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// RPCURLEnvironmentVariable overrides the RPC URL of every chain preset when set.
const RPCURLEnvironmentVariable = "ETH_RPC_URL"

// Chain is a known network with a default public RPC endpoint.
type Chain struct {
	Name       string
	ChainID    uint64
	DefaultRPC string
}

var chains = []Chain{
	{"eth", 1, "https://eth.merkle.io"},
	{"goerli", 5, "https://rpc.ankr.com/eth_goerli"},
	{"sepolia", 11155111, "https://rpc.ankr.com/eth_sepolia"},
	{"bsc", 56, "https://rpc.ankr.com/bsc"},
	{"chapel", 97, "https://rpc.ankr.com/bsc_testnet_chapel"},
	{"polygon", 137, "https://polygon.llamarpc.com"},
	{"mumbai", 80001, "https://rpc-mumbai.maticvigil.com/"},
	{"fantom", 250, "https://rpc.ankr.com/fantom"},
	{"avalanche", 43114, "https://rpc.ankr.com/avalanche"},
	{"optimism", 10, "https://rpc.ankr.com/optimism"},
	{"arbitrum", 42161, "https://rpc.ankr.com/arbitrum"},
	{"gnosis", 100, "https://rpc.ankr.com/gnosis"},
	{"base", 8453, "https://developer-access-mainnet.base.org"},
	{"celo", 42220, "https://rpc.ankr.com/celo"},
	{"zkevm", 1101, "https://rpc.ankr.com/polygon_zkevm"},
	{"zkevm_testnet", 1442, "https://rpc.ankr.com/polygon_zkevm_testnet"},
	{"blast", 81457, "https://rpc.ankr.com/blast"},
	{"local", 31337, "http://localhost:8545"},
}

// ChainByName looks up a preset by name, case-insensitively. "mainnet" is an alias of "eth".
func ChainByName(name string) (Chain, error) {
	name = strings.ToLower(name)
	if name == "mainnet" {
		name = "eth"
	}
	for _, chain := range chains {
		if chain.Name == name {
			return chain, nil
		}
	}
	return Chain{}, errors.Errorf("unknown chain %q", name)
}

// ChainByID looks up a preset by chain id.
func ChainByID(id uint64) (Chain, error) {
	for _, chain := range chains {
		if chain.ChainID == id {
			return chain, nil
		}
	}
	return Chain{}, errors.Errorf("unknown chain id %d", id)
}

// RPCURL returns the endpoint to use for the chain: the environment override when set, the default otherwise.
func (c Chain) RPCURL() string {
	if url := os.Getenv(RPCURLEnvironmentVariable); url != "" {
		return url
	}
	return c.DefaultRPC
}
