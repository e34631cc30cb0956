package chain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/dualarb/types"
)

// Entry is one row of the chain table as it appears in the config file
type Entry struct {
	Name              string            `yaml:"name"`
	RPCEndpoint       string            `yaml:"rpcEndpoint"`
	RouterAddress     string            `yaml:"routerAddress"`
	NativeTokenSymbol string            `yaml:"nativeTokenSymbol"`
	Tokens            map[string]string `yaml:"tokens"`
	Decimals          map[string]uint8  `yaml:"decimals"`
}

// Registry maps chain IDs to their configuration. It is read-only after construction
// and safe for concurrent use.
type Registry struct {
	chains map[uint64]types.ChainConfig
	ids    []uint64
}

// NewRegistry validates the chain table and builds a registry from it
func NewRegistry(entries map[uint64]Entry) (*Registry, error) {
	var problems []string

	if len(entries) < 2 {
		problems = append(problems, fmt.Sprintf("at least 2 chains are required, got %d", len(entries)))
	}

	chains := make(map[uint64]types.ChainConfig, len(entries))
	for id, e := range entries {
		cfg, errs := e.toChainConfig(id)
		if len(errs) > 0 {
			problems = append(problems, errs...)
			continue
		}
		chains[id] = cfg
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, fmt.Errorf("invalid chain table: %s", strings.Join(problems, "; "))
	}

	ids := make([]uint64, 0, len(chains))
	for id := range chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return &Registry{chains: chains, ids: ids}, nil
}

func (e Entry) toChainConfig(id uint64) (types.ChainConfig, []string) {
	var errs []string
	prefix := fmt.Sprintf("chain %d", id)

	if id == 0 {
		errs = append(errs, "chain id must be non-zero")
	}
	if e.Name == "" {
		errs = append(errs, prefix+": name must be specified")
	}
	if e.RPCEndpoint == "" {
		errs = append(errs, prefix+": rpcEndpoint must be specified")
	}
	if !common.IsHexAddress(e.RouterAddress) {
		errs = append(errs, prefix+": routerAddress is not a valid address")
	}
	if e.NativeTokenSymbol == "" {
		errs = append(errs, prefix+": nativeTokenSymbol must be specified")
	}
	if len(e.Tokens) == 0 {
		errs = append(errs, prefix+": at least one token must be mapped")
	}

	tokens := make(map[string]common.Address, len(e.Tokens))
	for symbol, addr := range e.Tokens {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("%s: token %s has invalid address %q", prefix, symbol, addr))
			continue
		}
		tokens[symbol] = common.HexToAddress(addr)
	}

	decimals := make(map[string]uint8, len(e.Decimals))
	for symbol, d := range e.Decimals {
		if _, ok := e.Tokens[symbol]; !ok {
			errs = append(errs, fmt.Sprintf("%s: decimals given for unmapped token %s", prefix, symbol))
			continue
		}
		if d > 36 {
			errs = append(errs, fmt.Sprintf("%s: token %s decimals out of range", prefix, symbol))
			continue
		}
		decimals[symbol] = d
	}

	return types.ChainConfig{
		ChainID:           id,
		Name:              e.Name,
		RPCEndpoint:       e.RPCEndpoint,
		RouterAddress:     common.HexToAddress(e.RouterAddress),
		NativeTokenSymbol: e.NativeTokenSymbol,
		Tokens:            tokens,
		Decimals:          decimals,
	}, errs
}

// Chain returns the configuration for a chain
func (r *Registry) Chain(chainID uint64) (types.ChainConfig, error) {
	cfg, ok := r.chains[chainID]
	if !ok {
		return types.ChainConfig{}, fmt.Errorf("%w: %d", types.ErrUnsupportedChain, chainID)
	}
	return cfg, nil
}

// Token resolves a symbol on a chain to its address and decimals
func (r *Registry) Token(chainID uint64, symbol string) (common.Address, uint8, error) {
	cfg, err := r.Chain(chainID)
	if err != nil {
		return common.Address{}, 0, err
	}
	addr, ok := cfg.Tokens[symbol]
	if !ok {
		return common.Address{}, 0, fmt.Errorf("%w: %s on chain %d", types.ErrUnknownToken, symbol, chainID)
	}
	return addr, cfg.TokenDecimals(symbol), nil
}

// IDs returns every configured chain ID in ascending order
func (r *Registry) IDs() []uint64 {
	out := make([]uint64, len(r.ids))
	copy(out, r.ids)
	return out
}

// Chains returns every configured chain in ID order
func (r *Registry) Chains() []types.ChainConfig {
	out := make([]types.ChainConfig, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.chains[id])
	}
	return out
}
