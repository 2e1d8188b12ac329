package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ZKCipherAI/internal/config"
	"ZKCipherAI/internal/ledger"
	"ZKCipherAI/internal/ledger/ethereum"
)

// Registry manages a set of anchor clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]ledger.Client
	definitions  map[string]ledger.ChainDefinition
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg config.LedgerConfig) (*Registry, error) {
	defs, err := ledger.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]ledger.Client)
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		switch chainType {
		case "evm":
			client, err := ethereum.NewClient(ctx, ethereum.Config{
				Name:           name,
				RPCURL:         chain.RPCURL,
				AnchorContract: chain.AnchorContract,
				PrivateKeyHex:  chain.PrivateKey(),
				ChainID:        chain.ChainID,
				Notes:          chain.Description,
			})
			if err != nil {
				return nil, fmt.Errorf("init chain %s: %w", name, err)
			}
			clients[name] = client
		case "memory":
			clients[name] = ledger.NewMemoryClient()
		default:
			return nil, fmt.Errorf("chain %s has unsupported type %s", name, chain.Type)
		}
	}

	if len(clients) == 0 {
		return nil, errors.New("no anchor chain endpoints configured")
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		names := make([]string, 0, len(clients))
		for name := range clients {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		return nil, fmt.Errorf("default chain %s not found in config", defaultChain)
	}

	return &Registry{defaultChain: defaultChain, clients: clients, definitions: defs.Chains}, nil
}

// ConfirmPolicy returns the confirmation poll interval and attempt budget
// configured for the named chain. Zero values mean the caller's defaults
// apply.
func (r *Registry) ConfirmPolicy(name string) (time.Duration, int) {
	if r == nil {
		return 0, 0
	}
	def, ok := r.definitions[name]
	if !ok {
		return 0, 0
	}
	return def.ConfirmInterval.Std(), def.ConfirmAttempts
}

// DefaultChain returns the name of the default chain.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (ledger.Client, error) {
	if r == nil {
		return nil, errors.New("chain client registry not initialised")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("default chain %s not registered", r.defaultChain)
	}
	return client, nil
}

// Client returns the anchor client identified by name.
func (r *Registry) Client(name string) (ledger.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
