package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"OpenMCP-Sui/internal/config"
	"OpenMCP-Sui/internal/web3"
	"OpenMCP-Sui/internal/web3/sui"
)

// Registry manages a set of Sui network clients keyed by human readable
// names, plus the token registry shared by all of them.
type Registry struct {
	defaultNetwork string
	clients        map[string]web3.Client
	tokens         *web3.TokenRegistry
}

// Dialer constructs a client for one network definition.
type Dialer func(ctx context.Context, cfg sui.Config) (web3.Client, error)

// DialSui is the production Dialer.
func DialSui(ctx context.Context, cfg sui.Config) (web3.Client, error) {
	return sui.NewClient(ctx, cfg)
}

// NewRegistry loads network definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg config.Config, dial Dialer) (*Registry, error) {
	if dial == nil {
		dial = DialSui
	}
	defs, err := web3.LoadNetworkDefinitions(cfg.Web3.NetworkConfig)
	if err != nil {
		return nil, err
	}

	if len(defs.Networks) == 0 && strings.TrimSpace(cfg.Web3.RPCURL) != "" {
		name := cfg.Web3.DefaultNetwork
		if name == "" {
			name = "default"
		}
		defs.Networks[name] = web3.NetworkDefinition{RPCURL: cfg.Web3.RPCURL}
	}
	if len(defs.Networks) == 0 {
		return nil, errors.New("未配置任何 Sui 网络的 RPC 端点")
	}

	registry := &Registry{
		clients: make(map[string]web3.Client, len(defs.Networks)),
		tokens:  web3.NewTokenRegistry(defs.Tokens),
	}
	for name, network := range defs.Networks {
		client, err := dial(ctx, sui.Config{
			Name:      name,
			RPCURL:    network.RPCURL,
			Timeout:   cfg.LedgerTimeout(),
			GasBudget: cfg.Sui.GasBudget,
			Notes:     network.Description,
		})
		if err != nil {
			registry.Close()
			return nil, fmt.Errorf("初始化网络 %s 失败: %w", name, err)
		}
		registry.clients[name] = client
	}

	registry.defaultNetwork = cfg.Web3.DefaultNetwork
	if _, ok := registry.clients[registry.defaultNetwork]; !ok {
		if cfg.Web3.NetworkConfig != "" && registry.defaultNetwork != "" {
			registry.Close()
			return nil, fmt.Errorf("默认网络 %s 未在配置中找到", registry.defaultNetwork)
		}
		registry.defaultNetwork = registry.Networks()[0]
	}
	return registry, nil
}

// DefaultClient returns the client configured as default network.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的网络客户端注册表")
	}
	client, ok := r.clients[r.defaultNetwork]
	if !ok {
		return nil, fmt.Errorf("默认网络 %s 未在注册表中", r.defaultNetwork)
	}
	return client, nil
}

// Client returns the client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Tokens returns the token registry loaded alongside the networks.
func (r *Registry) Tokens() *web3.TokenRegistry {
	if r == nil {
		return web3.NewTokenRegistry(nil)
	}
	return r.tokens
}

// DefaultNetwork returns the name of the default network.
func (r *Registry) DefaultNetwork() string {
	if r == nil {
		return ""
	}
	return r.defaultNetwork
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

// Networks returns the sorted list of registered network names.
func (r *Registry) Networks() []string {
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
