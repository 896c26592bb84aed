package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"OpenMCP-Intent/internal/config"
	"OpenMCP-Intent/internal/web3"
	"OpenMCP-Intent/internal/web3/ethereum"
)

// Dialer creates a chain client for one definition.
type Dialer func(ctx context.Context, cfg ethereum.Config) (web3.Client, error)

func dialEthereum(ctx context.Context, cfg ethereum.Config) (web3.Client, error) {
	return ethereum.NewClient(ctx, cfg)
}

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
}

// Option 配置注册表构建过程。
type Option func(*options)

type options struct {
	dial Dialer
}

// WithDialer 替换客户端的创建方式。
func WithDialer(d Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dial = d
		}
	}
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg config.Web3Config, opts ...Option) (*Registry, error) {
	o := options{dial: dialEthereum}
	for _, opt := range opts {
		opt(&o)
	}

	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]web3.Client)
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			closeAll(clients)
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
		client, err := o.dial(ctx, ethereum.Config{Name: name, RPCURL: chain.RPCURL, Notes: chain.Description})
		if err != nil {
			closeAll(clients)
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		clients[name] = client
	}

	defaultChain := strings.TrimSpace(cfg.DefaultChain)
	if len(clients) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		client, err := o.dial(ctx, ethereum.Config{Name: "default", RPCURL: cfg.RPCURL})
		if err != nil {
			return nil, err
		}
		clients["default"] = client
		if defaultChain == "" {
			defaultChain = "default"
		}
	}

	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	if defaultChain == "" {
		defaultChain = sortedNames(clients)[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		closeAll(clients)
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}

	return &Registry{defaultChain: defaultChain, clients: clients}, nil
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
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
	closeAll(r.clients)
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	return sortedNames(r.clients)
}

func sortedNames(clients map[string]web3.Client) []string {
	names := make([]string, 0, len(clients))
	for name := range clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func closeAll(clients map[string]web3.Client) {
	for name, client := range clients {
		if client != nil {
			client.Close()
		}
		delete(clients, name)
	}
}
