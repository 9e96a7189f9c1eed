package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// NetworkDefinitions models the structure of configs/networks.yaml.
type NetworkDefinitions struct {
	Networks map[string]NetworkDefinition `yaml:"networks"`
	Tokens   map[string]TokenDefinition   `yaml:"tokens"`
}

// NetworkDefinition describes a single full node endpoint.
type NetworkDefinition struct {
	RPCURL      string `yaml:"rpc_url"`
	Description string `yaml:"description"`
}

// TokenDefinition describes a fungible coin the agent can move.
type TokenDefinition struct {
	CoinType string `yaml:"coin_type"`
	Decimals uint8  `yaml:"decimals"`
}

// LoadNetworkDefinitions parses the YAML file containing network and token
// metadata. An empty path yields empty definitions.
func LoadNetworkDefinitions(path string) (NetworkDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return NetworkDefinitions{Networks: map[string]NetworkDefinition{}, Tokens: map[string]TokenDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return NetworkDefinitions{}, fmt.Errorf("读取网络配置失败: %w", err)
	}
	return ParseNetworkDefinitions(content)
}

// ParseNetworkDefinitions decodes network metadata from raw YAML.
func ParseNetworkDefinitions(content []byte) (NetworkDefinitions, error) {
	var defs NetworkDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return NetworkDefinitions{}, fmt.Errorf("解析网络配置失败: %w", err)
	}
	if defs.Networks == nil {
		defs.Networks = map[string]NetworkDefinition{}
	}
	if defs.Tokens == nil {
		defs.Tokens = map[string]TokenDefinition{}
	}
	return defs, nil
}
