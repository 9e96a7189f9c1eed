// Package web3 houses ledger connectivity for the Sui network: the read and
// write interfaces the resolver and dispatcher depend on, the network and
// token registry loaded from YAML, and the shared result types. Concrete
// JSON-RPC clients live in subpackages.
package web3
