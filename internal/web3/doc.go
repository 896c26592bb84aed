// Package web3 provides read-only chain access for wallet endpoints: balance
// lookups, transaction counts and chain metadata used when anchoring ledger
// entries. Concrete EVM clients live in the ethereum subpackage and are
// assembled by provider.Registry from configs/chain.yaml.
package web3
