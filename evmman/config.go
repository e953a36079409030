package evmman

import (
	"math/big"

	"github.com/chainweave/escrow-go/escrow"
)

// Config drives one EVM-family integration. XDC and IOTA EVM share the
// implementation and differ only in chain id, endpoints, and the address
// prefix convention.
type Config struct {
	Chain   escrow.Chain // ChainXDC or ChainIOTA
	ChainID *big.Int

	// RPCURLs is the ordered endpoint list, primary first.
	RPCURLs []string

	// VaultAddress is the deployed escrow vault contract, admin-custodied.
	VaultAddress string

	// AdminPrivKey is the hex private key of the vault admin wallet.
	AdminPrivKey string

	ConfirmationDepth int64
}

func (c *Config) Missing() string {
	switch {
	case c == nil:
		return "evm config"
	case len(c.RPCURLs) == 0:
		return "rpc url"
	case c.ChainID == nil:
		return "chain id"
	case c.VaultAddress == "":
		return "vault contract address"
	case c.AdminPrivKey == "":
		return "admin signing key"
	}
	return ""
}
