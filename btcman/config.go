package btcman

import (
	"github.com/btcsuite/btcd/chaincfg"
)

// RPCEndpoint is one bitcoind node. The first endpoint in the config is
// primary; the rest are ordered failover alternates.
type RPCEndpoint struct {
	Host     string
	Port     string
	Username string
	Password string
}

type Config struct {
	Endpoints   []RPCEndpoint
	ChainParams *chaincfg.Params

	// AdminKeyWIF is the platform's co-signing key for the 2-of-3 escrow
	// script. The escrow node wallet custodies the party keys.
	AdminKeyWIF string

	// AdminPubKey is the admin's compressed public key, hex encoded, used
	// in script construction.
	AdminPubKey string

	// FeeSats is the flat miner fee deducted from escrow spends.
	FeeSats int64

	// ConfirmationDepth before a lock or spend counts as final.
	ConfirmationDepth int64
}

// Missing names the first absent piece of required configuration, or ""
// when the adapter is usable.
func (c *Config) Missing() string {
	switch {
	case c == nil:
		return "bitcoin config"
	case len(c.Endpoints) == 0:
		return "rpc endpoint"
	case c.ChainParams == nil:
		return "chain params"
	case c.AdminKeyWIF == "":
		return "admin signing key"
	case c.AdminPubKey == "":
		return "admin public key"
	}
	return ""
}
