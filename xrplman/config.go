package xrplman

type Config struct {
	// RPCURLs is the ordered rippled JSON-RPC endpoint list, primary first.
	RPCURLs []string

	// AdminAccount is the classic address of the platform escrow wallet
	// that owns outgoing EscrowCreate transactions.
	AdminAccount string

	// AdminSecret signs via the rippled sign-and-submit flow.
	AdminSecret string

	// ConfirmationDepth in validated ledgers. XRPL validation is final, so
	// one validated ledger is the working default.
	ConfirmationDepth int64
}

func (c *Config) Missing() string {
	switch {
	case c == nil:
		return "xrpl config"
	case len(c.RPCURLs) == 0:
		return "rpc url"
	case c.AdminAccount == "":
		return "admin account"
	case c.AdminSecret == "":
		return "admin secret"
	}
	return ""
}
