package stellarman

type Config struct {
	// HorizonURLs is the ordered Horizon endpoint list, primary first.
	HorizonURLs []string

	// EscrowAccount is the dedicated escrow account. Its signers carry
	// weight 1 for each party and 2 for the platform, with thresholds at
	// 2: the platform plus either party authorizes a spend, nobody moves
	// funds alone.
	EscrowAccount string

	// PlatformSigner is the platform's signing key on the escrow account.
	PlatformSigner string

	ConfirmationDepth int64
}

func (c *Config) Missing() string {
	switch {
	case c == nil:
		return "stellar config"
	case len(c.HorizonURLs) == 0:
		return "horizon url"
	case c.EscrowAccount == "":
		return "escrow account"
	case c.PlatformSigner == "":
		return "platform signer"
	}
	return ""
}
