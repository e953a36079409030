package orchestrator

import (
	"time"

	"github.com/chainweave/escrow-go/escrow"
)

type Config struct {
	// ExpirySweepInterval is how often expired offers are swept into
	// refund or cancellation.
	ExpirySweepInterval time.Duration

	// ChainCallTimeout bounds every single adapter call.
	ChainCallTimeout time.Duration

	// RetryMax is the number of extra attempts after an ambiguous
	// timeout. Rejections are never retried.
	RetryMax       int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	FeePolicy escrow.FeePolicy
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.ExpirySweepInterval <= 0 {
		out.ExpirySweepInterval = 30 * time.Second
	}
	if out.ChainCallTimeout <= 0 {
		out.ChainCallTimeout = 30 * time.Second
	}
	if out.RetryMax <= 0 {
		out.RetryMax = 3
	}
	if out.RetryBaseDelay <= 0 {
		out.RetryBaseDelay = 2 * time.Second
	}
	if out.RetryMaxDelay <= 0 {
		out.RetryMaxDelay = 30 * time.Second
	}
	if out.FeePolicy == (escrow.FeePolicy{}) {
		out.FeePolicy = escrow.DefaultFeePolicy
	}
	return &out
}
