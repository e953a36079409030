package escrow

import (
	"context"
	"math/big"
	"time"
)

// CreateParams carries everything an adapter needs to lock one leg of a
// swap with the chain's native mechanism.
type CreateParams struct {
	OfferID string
	Side    Side

	// Locker is the party committing funds; Counterparty receives them on
	// release.
	Locker       string
	Counterparty string

	Amount   *big.Int
	Currency string

	// Expiry bounds the lock on chains with native time locks
	// (XRPL CancelAfter, EVM contract deadline).
	Expiry time.Time

	// HashLock is an optional HTLC condition (sha256 digest of a preimage).
	// Adapters without the capability ignore it.
	HashLock []byte
}

// Handle is the chain-specific opaque result of a create: a tx id, an
// escrow sequence, a contract address, a redeem script. The orchestrator
// stores it verbatim in the offer's tx-reference fields and passes it back
// unmodified for release/refund.
type Handle struct {
	Chain Chain

	// TxRef is the broadcast transaction / escrow sequence reference.
	TxRef string

	// ContractAddress is set for EVM-style chains and for the Stellar
	// escrow account.
	ContractAddress string

	// Opaque holds any extra chain data needed to spend the lock later
	// (hex redeem script, owner account, claimable balance id).
	Opaque string
}

// Receipt is the confirmation of a release or refund.
type Receipt struct {
	Chain       Chain
	TxRef       string
	Destination string
	Settled     time.Time
}

// Adapter is the uniform per-chain escrow capability set. Implementations
// hold only configuration and credentials and are safe for concurrent use
// across offers; operations on the same admin wallet are serialized
// internally where nonces or sequence numbers are involved.
//
// All three operations are irreversible once chain-confirmed. An adapter
// must not re-broadcast a create/release/refund that may already be on
// chain without first checking for an existing matching transaction; Find
// is that idempotency-by-query hook.
type Adapter interface {
	Chain() Chain

	// CreateEscrow locks funds per the chain's native mechanism.
	CreateEscrow(ctx context.Context, p *CreateParams) (*Handle, error)

	// ReleaseEscrow finalizes the lock in favor of destination. The caller
	// always passes the intended destination explicitly; adapters validate
	// it where the chain design allows.
	ReleaseEscrow(ctx context.Context, h *Handle, destination string) (*Receipt, error)

	// RefundEscrow returns the locked funds to destination (the original
	// locker). Operationally close to release on multisig chains but never
	// conflated: the destination decides which it is.
	RefundEscrow(ctx context.Context, h *Handle, destination string) (*Receipt, error)

	// FindEscrow looks on chain for an escrow already created for these
	// params, so a retry after an ambiguous timeout does not double-lock.
	FindEscrow(ctx context.Context, p *CreateParams) (*Handle, bool, error)

	// ConfirmationDepth is the number of confirmations this chain requires
	// before the monitor treats an observed tx as actionable.
	ConfirmationDepth() int64
}

// Unconfigured is the typed stand-in for a chain whose integration lacks
// required configuration. Every call fails with ErrAdapterUnavailable so
// the orchestrator surfaces the condition instead of tripping over nil
// clients.
type Unconfigured struct {
	ChainID Chain
	Missing string // which piece of config is absent, for the error text
}

func (u *Unconfigured) Chain() Chain { return u.ChainID }

func (u *Unconfigured) CreateEscrow(ctx context.Context, p *CreateParams) (*Handle, error) {
	return nil, u.err("create")
}

func (u *Unconfigured) ReleaseEscrow(ctx context.Context, h *Handle, destination string) (*Receipt, error) {
	return nil, u.err("release")
}

func (u *Unconfigured) RefundEscrow(ctx context.Context, h *Handle, destination string) (*Receipt, error) {
	return nil, u.err("refund")
}

func (u *Unconfigured) FindEscrow(ctx context.Context, p *CreateParams) (*Handle, bool, error) {
	return nil, false, u.err("find")
}

func (u *Unconfigured) ConfirmationDepth() int64 { return 0 }

func (u *Unconfigured) err(op string) error {
	return ChainErrorf(u.ChainID, op, ErrAdapterUnavailable, "missing %s", u.Missing)
}
