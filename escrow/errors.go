package escrow

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the store, the adapters, and the orchestrator.
// Adapters wrap these sentinels with chain context via %w so callers can
// classify with errors.Is.
var (
	// ErrAdapterUnavailable means the chain integration is missing required
	// configuration (RPC URL, signing key). Permanent until an operator
	// fixes the config; never retried automatically.
	ErrAdapterUnavailable = errors.New("adapter unavailable")

	// ErrNotSupportedOnChain means the generic release/refund entry point is
	// invalid for this chain's design and the caller must use the
	// chain-specific flow (e.g. the Stellar multisig co-signing flow).
	ErrNotSupportedOnChain = errors.New("operation not supported on chain")

	// ErrChainCallTimeout means no response within the bounded wait. The
	// outcome is ambiguous: the operation may still have confirmed, so the
	// caller must re-query chain state before any corrective action.
	ErrChainCallTimeout = errors.New("chain call timed out")

	// ErrChainCallRejected means the chain itself rejected the operation
	// (insufficient funds, bad sequence, expired condition). Permanent for
	// this attempt and safe to surface to the user.
	ErrChainCallRejected = errors.New("chain rejected the call")

	// ErrStaleTransition is the optimistic-concurrency conflict on the
	// store: the stored status no longer matches the expected fromStatus.
	ErrStaleTransition = errors.New("stale transition")

	// ErrDuplicateOfferID is an offer ID collision at creation.
	ErrDuplicateOfferID = errors.New("duplicate offer id")

	// ErrExpiredOffer guards operations attempted past expiresAt; only the
	// expiry sweep may act on such an offer.
	ErrExpiredOffer = errors.New("offer expired")

	ErrOfferNotFound = errors.New("offer not found")
)

// Retryable reports whether an adapter error is worth a backoff retry.
// Only ambiguous timeouts qualify; rejections and missing configuration are
// permanent until a human intervenes.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrChainCallTimeout):
		return true
	case errors.Is(err, ErrAdapterUnavailable),
		errors.Is(err, ErrChainCallRejected),
		errors.Is(err, ErrNotSupportedOnChain):
		return false
	}
	return false
}

// ChainErrorf wraps a sentinel with chain and operation context.
func ChainErrorf(chain Chain, op string, sentinel error, format string, args ...interface{}) error {
	detail := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s %s: %s: %w", chain, op, detail, sentinel)
}
