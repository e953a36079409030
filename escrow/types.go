/*
Package escrow holds the core domain types of the cross-chain escrow swap:
the offer aggregate, its status machine, and the uniform per-chain adapter
contract that the orchestrator drives.
*/
package escrow

import (
	"math/big"
	"time"
)

// Chain identifies a supported blockchain.
type Chain string

const (
	ChainBitcoin Chain = "bitcoin"
	ChainXRPL    Chain = "xrpl"
	ChainStellar Chain = "stellar"
	ChainXDC     Chain = "xdc"
	ChainIOTA    Chain = "iota"
)

// SupportedChains lists every chain an offer leg may live on.
var SupportedChains = []Chain{ChainBitcoin, ChainXRPL, ChainStellar, ChainXDC, ChainIOTA}

func (c Chain) Valid() bool {
	for _, s := range SupportedChains {
		if c == s {
			return true
		}
	}
	return false
}

// Side distinguishes the two legs of a swap.
type Side string

const (
	SideSeller Side = "seller"
	SideBuyer  Side = "buyer"
)

// Opposite returns the counterparty side.
func (s Side) Opposite() Side {
	if s == SideSeller {
		return SideBuyer
	}
	return SideSeller
}

// OfferStatus is the lifecycle state of an EscrowOffer. Exactly one holds
// at any time and transitions only move forward along the graph below.
type OfferStatus string

const (
	StatusCreated      OfferStatus = "created"
	StatusSellerLocked OfferStatus = "seller_locked"
	StatusBuyerLocked  OfferStatus = "buyer_locked"
	StatusBothLocked   OfferStatus = "both_locked"
	StatusCompleted    OfferStatus = "completed"
	StatusCancelled    OfferStatus = "cancelled"
	StatusDisputed     OfferStatus = "disputed"
	StatusRefunded     OfferStatus = "refunded"
)

// transitions is the forward graph of the offer state machine.
var transitions = map[OfferStatus][]OfferStatus{
	StatusCreated:      {StatusSellerLocked, StatusBuyerLocked, StatusCancelled, StatusDisputed},
	StatusSellerLocked: {StatusBothLocked, StatusRefunded, StatusCancelled, StatusDisputed},
	StatusBuyerLocked:  {StatusBothLocked, StatusRefunded, StatusCancelled, StatusDisputed},
	StatusBothLocked:   {StatusCompleted, StatusRefunded, StatusDisputed},
	StatusDisputed:     {StatusCompleted, StatusRefunded, StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the status graph.
func CanTransition(from, to OfferStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
// Terminal offers are immutable except for late dispute-resolution notes.
func (s OfferStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// NonTerminalStatuses is the set swept for expiry.
var NonTerminalStatuses = []OfferStatus{
	StatusCreated, StatusSellerLocked, StatusBuyerLocked, StatusBothLocked,
}

// Leg is one side of the swap: where the party's funds live and how much
// they commit.
type Leg struct {
	Chain    Chain
	Address  string
	Amount   *big.Int
	Currency string
	UserID   string // optional owning user reference

	// Payout is the opposite party's receive address on this chain. A leg
	// releases to its Payout and refunds to its Address; both live on
	// leg.Chain. Empty until the counterparty registers it.
	Payout string
}

func (l *Leg) Clone() *Leg {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Amount != nil {
		clone.Amount = new(big.Int).Set(l.Amount)
	}
	return &clone
}

// Offer is the central aggregate: a proposed or in-progress two-sided swap
// between a seller and a buyer across two chains. All mutation goes through
// the orchestrator and the store's compare-and-swap transition.
type Offer struct {
	ID     string
	Status OfferStatus

	Seller *Leg
	Buyer  *Leg // nil until a buyer accepts

	// Chain references. Escrow handles are stored verbatim and passed back
	// to the owning adapter unmodified; the orchestrator never interprets
	// their internals.
	SellerEscrowTx        string
	BuyerEscrowTx         string
	SellerContractAddress string
	BuyerContractAddress  string
	SellerEscrowOpaque    string
	BuyerEscrowOpaque     string
	SellerReleaseTx       string
	BuyerReleaseTx        string

	SellerLockConfirmed bool
	BuyerLockConfirmed  bool

	// Timing
	CreatedAt      time.Time
	ExpiresAt      time.Time
	SellerLockedAt *time.Time
	BuyerLockedAt  *time.Time
	CompletedAt    *time.Time

	// Admin fee, snapshotted at creation.
	AdminFeePercentage float64
	AdminFeeAmount     *big.Int
	AdminFeeCollected  bool
	AdminFeeTxHash     string

	// Dispute annotations
	DisputeReason      string
	DisputeInitiatedBy string
	DisputeResolvedBy  string
	DisputeResolution  string

	IsPublic bool
}

// LegFor returns the leg for the given side (nil for an unmatched buyer).
func (o *Offer) LegFor(side Side) *Leg {
	if side == SideSeller {
		return o.Seller
	}
	return o.Buyer
}

// EscrowTxFor returns the recorded lock reference of a side.
func (o *Offer) EscrowTxFor(side Side) string {
	if side == SideSeller {
		return o.SellerEscrowTx
	}
	return o.BuyerEscrowTx
}

// ReleaseTxFor returns the recorded settlement (release or refund)
// reference of a side.
func (o *Offer) ReleaseTxFor(side Side) string {
	if side == SideSeller {
		return o.SellerReleaseTx
	}
	return o.BuyerReleaseTx
}

// HandleFor rebuilds the stored chain handle of a side for release and
// refund calls. Returns nil when the side has no recorded lock.
func (o *Offer) HandleFor(side Side) *Handle {
	leg := o.LegFor(side)
	if leg == nil || o.EscrowTxFor(side) == "" {
		return nil
	}
	h := &Handle{Chain: leg.Chain, TxRef: o.SellerEscrowTx, ContractAddress: o.SellerContractAddress, Opaque: o.SellerEscrowOpaque}
	if side == SideBuyer {
		h.TxRef = o.BuyerEscrowTx
		h.ContractAddress = o.BuyerContractAddress
		h.Opaque = o.BuyerEscrowOpaque
	}
	return h
}

// LockedAt reports whether the given side has a recorded lock.
func (o *Offer) Locked(side Side) bool {
	if side == SideSeller {
		return o.SellerLockedAt != nil
	}
	return o.BuyerLockedAt != nil
}

// Expired reports whether the hard swap deadline has passed at t.
func (o *Offer) Expired(t time.Time) bool {
	return !o.ExpiresAt.After(t)
}

func (o *Offer) Clone() *Offer {
	clone := *o
	clone.Seller = o.Seller.Clone()
	clone.Buyer = o.Buyer.Clone()
	if o.AdminFeeAmount != nil {
		clone.AdminFeeAmount = new(big.Int).Set(o.AdminFeeAmount)
	}
	clone.SellerLockedAt = cloneTime(o.SellerLockedAt)
	clone.BuyerLockedAt = cloneTime(o.BuyerLockedAt)
	clone.CompletedAt = cloneTime(o.CompletedAt)
	return &clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
