/*
Package orchestrator drives the escrow offer lifecycle: it creates and
matches offers, locks legs through the chain adapters, consumes lock
confirmations from the chain monitors, releases both sides once both are
confirmed, and sweeps expired offers into refunds. All state changes go
through the store's compare-and-swap transition, so several instances can
share one database.
*/
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"github.com/chainweave/escrow-go/chainmonitor"
	"github.com/chainweave/escrow-go/escrow"
	"github.com/chainweave/escrow-go/escrowstore"
)

const maxIDRetries = 5

type Orchestrator struct {
	cfg      *Config
	store    *escrowstore.Store
	adapters map[escrow.Chain]escrow.Adapter
	alerter  Alerter

	feeds []<-chan *chainmonitor.LockObserved
}

func New(cfg *Config, store *escrowstore.Store, adapters map[escrow.Chain]escrow.Adapter, alerter Alerter) *Orchestrator {
	if alerter == nil {
		alerter = LogAlerter{}
	}
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		store:    store,
		adapters: adapters,
		alerter:  alerter,
	}
}

// AttachMonitor subscribes the orchestrator to a monitor's observation
// feed. Call before Start.
func (o *Orchestrator) AttachMonitor(m *chainmonitor.Monitor) {
	o.feeds = append(o.feeds, m.Events())
}

// Start runs the expiry sweep and the observation consumers until the
// context ends.
func (o *Orchestrator) Start(ctx context.Context) error {
	for _, feed := range o.feeds {
		go o.consume(ctx, feed)
	}

	ticker := time.NewTicker(o.cfg.ExpirySweepInterval)
	defer ticker.Stop()

	logger.WithField("sweepInterval", o.cfg.ExpirySweepInterval).Info("orchestrator started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := o.SweepExpired(ctx); err != nil {
				logger.Warnf("expiry sweep failed: %v", err)
			}
		}
	}
}

func (o *Orchestrator) consume(ctx context.Context, feed <-chan *chainmonitor.LockObserved) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-feed:
			if err := o.HandleLockObserved(ctx, ev); err != nil {
				logger.WithFields(logger.Fields{
					"offer": ev.OfferID,
					"chain": ev.Chain,
					"side":  ev.Side,
				}).Warnf("lock observation not applied: %v", err)
			}
		}
	}
}

func (o *Orchestrator) adapter(chain escrow.Chain) (escrow.Adapter, error) {
	a, ok := o.adapters[chain]
	if !ok {
		return nil, escrow.ChainErrorf(chain, "lookup", escrow.ErrAdapterUnavailable, "no adapter registered")
	}
	return a, nil
}

// CreateOfferParams is the seller's opening proposal.
type CreateOfferParams struct {
	Seller    *escrow.Leg
	ExpiresAt time.Time

	// FeePercentage overrides the policy default when non-nil; it is
	// clamped to the policy bounds either way.
	FeePercentage *float64

	IsPublic bool
}

// CreateOffer validates the proposal, snapshots the admin fee from the
// current policy, and persists the offer in created status. The fee never
// changes afterwards no matter how the policy moves.
func (o *Orchestrator) CreateOffer(p *CreateOfferParams) (*escrow.Offer, error) {
	if p.Seller == nil {
		return nil, fmt.Errorf("offer needs a seller leg")
	}
	if !p.Seller.Chain.Valid() {
		return nil, fmt.Errorf("unsupported seller chain %q", p.Seller.Chain)
	}
	if p.Seller.Amount == nil || p.Seller.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("seller amount must be positive")
	}
	if p.Seller.Address == "" {
		return nil, fmt.Errorf("seller leg needs an address")
	}
	now := time.Now().UTC()
	if !p.ExpiresAt.After(now) {
		return nil, fmt.Errorf("expiry %s is not in the future", p.ExpiresAt)
	}

	pct := o.cfg.FeePolicy.DefaultPercentage
	if p.FeePercentage != nil {
		pct = *p.FeePercentage
	}
	pct = o.cfg.FeePolicy.Clamp(pct)

	feeAmount, err := escrow.ComputeAdminFee(p.Seller.Amount, pct)
	if err != nil {
		return nil, err
	}

	offer := &escrow.Offer{
		Status:             escrow.StatusCreated,
		Seller:             p.Seller.Clone(),
		CreatedAt:          now,
		ExpiresAt:          p.ExpiresAt.UTC(),
		AdminFeePercentage: pct,
		AdminFeeAmount:     feeAmount,
		IsPublic:           p.IsPublic,
	}

	for i := 0; i < maxIDRetries; i++ {
		offer.ID = uuid.NewString()
		err = o.store.Create(offer)
		if err == nil {
			logger.WithFields(logger.Fields{
				"offer":       offer.ID,
				"sellerChain": offer.Seller.Chain,
				"amount":      offer.Seller.Amount,
				"feePct":      pct,
			}).Info("offer created")
			return offer, nil
		}
		if err != escrow.ErrDuplicateOfferID {
			return nil, err
		}
	}
	return nil, fmt.Errorf("could not allocate a unique offer id: %w", err)
}

// AcceptOffer binds a buyer to an open offer. The offer must still be in
// created status, unexpired, and without a buyer; the store's CAS makes
// sure exactly one acceptance wins. receiveOnSellerChain is the buyer's
// address on the seller's chain, where the seller escrow will pay out.
func (o *Orchestrator) AcceptOffer(offerID string, buyer *escrow.Leg, receiveOnSellerChain string) (*escrow.Offer, error) {
	if buyer == nil || buyer.Address == "" {
		return nil, fmt.Errorf("buyer leg needs an address")
	}
	if !buyer.Chain.Valid() {
		return nil, fmt.Errorf("unsupported buyer chain %q", buyer.Chain)
	}
	if buyer.Amount == nil || buyer.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("buyer amount must be positive")
	}
	if receiveOnSellerChain == "" {
		return nil, fmt.Errorf("buyer needs a receive address on the seller chain")
	}

	offer, err := o.store.Get(offerID)
	if err != nil {
		return nil, err
	}
	if offer.Status != escrow.StatusCreated {
		return nil, fmt.Errorf("offer %s is %s, not open for acceptance", offerID, offer.Status)
	}
	if offer.Buyer != nil {
		return nil, fmt.Errorf("offer %s already has a buyer", offerID)
	}
	if offer.Expired(time.Now().UTC()) {
		return nil, escrow.ErrExpiredOffer
	}

	err = o.store.Transition(offerID, escrow.StatusCreated, escrow.StatusCreated,
		&escrowstore.TransitionFields{Buyer: buyer, SellerPayout: &receiveOnSellerChain})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"offer":      offerID,
		"buyerChain": buyer.Chain,
		"amount":     buyer.Amount,
	}).Info("offer accepted")
	return o.store.Get(offerID)
}

// RegisterPayout records where the counterparty receives the given leg's
// funds on that leg's chain. The seller calls this with the buyer side to
// name their receive address on the buyer's chain; the seller payout is
// captured at acceptance. Must happen before the leg can be locked.
func (o *Orchestrator) RegisterPayout(offerID string, side escrow.Side, address string) (*escrow.Offer, error) {
	if address == "" {
		return nil, fmt.Errorf("payout address must not be empty")
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		offer, err := o.store.Get(offerID)
		if err != nil {
			return nil, err
		}
		if offer.Status.IsTerminal() {
			return nil, fmt.Errorf("offer %s is %s, payout can no longer change", offerID, offer.Status)
		}
		if offer.LegFor(side) == nil {
			return nil, fmt.Errorf("offer %s has no %s leg yet", offerID, side)
		}
		if offer.EscrowTxFor(side) != "" {
			return nil, fmt.Errorf("offer %s %s side already locked, payout is fixed", offerID, side)
		}

		fields := &escrowstore.TransitionFields{}
		if side == escrow.SideSeller {
			fields.SellerPayout = &address
		} else {
			fields.BuyerPayout = &address
		}
		err = o.store.Transition(offerID, offer.Status, offer.Status, fields)
		if errors.Is(err, escrow.ErrStaleTransition) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return o.store.Get(offerID)
	}
	return nil, escrow.ErrStaleTransition
}

func (o *Orchestrator) GetOffer(offerID string) (*escrow.Offer, error) {
	return o.store.Get(offerID)
}

func (o *Orchestrator) PublicOffers() ([]*escrow.Offer, error) {
	return o.store.FindPublic()
}

func (o *Orchestrator) OffersByUser(userID string) ([]*escrow.Offer, error) {
	return o.store.FindByUser(userID)
}

func (o *Orchestrator) OffersByAddress(address string) ([]*escrow.Offer, error) {
	return o.store.FindByAddress(address)
}
