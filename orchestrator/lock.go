package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/chainweave/escrow-go/chainmonitor"
	"github.com/chainweave/escrow-go/escrow"
	"github.com/chainweave/escrow-go/escrowstore"
)

const casRetries = 3

// lockTarget computes the status after the given side locks.
func lockTarget(status escrow.OfferStatus, side escrow.Side) (escrow.OfferStatus, error) {
	switch {
	case status == escrow.StatusCreated && side == escrow.SideSeller:
		return escrow.StatusSellerLocked, nil
	case status == escrow.StatusCreated && side == escrow.SideBuyer:
		return escrow.StatusBuyerLocked, nil
	case status == escrow.StatusSellerLocked && side == escrow.SideBuyer:
		return escrow.StatusBothLocked, nil
	case status == escrow.StatusBuyerLocked && side == escrow.SideSeller:
		return escrow.StatusBothLocked, nil
	}
	return "", fmt.Errorf("cannot lock %s side while offer is %s", side, status)
}

// LockFunds locks one leg of the offer through its chain adapter and
// advances the status. hashLock optionally arms the HTLC variant on
// chains that support it.
func (o *Orchestrator) LockFunds(ctx context.Context, offerID string, side escrow.Side, hashLock []byte) (*escrow.Offer, error) {
	offer, err := o.store.Get(offerID)
	if err != nil {
		return nil, err
	}
	if offer.Expired(time.Now().UTC()) {
		return nil, escrow.ErrExpiredOffer
	}
	if offer.Buyer == nil {
		return nil, fmt.Errorf("offer %s has no buyer yet, nothing to lock against", offerID)
	}
	if offer.EscrowTxFor(side) != "" {
		return nil, fmt.Errorf("offer %s %s side already locked in tx %s", offerID, side, offer.EscrowTxFor(side))
	}
	if _, err := lockTarget(offer.Status, side); err != nil {
		return nil, err
	}

	leg := offer.LegFor(side)
	if leg.Payout == "" {
		return nil, fmt.Errorf("offer %s %s side has no payout registered, cannot lock", offerID, side)
	}
	adapter, err := o.adapter(leg.Chain)
	if err != nil {
		return nil, err
	}

	h, err := o.createWithRetry(ctx, adapter, &escrow.CreateParams{
		OfferID:      offerID,
		Side:         side,
		Locker:       leg.Address,
		Counterparty: leg.Payout,
		Amount:       leg.Amount,
		Currency:     leg.Currency,
		Expiry:       offer.ExpiresAt,
		HashLock:     hashLock,
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"offer": offerID,
		"side":  side,
		"chain": leg.Chain,
		"tx":    h.TxRef,
	}).Info("escrow leg locked")

	now := time.Now().UTC()
	fields := &escrowstore.TransitionFields{}
	if side == escrow.SideSeller {
		fields.SellerEscrowTx = &h.TxRef
		fields.SellerContractAddress = &h.ContractAddress
		fields.SellerEscrowOpaque = &h.Opaque
		fields.SellerLockedAt = &now
	} else {
		fields.BuyerEscrowTx = &h.TxRef
		fields.BuyerContractAddress = &h.ContractAddress
		fields.BuyerEscrowOpaque = &h.Opaque
		fields.BuyerLockedAt = &now
	}

	// The funds are on chain now; the record must follow even if a
	// concurrent transition moves the status under us.
	for attempt := 0; attempt < casRetries; attempt++ {
		cur, err := o.store.Get(offerID)
		if err != nil {
			return nil, err
		}
		to, err := lockTarget(cur.Status, side)
		if err != nil {
			return nil, fmt.Errorf("leg locked in tx %s but offer moved to %s: %w", h.TxRef, cur.Status, err)
		}
		err = o.store.Transition(offerID, cur.Status, to, fields)
		if errors.Is(err, escrow.ErrStaleTransition) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return o.store.Get(offerID)
	}
	return nil, fmt.Errorf("offer %s kept moving while recording the %s lock: %w", offerID, side, escrow.ErrStaleTransition)
}

// HandleLockObserved persists a monitor confirmation and, when it was the
// second one, moves the offer into its release phase. Replays of an
// already-recorded observation are no-ops.
func (o *Orchestrator) HandleLockObserved(ctx context.Context, ev *chainmonitor.LockObserved) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		offer, err := o.store.Get(ev.OfferID)
		if err != nil {
			return err
		}
		if offer.EscrowTxFor(ev.Side) != ev.TxRef {
			logger.WithFields(logger.Fields{
				"offer": ev.OfferID,
				"side":  ev.Side,
				"tx":    ev.TxRef,
			}).Warn("observation does not match recorded lock tx, dropping")
			return nil
		}

		confirmed := offer.SellerLockConfirmed
		fields := &escrowstore.TransitionFields{}
		yes := true
		if ev.Side == escrow.SideSeller {
			fields.SellerLockConfirmed = &yes
		} else {
			confirmed = offer.BuyerLockConfirmed
			fields.BuyerLockConfirmed = &yes
		}
		if confirmed {
			return nil
		}

		err = o.store.Transition(ev.OfferID, offer.Status, offer.Status, fields)
		if errors.Is(err, escrow.ErrStaleTransition) {
			continue
		}
		if err != nil {
			return err
		}

		logger.WithFields(logger.Fields{
			"offer": ev.OfferID,
			"side":  ev.Side,
			"chain": ev.Chain,
		}).Info("lock confirmation recorded")
		return o.maybeRelease(ctx, ev.OfferID)
	}
	return escrow.ErrStaleTransition
}
