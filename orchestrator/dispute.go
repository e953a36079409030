package orchestrator

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/chainweave/escrow-go/escrow"
	"github.com/chainweave/escrow-go/escrowstore"
)

// Resolution is the admin's verdict on a disputed offer.
type Resolution string

const (
	// ResolutionRelease completes the swap as agreed.
	ResolutionRelease Resolution = "release"
	// ResolutionRefund returns every locked leg to its locker.
	ResolutionRefund Resolution = "refund"
	// ResolutionCancel voids an offer that never locked funds.
	ResolutionCancel Resolution = "cancel"
)

// RaiseDispute freezes an active offer. A disputed offer leaves the
// automated paths entirely: no release, no refund, no expiry sweep, until
// an admin resolves it.
func (o *Orchestrator) RaiseDispute(offerID, initiatedBy, reason string) (*escrow.Offer, error) {
	if reason == "" {
		return nil, fmt.Errorf("a dispute needs a reason")
	}

	offer, err := o.store.Get(offerID)
	if err != nil {
		return nil, err
	}
	if offer.Status.IsTerminal() || offer.Status == escrow.StatusDisputed {
		return nil, fmt.Errorf("offer %s is %s, not disputable", offerID, offer.Status)
	}

	err = o.store.Transition(offerID, offer.Status, escrow.StatusDisputed, &escrowstore.TransitionFields{
		DisputeReason:      &reason,
		DisputeInitiatedBy: &initiatedBy,
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"offer":       offerID,
		"initiatedBy": initiatedBy,
	}).Warn("dispute raised")
	return o.store.Get(offerID)
}

// ResolveDispute executes an admin verdict on a disputed offer and moves
// it to its terminal status.
func (o *Orchestrator) ResolveDispute(ctx context.Context, offerID, resolvedBy string, verdict Resolution, note string) (*escrow.Offer, error) {
	offer, err := o.store.Get(offerID)
	if err != nil {
		return nil, err
	}
	if offer.Status != escrow.StatusDisputed {
		return nil, fmt.Errorf("offer %s is %s, not disputed", offerID, offer.Status)
	}

	var to escrow.OfferStatus
	fields := &escrowstore.TransitionFields{
		DisputeResolvedBy: &resolvedBy,
		DisputeResolution: &note,
	}

	switch verdict {
	case ResolutionRelease:
		for _, side := range []escrow.Side{escrow.SideSeller, escrow.SideBuyer} {
			if offer.EscrowTxFor(side) == "" || offer.ReleaseTxFor(side) != "" {
				continue
			}
			txRef, err := o.releaseLeg(ctx, offer, side)
			if err != nil {
				return nil, err
			}
			if err := o.recordSettlementTx(offerID, side, txRef); err != nil {
				return nil, err
			}
		}
		now := time.Now().UTC()
		yes := true
		fields.CompletedAt = &now
		fields.AdminFeeCollected = &yes
		to = escrow.StatusCompleted

	case ResolutionRefund:
		for _, side := range []escrow.Side{escrow.SideSeller, escrow.SideBuyer} {
			if offer.EscrowTxFor(side) == "" || offer.ReleaseTxFor(side) != "" {
				continue
			}
			txRef, err := o.refundLeg(ctx, offer, side)
			if err != nil {
				return nil, err
			}
			if err := o.recordSettlementTx(offerID, side, txRef); err != nil {
				return nil, err
			}
		}
		to = escrow.StatusRefunded

	case ResolutionCancel:
		if offer.SellerEscrowTx != "" || offer.BuyerEscrowTx != "" {
			return nil, fmt.Errorf("offer %s has locked funds, cancel is not a valid verdict", offerID)
		}
		to = escrow.StatusCancelled

	default:
		return nil, fmt.Errorf("unknown resolution %q", verdict)
	}

	if err := o.store.Transition(offerID, escrow.StatusDisputed, to, fields); err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"offer":      offerID,
		"resolvedBy": resolvedBy,
		"verdict":    verdict,
	}).Info("dispute resolved")
	return o.store.Get(offerID)
}
