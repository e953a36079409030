package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/chainweave/escrow-go/escrow"
	"github.com/chainweave/escrow-go/escrowstore"
)

// maybeRelease completes the swap once both locks are confirmed: the
// seller's escrow pays the buyer and the buyer's escrow pays the seller.
// One leg landing while the other permanently fails is the worst spot the
// system can be in, so that path alerts and freezes the offer in dispute.
func (o *Orchestrator) maybeRelease(ctx context.Context, offerID string) error {
	offer, err := o.store.Get(offerID)
	if err != nil {
		return err
	}
	if offer.Status != escrow.StatusBothLocked || !offer.SellerLockConfirmed || !offer.BuyerLockConfirmed {
		return nil
	}

	released := 0
	for _, side := range []escrow.Side{escrow.SideSeller, escrow.SideBuyer} {
		if offer.ReleaseTxFor(side) != "" {
			released++
			continue
		}
		txRef, err := o.releaseLeg(ctx, offer, side)
		switch {
		case err == nil:
			released++
			if err := o.recordSettlementTx(offerID, side, txRef); err != nil {
				return err
			}
		case errors.Is(err, escrow.ErrNotSupportedOnChain):
			// stellar legs settle through the multisig ceremony; hold the
			// offer open until RecordManualSettlement reports the spend
			o.alerter.Alert(offerID, "manual settlement required",
				fmt.Sprintf("%s leg on %s needs the multisig co-signing flow: %v",
					side, offer.LegFor(side).Chain, err))
		default:
			detail := fmt.Sprintf("release of the %s leg failed: %v", side, err)
			o.alerter.Alert(offerID, "release failure", detail)
			if released > 0 {
				// partial release, funds moved on one chain only
				o.alerter.Alert(offerID, "partial release",
					"one leg released while the other failed, freezing offer for admin resolution")
				return o.freezeDisputed(offerID, detail)
			}
			return err
		}
	}

	if released < 2 {
		return nil
	}
	return o.complete(offerID)
}

// releaseLeg pays out one escrow to the counterparty's registered payout
// address on the leg's chain.
func (o *Orchestrator) releaseLeg(ctx context.Context, offer *escrow.Offer, side escrow.Side) (string, error) {
	leg := offer.LegFor(side)
	adapter, err := o.adapter(leg.Chain)
	if err != nil {
		return "", err
	}
	h := offer.HandleFor(side)
	if h == nil {
		return "", fmt.Errorf("offer %s %s side has no recorded lock", offer.ID, side)
	}
	if leg.Payout == "" {
		return "", fmt.Errorf("offer %s %s side has no payout registered", offer.ID, side)
	}
	destination := leg.Payout

	receipt, err := o.settleWithRetry(ctx, "release", func(callCtx context.Context) (*escrow.Receipt, error) {
		return adapter.ReleaseEscrow(callCtx, h, destination)
	})
	if err != nil {
		return "", err
	}

	logger.WithFields(logger.Fields{
		"offer":       offer.ID,
		"side":        side,
		"chain":       leg.Chain,
		"tx":          receipt.TxRef,
		"destination": destination,
	}).Info("escrow leg released")
	return receipt.TxRef, nil
}

// refundLeg returns one escrow to its original locker.
func (o *Orchestrator) refundLeg(ctx context.Context, offer *escrow.Offer, side escrow.Side) (string, error) {
	leg := offer.LegFor(side)
	adapter, err := o.adapter(leg.Chain)
	if err != nil {
		return "", err
	}
	h := offer.HandleFor(side)
	if h == nil {
		return "", fmt.Errorf("offer %s %s side has no recorded lock", offer.ID, side)
	}

	receipt, err := o.settleWithRetry(ctx, "refund", func(callCtx context.Context) (*escrow.Receipt, error) {
		return adapter.RefundEscrow(callCtx, h, leg.Address)
	})
	if err != nil {
		return "", err
	}

	logger.WithFields(logger.Fields{
		"offer": offer.ID,
		"side":  side,
		"chain": leg.Chain,
		"tx":    receipt.TxRef,
	}).Info("escrow leg refunded")
	return receipt.TxRef, nil
}

// recordSettlementTx stores a release or refund tx reference without
// advancing the status.
func (o *Orchestrator) recordSettlementTx(offerID string, side escrow.Side, txRef string) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		cur, err := o.store.Get(offerID)
		if err != nil {
			return err
		}
		fields := &escrowstore.TransitionFields{}
		if side == escrow.SideSeller {
			fields.SellerReleaseTx = &txRef
		} else {
			fields.BuyerReleaseTx = &txRef
		}
		err = o.store.Transition(offerID, cur.Status, cur.Status, fields)
		if !errors.Is(err, escrow.ErrStaleTransition) {
			return err
		}
	}
	return escrow.ErrStaleTransition
}

// complete moves a fully released offer to completed and books the admin
// fee, which the seller-leg payout carried.
func (o *Orchestrator) complete(offerID string) error {
	offer, err := o.store.Get(offerID)
	if err != nil {
		return err
	}
	if offer.Status == escrow.StatusCompleted {
		return nil
	}

	now := time.Now().UTC()
	yes := true
	err = o.store.Transition(offerID, offer.Status, escrow.StatusCompleted, &escrowstore.TransitionFields{
		CompletedAt:       &now,
		AdminFeeCollected: &yes,
		AdminFeeTxHash:    &offer.SellerReleaseTx,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logger.Fields{
		"offer":     offerID,
		"feeAmount": offer.AdminFeeAmount,
	}).Info("swap completed")
	return nil
}

// RecordManualSettlement reports a settlement executed outside the
// adapters, the stellar multisig spend being the designed case. Once both
// legs carry a settlement tx the offer completes.
func (o *Orchestrator) RecordManualSettlement(ctx context.Context, offerID string, side escrow.Side, txRef string) (*escrow.Offer, error) {
	offer, err := o.store.Get(offerID)
	if err != nil {
		return nil, err
	}
	if offer.Status != escrow.StatusBothLocked && offer.Status != escrow.StatusDisputed {
		return nil, fmt.Errorf("offer %s is %s, not awaiting settlement", offerID, offer.Status)
	}
	if offer.EscrowTxFor(side) == "" {
		return nil, fmt.Errorf("offer %s %s side was never locked", offerID, side)
	}

	// the reported tx must exist and be final on the leg's chain
	leg := offer.LegFor(side)
	adapter, err := o.adapter(leg.Chain)
	if err != nil {
		return nil, err
	}
	if checker, ok := adapter.(interface {
		TxStatus(ctx context.Context, txRef string) (int64, bool, error)
	}); ok {
		conf, found, err := checker.TxStatus(ctx, txRef)
		if err != nil {
			return nil, err
		}
		if !found || conf < adapter.ConfirmationDepth() {
			return nil, fmt.Errorf("settlement tx %s not confirmed on %s yet", txRef, leg.Chain)
		}
	}

	if err := o.recordSettlementTx(offerID, side, txRef); err != nil {
		return nil, err
	}

	offer, err = o.store.Get(offerID)
	if err != nil {
		return nil, err
	}
	if offer.Status == escrow.StatusBothLocked && offer.SellerReleaseTx != "" && offer.BuyerReleaseTx != "" {
		if err := o.complete(offerID); err != nil {
			return nil, err
		}
	}
	return o.store.Get(offerID)
}

func (o *Orchestrator) freezeDisputed(offerID, reason string) error {
	offer, err := o.store.Get(offerID)
	if err != nil {
		return err
	}
	system := "system"
	return o.store.Transition(offerID, offer.Status, escrow.StatusDisputed, &escrowstore.TransitionFields{
		DisputeReason:      &reason,
		DisputeInitiatedBy: &system,
	})
}
