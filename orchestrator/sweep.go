package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/chainweave/escrow-go/escrow"
)

// SweepExpired walks every non-terminal offer past its deadline: unlocked
// offers are cancelled, locked ones are refunded to their lockers.
// Disputed offers never appear here; only an admin resolution moves them.
func (o *Orchestrator) SweepExpired(ctx context.Context) error {
	offers, err := o.store.FindExpiring(time.Now().UTC())
	if err != nil {
		return err
	}

	for _, offer := range offers {
		if err := o.expireOne(ctx, offer); err != nil {
			logger.WithFields(logger.Fields{
				"offer":  offer.ID,
				"status": offer.Status,
			}).Warnf("expiry handling failed, will retry next sweep: %v", err)
		}
	}
	return nil
}

func (o *Orchestrator) expireOne(ctx context.Context, offer *escrow.Offer) error {
	logger.WithFields(logger.Fields{
		"offer":     offer.ID,
		"status":    offer.Status,
		"expiresAt": offer.ExpiresAt,
	}).Info("offer expired")

	if offer.Status == escrow.StatusCreated {
		err := o.store.Transition(offer.ID, escrow.StatusCreated, escrow.StatusCancelled, nil)
		if errors.Is(err, escrow.ErrStaleTransition) {
			// someone locked or cancelled concurrently; next sweep decides
			return nil
		}
		return err
	}

	// refund every leg that locked and has not settled
	for _, side := range []escrow.Side{escrow.SideSeller, escrow.SideBuyer} {
		if offer.EscrowTxFor(side) == "" || offer.ReleaseTxFor(side) != "" {
			continue
		}
		txRef, err := o.refundLeg(ctx, offer, side)
		if err != nil {
			if errors.Is(err, escrow.ErrNotSupportedOnChain) {
				// freeze instead of alerting every sweep: the disputed
				// state accepts RecordManualSettlement and the admin
				// closes it with a refund resolution
				detail := fmt.Sprintf("%s leg on %s needs the multisig co-signing flow",
					side, offer.LegFor(side).Chain)
				o.alerter.Alert(offer.ID, "manual refund required", detail)
				return o.freezeDisputed(offer.ID, detail)
			}
			o.alerter.Alert(offer.ID, "refund failure",
				fmt.Sprintf("refund of the %s leg failed: %v", side, err))
			return err
		}
		if err := o.recordSettlementTx(offer.ID, side, txRef); err != nil {
			return err
		}
	}

	cur, err := o.store.Get(offer.ID)
	if err != nil {
		return err
	}
	err = o.store.Transition(offer.ID, cur.Status, escrow.StatusRefunded, nil)
	if errors.Is(err, escrow.ErrStaleTransition) {
		return nil
	}
	return err
}
