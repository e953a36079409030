package orchestrator

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/chainweave/escrow-go/escrow"
)

// backoff is the capped exponential delay before retry attempt n.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	d := o.cfg.RetryBaseDelay << uint(attempt)
	if d > o.cfg.RetryMaxDelay || d <= 0 {
		d = o.cfg.RetryMaxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// createWithRetry locks one leg, retrying only across ambiguous timeouts.
// After a timeout the chain is queried for an escrow that may already
// exist before anything is re-broadcast; locking the same leg twice is
// the one outcome this must never produce.
func (o *Orchestrator) createWithRetry(ctx context.Context, a escrow.Adapter, p *escrow.CreateParams) (*escrow.Handle, error) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, o.backoff(attempt-1)); err != nil {
				return nil, err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, o.cfg.ChainCallTimeout)
		h, err := a.CreateEscrow(callCtx, p)
		cancel()
		if err == nil {
			return h, nil
		}
		if !escrow.Retryable(err) {
			return nil, err
		}
		lastErr = err

		// outcome ambiguous: did the lock land anyway?
		findCtx, cancel := context.WithTimeout(ctx, o.cfg.ChainCallTimeout)
		h, found, ferr := a.FindEscrow(findCtx, p)
		cancel()
		if ferr == nil && found {
			logger.WithFields(logger.Fields{
				"offer": p.OfferID,
				"chain": a.Chain(),
				"tx":    h.TxRef,
			}).Info("escrow found on chain after ambiguous create, adopting")
			return h, nil
		}

		logger.WithFields(logger.Fields{
			"offer":   p.OfferID,
			"chain":   a.Chain(),
			"attempt": attempt + 1,
		}).Warnf("escrow create timed out, will retry: %v", err)
	}
	return nil, lastErr
}

// settleWithRetry runs a release or refund with the same timeout-only
// retry discipline. The chain rejects a second finish of the same escrow,
// so re-broadcasting after a timeout is safe.
func (o *Orchestrator) settleWithRetry(ctx context.Context, op string, call func(context.Context) (*escrow.Receipt, error)) (*escrow.Receipt, error) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, o.backoff(attempt-1)); err != nil {
				return nil, err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, o.cfg.ChainCallTimeout)
		r, err := call(callCtx)
		cancel()
		if err == nil {
			return r, nil
		}
		if !escrow.Retryable(err) {
			return nil, err
		}
		lastErr = err
		logger.WithField("attempt", attempt+1).Warnf("%s timed out, will retry: %v", op, err)
	}
	return nil, lastErr
}
