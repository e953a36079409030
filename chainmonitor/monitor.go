/*
Package chainmonitor watches each chain for escrow lock transactions
reaching their confirmation depth and publishes the observations to the
orchestrator over a channel. One monitor runs per configured chain.
*/
package chainmonitor

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/chainweave/escrow-go/escrow"
)

// TxStatusReader is the slice of the chain adapter the monitor needs.
type TxStatusReader interface {
	Chain() escrow.Chain
	ConfirmationDepth() int64
	TxStatus(ctx context.Context, txRef string) (int64, bool, error)
}

// OfferSource yields the offers that still wait for a lock confirmation
// on a given chain.
type OfferSource interface {
	FindAwaitingLockConfirmation(chain escrow.Chain) ([]*escrow.Offer, error)
}

// LockObserved is one confirmed lock sighting. The orchestrator persists
// the confirmation flag and advances the offer.
type LockObserved struct {
	OfferID       string
	Chain         escrow.Chain
	Side          escrow.Side
	TxRef         string
	Confirmations int64
}

// Status is the monitor's self-report, served to operators as a first
// class output alongside the observations themselves.
type Status struct {
	Chain         escrow.Chain
	Running       bool
	ActiveWatches int
	ObservedTotal int64
	LastPollAt    time.Time
	LastError     string
}

type Config struct {
	// Interval between polls. Zero picks a per-chain default: fast
	// finality chains poll tight, bitcoin waits out its block cadence.
	Interval time.Duration
}

// DefaultInterval returns the polling cadence suited to a chain's block
// time.
func DefaultInterval(chain escrow.Chain) time.Duration {
	if chain == escrow.ChainBitcoin {
		return 30 * time.Second
	}
	return 5 * time.Second
}

type Monitor struct {
	chain    escrow.Chain
	reader   TxStatusReader
	source   OfferSource
	interval time.Duration

	events chan *LockObserved

	mu      sync.Mutex
	status  Status
	emitted map[string]bool // offerID|side already published this run
}

func NewMonitor(reader TxStatusReader, source OfferSource, cfg *Config) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval(reader.Chain())
	}
	return &Monitor{
		chain:    reader.Chain(),
		reader:   reader,
		source:   source,
		interval: interval,
		events:   make(chan *LockObserved, 64),
		status:   Status{Chain: reader.Chain()},
		emitted:  make(map[string]bool),
	}
}

// Events is the observation feed. The orchestrator owns the receiving end.
func (m *Monitor) Events() <-chan *LockObserved {
	return m.events
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Loop polls until the context ends. Poll errors are recorded and logged,
// never fatal; the chain being briefly unreachable must not kill the
// monitor.
func (m *Monitor) Loop(ctx context.Context) error {
	m.setRunning(true)
	defer m.setRunning(false)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	logger.WithFields(logger.Fields{
		"chain":    m.chain,
		"interval": m.interval,
	}).Info("chain monitor started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Poll(ctx); err != nil {
				logger.WithField("chain", m.chain).Warnf("monitor poll failed: %v", err)
			}
		}
	}
}

type watch struct {
	side  escrow.Side
	txRef string
}

// pendingWatches lists the legs of an offer that lock on this chain and
// still lack a persisted confirmation.
func (m *Monitor) pendingWatches(o *escrow.Offer) []watch {
	var ws []watch
	if o.Seller != nil && o.Seller.Chain == m.chain && o.SellerEscrowTx != "" && !o.SellerLockConfirmed {
		ws = append(ws, watch{side: escrow.SideSeller, txRef: o.SellerEscrowTx})
	}
	if o.Buyer != nil && o.Buyer.Chain == m.chain && o.BuyerEscrowTx != "" && !o.BuyerLockConfirmed {
		ws = append(ws, watch{side: escrow.SideBuyer, txRef: o.BuyerEscrowTx})
	}
	return ws
}

// Poll runs one scan round: every pending lock on this chain is checked
// against the node and published once it clears the confirmation depth.
func (m *Monitor) Poll(ctx context.Context) error {
	offers, err := m.source.FindAwaitingLockConfirmation(m.chain)
	if err != nil {
		m.recordPoll(0, err)
		return err
	}

	active := 0
	seen := make(map[string]bool)
	for _, o := range offers {
		for _, w := range m.pendingWatches(o) {
			active++
			key := o.ID + "|" + string(w.side)
			seen[key] = true
			if m.alreadyEmitted(key) {
				continue
			}

			conf, found, err := m.reader.TxStatus(ctx, w.txRef)
			if err != nil {
				logger.WithFields(logger.Fields{
					"chain": m.chain,
					"offer": o.ID,
					"tx":    w.txRef,
				}).Warnf("tx status check failed: %v", err)
				m.recordPoll(active, err)
				continue
			}
			if !found || conf < m.reader.ConfirmationDepth() {
				continue
			}

			logger.WithFields(logger.Fields{
				"chain":         m.chain,
				"offer":         o.ID,
				"side":          w.side,
				"tx":            w.txRef,
				"confirmations": conf,
			}).Info("escrow lock confirmed")

			m.markEmitted(key)
			select {
			case m.events <- &LockObserved{
				OfferID:       o.ID,
				Chain:         m.chain,
				Side:          w.side,
				TxRef:         w.txRef,
				Confirmations: conf,
			}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	m.pruneEmitted(seen)
	m.recordPoll(active, nil)
	return nil
}

func (m *Monitor) alreadyEmitted(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emitted[key]
}

func (m *Monitor) markEmitted(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitted[key] = true
	m.status.ObservedTotal++
}

// pruneEmitted drops dedup entries for watches the store no longer
// reports, once the confirmation flag has been persisted.
func (m *Monitor) pruneEmitted(seen map[string]bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.emitted {
		if !seen[key] {
			delete(m.emitted, key)
		}
	}
}

func (m *Monitor) recordPoll(active int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.ActiveWatches = active
	m.status.LastPollAt = time.Now().UTC()
	if err != nil {
		m.status.LastError = err.Error()
	} else {
		m.status.LastError = ""
	}
}

func (m *Monitor) setRunning(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Running = v
}
