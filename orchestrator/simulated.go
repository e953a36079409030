package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainweave/escrow-go/escrow"
)

// SimAdapter is an in-memory chain for tests: escrows live in a map, tx
// references are sequence numbers, and failures are injected per call.
// It doubles as the monitor's TxStatusReader.
type SimAdapter struct {
	ChainID escrow.Chain
	Depth   int64

	// failure injection
	CreateRejects  bool
	ReleaseRejects bool
	RefundRejects  bool
	NotSupported   bool // release/refund answer like a multisig-only chain
	CreateTimeouts int  // timeouts to serve before create succeeds
	LandsOnTimeout bool // a timed-out create still reaches the chain

	mu            sync.Mutex
	seq           int
	escrows       map[string]*simEscrow // offerID|side
	confirmations map[string]int64      // txRef -> confirmations
	createCalls   int
}

type simEscrow struct {
	params   escrow.CreateParams
	txRef    string
	settled  bool
	settleTo string
}

func NewSimAdapter(chain escrow.Chain) *SimAdapter {
	return &SimAdapter{
		ChainID:       chain,
		Depth:         1,
		escrows:       make(map[string]*simEscrow),
		confirmations: make(map[string]int64),
	}
}

func (s *SimAdapter) Chain() escrow.Chain      { return s.ChainID }
func (s *SimAdapter) ConfirmationDepth() int64 { return s.Depth }

func (s *SimAdapter) key(offerID string, side escrow.Side) string {
	return offerID + "|" + string(side)
}

func (s *SimAdapter) nextRef() string {
	s.seq++
	return fmt.Sprintf("%s-tx-%d", s.ChainID, s.seq)
}

func (s *SimAdapter) CreateEscrow(_ context.Context, p *escrow.CreateParams) (*escrow.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++

	if s.CreateRejects {
		return nil, escrow.ChainErrorf(s.ChainID, "create", escrow.ErrChainCallRejected, "injected rejection")
	}
	if s.CreateTimeouts > 0 {
		s.CreateTimeouts--
		if s.LandsOnTimeout {
			s.put(p)
		}
		return nil, escrow.ChainErrorf(s.ChainID, "create", escrow.ErrChainCallTimeout, "injected timeout")
	}

	e := s.put(p)
	return s.handle(e), nil
}

func (s *SimAdapter) put(p *escrow.CreateParams) *simEscrow {
	e := &simEscrow{params: *p, txRef: s.nextRef()}
	s.escrows[s.key(p.OfferID, p.Side)] = e
	return e
}

func (s *SimAdapter) handle(e *simEscrow) *escrow.Handle {
	return &escrow.Handle{
		Chain:  s.ChainID,
		TxRef:  e.txRef,
		Opaque: s.key(e.params.OfferID, e.params.Side),
	}
}

func (s *SimAdapter) ReleaseEscrow(_ context.Context, h *escrow.Handle, destination string) (*escrow.Receipt, error) {
	return s.settle("release", h, destination, s.ReleaseRejects)
}

func (s *SimAdapter) RefundEscrow(_ context.Context, h *escrow.Handle, destination string) (*escrow.Receipt, error) {
	return s.settle("refund", h, destination, s.RefundRejects)
}

func (s *SimAdapter) settle(op string, h *escrow.Handle, destination string, rejects bool) (*escrow.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.NotSupported {
		return nil, escrow.ChainErrorf(s.ChainID, op, escrow.ErrNotSupportedOnChain, "multisig flow required")
	}
	if rejects {
		return nil, escrow.ChainErrorf(s.ChainID, op, escrow.ErrChainCallRejected, "injected rejection")
	}

	e, ok := s.escrows[h.Opaque]
	if !ok {
		return nil, escrow.ChainErrorf(s.ChainID, op, escrow.ErrChainCallRejected, "no escrow for handle %q", h.Opaque)
	}
	if e.settled {
		return nil, escrow.ChainErrorf(s.ChainID, op, escrow.ErrChainCallRejected, "escrow already settled")
	}
	e.settled = true
	e.settleTo = destination

	return &escrow.Receipt{Chain: s.ChainID, TxRef: s.nextRef(), Destination: destination}, nil
}

func (s *SimAdapter) FindEscrow(_ context.Context, p *escrow.CreateParams) (*escrow.Handle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.escrows[s.key(p.OfferID, p.Side)]
	if !ok {
		return nil, false, nil
	}
	return s.handle(e), true, nil
}

func (s *SimAdapter) TxStatus(_ context.Context, txRef string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conf, ok := s.confirmations[txRef]
	if !ok {
		return 0, false, nil
	}
	return conf, true, nil
}

// Confirm marks a tx as buried under the given number of confirmations.
func (s *SimAdapter) Confirm(txRef string, confirmations int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmations[txRef] = confirmations
}

// CreateCalls reports how many create attempts the chain saw.
func (s *SimAdapter) CreateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls
}

// SettledTo reports where a leg's escrow paid out, if it settled.
func (s *SimAdapter) SettledTo(offerID string, side escrow.Side) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escrows[s.key(offerID, side)]
	if !ok || !e.settled {
		return "", false
	}
	return e.settleTo, true
}
