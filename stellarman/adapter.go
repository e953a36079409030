// Package stellarman is the Stellar escrow adapter. Stellar has no native
// escrow object, so each offer leg funds a dedicated escrow account whose
// signer weights put every spend behind a platform co-signature. Moving
// funds out again is inherently a multisig ceremony between the parties,
// which the generic release and refund entry points cannot perform on
// their own.
package stellarman

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/chainweave/escrow-go/escrow"
)

// partyWeight and platformWeight shape the escrow account signer set:
// with both thresholds at 2, the platform plus either party clears a
// spend and no single key does.
const (
	partyWeight    = 1
	platformWeight = 2
	spendThreshold = 2
)

type Adapter struct {
	cfg    *Config
	client *horizonClient
}

func NewAdapter(cfg *Config) (escrow.Adapter, error) {
	if m := cfg.Missing(); m != "" {
		return &escrow.Unconfigured{ChainID: escrow.ChainStellar, Missing: m}, nil
	}
	return &Adapter{cfg: cfg, client: newHorizonClient(cfg.HorizonURLs)}, nil
}

func (a *Adapter) Chain() escrow.Chain { return escrow.ChainStellar }

func (a *Adapter) ConfirmationDepth() int64 {
	if a.cfg.ConfirmationDepth > 0 {
		return a.cfg.ConfirmationDepth
	}
	return 1
}

// CreateEscrow verifies the escrow account carries the expected signer
// weights, then locates the locker's funding payment into it. The account
// itself is provisioned by the co-signing ceremony before the lock is
// reported, so create here is a verification, not a submission.
func (a *Adapter) CreateEscrow(ctx context.Context, p *escrow.CreateParams) (*escrow.Handle, error) {
	if err := a.verifyAccount(ctx); err != nil {
		return nil, err
	}

	h, found, err := a.findFunding(ctx, p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, a.reject("create",
			fmt.Errorf("no funding payment of %s from %s to escrow account %s",
				lumens(p.Amount), p.Locker, a.cfg.EscrowAccount))
	}

	logger.WithFields(logger.Fields{
		"offer":   p.OfferID,
		"account": a.cfg.EscrowAccount,
		"hash":    h.TxRef,
	}).Info("stellar escrow funding verified")
	return h, nil
}

// ReleaseEscrow cannot act alone: the escrow account spends only under a
// transaction co-signed by the platform and a party. Callers get the
// spend proposal path instead.
func (a *Adapter) ReleaseEscrow(ctx context.Context, h *escrow.Handle, destination string) (*escrow.Receipt, error) {
	return nil, a.notSupported("release")
}

// RefundEscrow has the same shape as release on this chain: only a
// co-signed transaction moves funds back to the locker.
func (a *Adapter) RefundEscrow(ctx context.Context, h *escrow.Handle, destination string) (*escrow.Receipt, error) {
	return nil, a.notSupported("refund")
}

func (a *Adapter) notSupported(op string) error {
	return escrow.ChainErrorf(escrow.ChainStellar, op, escrow.ErrNotSupportedOnChain,
		"escrow account spends require the multisig co-signing flow, build a SpendProposal and collect signatures")
}

// SpendProposal describes the payment the parties co-sign out of band. It
// carries everything a signing ceremony needs; the adapter never holds
// enough keys to execute it.
type SpendProposal struct {
	SourceAccount  string
	Destination    string
	Amount         string
	PlatformSigner string
	Threshold      int
	Memo           string
}

// BuildSpendProposal prepares the co-signed payment that releases or
// refunds an escrow account. ConfirmSpend closes the loop once the signed
// transaction lands.
func (a *Adapter) BuildSpendProposal(h *escrow.Handle, destination string, amount *big.Int, memo string) (*SpendProposal, error) {
	locker, counterparty, err := decodeOpaque(h.Opaque)
	if err != nil {
		return nil, a.reject("spend", err)
	}
	if destination != locker && destination != counterparty {
		return nil, a.reject("spend",
			fmt.Errorf("destination %s is neither recorded party", destination))
	}
	return &SpendProposal{
		SourceAccount:  a.cfg.EscrowAccount,
		Destination:    destination,
		Amount:         lumens(amount),
		PlatformSigner: a.cfg.PlatformSigner,
		Threshold:      spendThreshold,
		Memo:           memo,
	}, nil
}

// ConfirmSpend verifies a co-signed spend landed in a ledger and returns
// the receipt the offer record expects.
func (a *Adapter) ConfirmSpend(ctx context.Context, txHash, destination string) (*escrow.Receipt, error) {
	tx, err := a.client.Transaction(ctx, txHash)
	if err != nil {
		return nil, a.classify("spend", ctx, err)
	}
	if !tx.Successful {
		return nil, a.reject("spend", fmt.Errorf("transaction %s failed on ledger", txHash))
	}
	return &escrow.Receipt{
		Chain:       escrow.ChainStellar,
		TxRef:       txHash,
		Destination: destination,
		Settled:     time.Now().UTC(),
	}, nil
}

// FindEscrow re-derives the handle from ledger history, so an ambiguous
// create can settle on whether funding already happened.
func (a *Adapter) FindEscrow(ctx context.Context, p *escrow.CreateParams) (*escrow.Handle, bool, error) {
	return a.findFunding(ctx, p)
}

func (a *Adapter) findFunding(ctx context.Context, p *escrow.CreateParams) (*escrow.Handle, bool, error) {
	payments, err := a.client.Payments(ctx, a.cfg.EscrowAccount)
	if err != nil {
		return nil, false, a.classify("find", ctx, err)
	}

	want := lumens(p.Amount)
	for _, pay := range payments {
		if pay.Type != "payment" && pay.Type != "create_account" {
			continue
		}
		if pay.From == p.Locker && pay.To == a.cfg.EscrowAccount && pay.Amount == want {
			return &escrow.Handle{
				Chain:           escrow.ChainStellar,
				TxRef:           pay.TransactionHash,
				ContractAddress: a.cfg.EscrowAccount,
				Opaque:          encodeOpaque(p.Locker, p.Counterparty),
			}, true, nil
		}
	}
	return nil, false, nil
}

// TxStatus reports whether a transaction is in a closed ledger. Horizon
// only serves applied transactions, so inclusion is final.
func (a *Adapter) TxStatus(ctx context.Context, txRef string) (int64, bool, error) {
	tx, err := a.client.Transaction(ctx, txRef)
	if err != nil {
		if strings.Contains(err.Error(), errNotFound.Error()) {
			return 0, false, nil
		}
		return 0, false, a.classify("status", ctx, err)
	}
	if !tx.Successful {
		return 0, true, a.reject("status", fmt.Errorf("transaction %s failed on ledger", txRef))
	}
	return 1, true, nil
}

// verifyAccount checks the escrow account's signer weights and thresholds
// before trusting it to hold funds.
func (a *Adapter) verifyAccount(ctx context.Context) error {
	acc, err := a.client.Account(ctx, a.cfg.EscrowAccount)
	if err != nil {
		return a.classify("create", ctx, err)
	}

	platformOK := false
	for _, s := range acc.Signers {
		if s.Key == a.cfg.PlatformSigner && s.Weight >= platformWeight {
			platformOK = true
		}
	}
	if !platformOK {
		return a.reject("create",
			fmt.Errorf("escrow account %s missing platform signer %s at weight %d",
				a.cfg.EscrowAccount, a.cfg.PlatformSigner, platformWeight))
	}
	if acc.Thresholds.MedThreshold < spendThreshold || acc.Thresholds.HighThreshold < spendThreshold {
		return a.reject("create",
			fmt.Errorf("escrow account %s thresholds %d/%d below required %d",
				a.cfg.EscrowAccount, acc.Thresholds.MedThreshold, acc.Thresholds.HighThreshold, spendThreshold))
	}
	return nil
}

func (a *Adapter) classify(op string, ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return escrow.ChainErrorf(escrow.ChainStellar, op, escrow.ErrChainCallTimeout, "%v", ctx.Err())
	}
	return escrow.ChainErrorf(escrow.ChainStellar, op, escrow.ErrChainCallRejected, "%v", err)
}

func (a *Adapter) reject(op string, err error) error {
	return escrow.ChainErrorf(escrow.ChainStellar, op, escrow.ErrChainCallRejected, "%v", err)
}

// lumens renders a stroop amount the way Horizon does, seven decimals.
func lumens(stroops *big.Int) string {
	q, r := new(big.Int).QuoRem(stroops, big.NewInt(10_000_000), new(big.Int))
	return fmt.Sprintf("%s.%07d", q.String(), r.Int64())
}

const opaqueSep = "|"

func encodeOpaque(locker, counterparty string) string {
	return locker + opaqueSep + counterparty
}

func decodeOpaque(opaque string) (locker, counterparty string, err error) {
	parts := strings.Split(opaque, opaqueSep)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed opaque handle data")
	}
	return parts[0], parts[1], nil
}
