// Package xrplman is the XRP Ledger escrow adapter, built on the chain's
// native escrow: EscrowCreate with FinishAfter/CancelAfter bounds and an
// optional PREIMAGE-SHA-256 crypto-condition for the HTLC variant, then
// EscrowFinish to release or EscrowCancel to refund.
package xrplman

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/chainweave/escrow-go/escrow"
)

// rippleEpochOffset converts Unix seconds to the ledger's 2000-01-01 epoch.
const rippleEpochOffset = 946684800

func rippleTime(t time.Time) int64 {
	return t.Unix() - rippleEpochOffset
}

// condition wraps a sha256 digest in the crypto-conditions envelope the
// ledger expects: PREIMAGE-SHA-256, fingerprint, 32-byte preimage length.
func condition(hashLock []byte) string {
	return "A0258020" + strings.ToUpper(hex.EncodeToString(hashLock)) + "810120"
}

type Adapter struct {
	cfg    *Config
	client *Client
}

func NewAdapter(cfg *Config) (escrow.Adapter, error) {
	if m := cfg.Missing(); m != "" {
		return &escrow.Unconfigured{ChainID: escrow.ChainXRPL, Missing: m}, nil
	}
	return &Adapter{cfg: cfg, client: NewClient(cfg.RPCURLs)}, nil
}

func (a *Adapter) Chain() escrow.Chain { return escrow.ChainXRPL }

func (a *Adapter) ConfirmationDepth() int64 {
	if a.cfg.ConfirmationDepth > 0 {
		return a.cfg.ConfirmationDepth
	}
	return 1
}

type txJSON struct {
	TransactionType string `json:"TransactionType"`
	Account         string `json:"Account"`
	Destination     string `json:"Destination,omitempty"`
	Amount          string `json:"Amount,omitempty"`
	FinishAfter     int64  `json:"FinishAfter,omitempty"`
	CancelAfter     int64  `json:"CancelAfter,omitempty"`
	Condition       string `json:"Condition,omitempty"`
	Fulfillment     string `json:"Fulfillment,omitempty"`
	Owner           string `json:"Owner,omitempty"`
	OfferSequence   uint32 `json:"OfferSequence,omitempty"`
}

type submitParams struct {
	Secret string `json:"secret"`
	TxJSON txJSON `json:"tx_json"`
}

type submitResult struct {
	EngineResult        string `json:"engine_result"`
	EngineResultMessage string `json:"engine_result_message"`
	TxJSON              struct {
		Hash     string `json:"hash"`
		Sequence uint32 `json:"Sequence"`
	} `json:"tx_json"`
}

// CreateEscrow submits an EscrowCreate from the platform escrow wallet to
// the counterparty, time-bounded by the offer expiry.
func (a *Adapter) CreateEscrow(ctx context.Context, p *escrow.CreateParams) (*escrow.Handle, error) {
	tx := txJSON{
		TransactionType: "EscrowCreate",
		Account:         a.cfg.AdminAccount,
		Destination:     p.Counterparty,
		Amount:          p.Amount.String(), // drops
		FinishAfter:     rippleTime(time.Now().UTC()),
		CancelAfter:     rippleTime(p.Expiry),
	}
	if len(p.HashLock) == 32 {
		tx.Condition = condition(p.HashLock)
	}

	res, err := a.submit(ctx, "create", tx)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"offer":    p.OfferID,
		"hash":     res.TxJSON.Hash,
		"sequence": res.TxJSON.Sequence,
	}).Info("xrpl escrow created")

	return &escrow.Handle{
		Chain:  escrow.ChainXRPL,
		TxRef:  res.TxJSON.Hash,
		Opaque: encodeOpaque(a.cfg.AdminAccount, res.TxJSON.Sequence, p.Locker, p.Counterparty),
	}, nil
}

// ReleaseEscrow finishes the escrow. The ledger pays the Destination fixed
// at create time, so a caller destination that disagrees with the recorded
// counterparty is rejected before submission.
func (a *Adapter) ReleaseEscrow(ctx context.Context, h *escrow.Handle, destination string) (*escrow.Receipt, error) {
	owner, sequence, _, counterparty, err := decodeOpaque(h.Opaque)
	if err != nil {
		return nil, a.reject("release", err)
	}
	if destination != counterparty {
		return nil, a.reject("release",
			fmt.Errorf("destination %s does not match escrow destination %s", destination, counterparty))
	}

	res, err := a.submit(ctx, "release", txJSON{
		TransactionType: "EscrowFinish",
		Account:         a.cfg.AdminAccount,
		Owner:           owner,
		OfferSequence:   sequence,
	})
	if err != nil {
		return nil, err
	}

	return &escrow.Receipt{
		Chain:       escrow.ChainXRPL,
		TxRef:       res.TxJSON.Hash,
		Destination: destination,
		Settled:     time.Now().UTC(),
	}, nil
}

// RefundEscrow cancels the escrow after CancelAfter, returning the funds
// to the owning wallet for the locker.
func (a *Adapter) RefundEscrow(ctx context.Context, h *escrow.Handle, destination string) (*escrow.Receipt, error) {
	owner, sequence, locker, _, err := decodeOpaque(h.Opaque)
	if err != nil {
		return nil, a.reject("refund", err)
	}
	if destination != locker {
		return nil, a.reject("refund",
			fmt.Errorf("destination %s does not match recorded locker %s", destination, locker))
	}

	res, err := a.submit(ctx, "refund", txJSON{
		TransactionType: "EscrowCancel",
		Account:         a.cfg.AdminAccount,
		Owner:           owner,
		OfferSequence:   sequence,
	})
	if err != nil {
		return nil, err
	}

	return &escrow.Receipt{
		Chain:       escrow.ChainXRPL,
		TxRef:       res.TxJSON.Hash,
		Destination: destination,
		Settled:     time.Now().UTC(),
	}, nil
}

type accountObjectsResult struct {
	AccountObjects []struct {
		LedgerEntryType string `json:"LedgerEntryType"`
		Destination     string `json:"Destination"`
		Amount          string `json:"Amount"`
		PreviousTxnID   string `json:"PreviousTxnID"`
	} `json:"account_objects"`
}

// FindEscrow scans the wallet's ledger escrow objects for one matching the
// params, so an ambiguous create is never re-submitted blind.
func (a *Adapter) FindEscrow(ctx context.Context, p *escrow.CreateParams) (*escrow.Handle, bool, error) {
	var res accountObjectsResult
	err := a.client.Call(ctx, "account_objects", map[string]interface{}{
		"account": a.cfg.AdminAccount,
		"type":    "escrow",
	}, &res)
	if err != nil {
		return nil, false, a.classify("find", ctx, err)
	}

	for _, obj := range res.AccountObjects {
		if obj.LedgerEntryType == "Escrow" && obj.Destination == p.Counterparty && obj.Amount == p.Amount.String() {
			return &escrow.Handle{
				Chain: escrow.ChainXRPL,
				TxRef: obj.PreviousTxnID,
			}, true, nil
		}
	}
	return nil, false, nil
}

type txResult struct {
	Validated bool   `json:"validated"`
	Hash      string `json:"hash"`
}

// TxStatus reports whether a tx is in a validated ledger.
func (a *Adapter) TxStatus(ctx context.Context, txRef string) (int64, bool, error) {
	var res txResult
	err := a.client.Call(ctx, "tx", map[string]interface{}{
		"transaction": txRef,
	}, &res)
	if err != nil {
		return 0, false, a.classify("status", ctx, err)
	}
	if !res.Validated {
		return 0, true, nil
	}
	return 1, true, nil
}

func (a *Adapter) submit(ctx context.Context, op string, tx txJSON) (*submitResult, error) {
	var res submitResult
	err := a.client.Call(ctx, "submit", submitParams{Secret: a.cfg.AdminSecret, TxJSON: tx}, &res)
	if err != nil {
		return nil, a.classify(op, ctx, err)
	}
	if res.EngineResult != "tesSUCCESS" {
		return nil, a.reject(op, fmt.Errorf("%s: %s", res.EngineResult, res.EngineResultMessage))
	}
	return &res, nil
}

func (a *Adapter) classify(op string, ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return escrow.ChainErrorf(escrow.ChainXRPL, op, escrow.ErrChainCallTimeout, "%v", ctx.Err())
	}
	return escrow.ChainErrorf(escrow.ChainXRPL, op, escrow.ErrChainCallRejected, "%v", err)
}

func (a *Adapter) reject(op string, err error) error {
	return escrow.ChainErrorf(escrow.ChainXRPL, op, escrow.ErrChainCallRejected, "%v", err)
}

const opaqueSep = "|"

// the finish/cancel path needs the owner and sequence; the validation
// path needs the recorded parties
func encodeOpaque(owner string, sequence uint32, locker, counterparty string) string {
	return strings.Join([]string{owner, strconv.FormatUint(uint64(sequence), 10), locker, counterparty}, opaqueSep)
}

func decodeOpaque(opaque string) (owner string, sequence uint32, locker, counterparty string, err error) {
	parts := strings.Split(opaque, opaqueSep)
	if len(parts) != 4 {
		return "", 0, "", "", fmt.Errorf("malformed opaque handle data")
	}
	seq, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return "", 0, "", "", err
	}
	return parts[0], uint32(seq), parts[2], parts[3], nil
}
