// Package btcman is the Bitcoin escrow adapter: a 2-of-3 P2SH multisig
// lock spent by co-signature for release and refund.
package btcman

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/chainweave/escrow-go/escrow"
)

type Adapter struct {
	cfg    *Config
	client *Client
}

// NewAdapter returns the Bitcoin adapter, or the typed Unconfigured
// stand-in when required configuration is absent.
func NewAdapter(cfg *Config) (escrow.Adapter, error) {
	if m := cfg.Missing(); m != "" {
		return &escrow.Unconfigured{ChainID: escrow.ChainBitcoin, Missing: m}, nil
	}
	client, err := NewClient(cfg.Endpoints)
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, client: client}, nil
}

func (a *Adapter) Chain() escrow.Chain { return escrow.ChainBitcoin }

func (a *Adapter) ConfirmationDepth() int64 {
	if a.cfg.ConfirmationDepth > 0 {
		return a.cfg.ConfirmationDepth
	}
	return 2
}

// CreateEscrow funds the 2-of-3 multisig address from the escrow wallet.
// Locker and Counterparty are hex-encoded compressed public keys; the
// adapter owns that interpretation, the orchestrator never looks inside.
func (a *Adapter) CreateEscrow(ctx context.Context, p *escrow.CreateParams) (*escrow.Handle, error) {
	script, addr, err := buildEscrowScript(p.Locker, p.Counterparty, a.cfg.AdminPubKey, a.cfg.ChainParams)
	if err != nil {
		return nil, escrow.ChainErrorf(escrow.ChainBitcoin, "create", escrow.ErrChainCallRejected, "%v", err)
	}

	if !p.Amount.IsInt64() {
		return nil, escrow.ChainErrorf(escrow.ChainBitcoin, "create", escrow.ErrChainCallRejected,
			"amount %v overflows satoshis", p.Amount)
	}
	amount := btcutil.Amount(p.Amount.Int64())

	var txid string
	err = a.call(ctx, "create", func() error {
		h, err := a.client.SendToAddress(addr, amount)
		if err != nil {
			return err
		}
		txid = h.String()
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"offer":  p.OfferID,
		"addr":   addr.String(),
		"txid":   txid,
		"amount": amount,
	}).Info("bitcoin escrow funded")

	return &escrow.Handle{
		Chain:           escrow.ChainBitcoin,
		TxRef:           txid,
		ContractAddress: addr.String(),
		Opaque:          encodeOpaque(script, p.Locker, p.Counterparty),
	}, nil
}

// ReleaseEscrow co-signs the multisig spend toward the counterparty.
func (a *Adapter) ReleaseEscrow(ctx context.Context, h *escrow.Handle, destination string) (*escrow.Receipt, error) {
	return a.spend(ctx, "release", h, destination, roleCounterparty)
}

// RefundEscrow co-signs the multisig spend back to the original locker.
func (a *Adapter) RefundEscrow(ctx context.Context, h *escrow.Handle, destination string) (*escrow.Receipt, error) {
	return a.spend(ctx, "refund", h, destination, roleLocker)
}

// FindEscrow checks the multisig address for an existing funding output
// matching the params, so an ambiguous create is never re-broadcast blind.
func (a *Adapter) FindEscrow(ctx context.Context, p *escrow.CreateParams) (*escrow.Handle, bool, error) {
	script, addr, err := buildEscrowScript(p.Locker, p.Counterparty, a.cfg.AdminPubKey, a.cfg.ChainParams)
	if err != nil {
		return nil, false, escrow.ChainErrorf(escrow.ChainBitcoin, "find", escrow.ErrChainCallRejected, "%v", err)
	}

	var unspent []btcjson.ListUnspentResult
	err = a.call(ctx, "find", func() error {
		u, err := a.client.ListUnspentByAddress(addr)
		if err != nil {
			return err
		}
		unspent = u
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	want := btcutil.Amount(p.Amount.Int64()).ToBTC()
	for _, u := range unspent {
		if u.Amount == want {
			return &escrow.Handle{
				Chain:           escrow.ChainBitcoin,
				TxRef:           u.TxID,
				ContractAddress: addr.String(),
				Opaque:          encodeOpaque(script, p.Locker, p.Counterparty),
			}, true, nil
		}
	}
	return nil, false, nil
}

// TxStatus reports confirmations of a recorded escrow tx for the monitor.
func (a *Adapter) TxStatus(ctx context.Context, txRef string) (int64, bool, error) {
	var res *btcjson.TxRawResult
	err := a.call(ctx, "status", func() error {
		r, err := a.client.GetTxVerbose(txRef)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return int64(res.Confirmations), true, nil
}

type spendRole int

const (
	roleLocker spendRole = iota
	roleCounterparty
)

// spend builds, co-signs, and broadcasts the escrow spend. Release and
// refund share this path; the destination names the recorded party for
// the role, either as the compressed public key the escrow was built
// with or as its derived pay-to address, so a caller-side mix-up cannot
// move funds to the wrong side. The payout always goes to the address
// derived from the recorded key.
func (a *Adapter) spend(ctx context.Context, op string, h *escrow.Handle, destination string, role spendRole) (*escrow.Receipt, error) {
	script, lockerPub, counterPub, err := decodeOpaque(h.Opaque)
	if err != nil {
		return nil, escrow.ChainErrorf(escrow.ChainBitcoin, op, escrow.ErrChainCallRejected, "bad handle: %v", err)
	}

	expectPub := lockerPub
	if role == roleCounterparty {
		expectPub = counterPub
	}
	destAddr, err := addressForPubKey(expectPub, a.cfg.ChainParams)
	if err != nil {
		return nil, escrow.ChainErrorf(escrow.ChainBitcoin, op, escrow.ErrChainCallRejected, "%v", err)
	}
	if destination != expectPub && destination != destAddr.String() {
		return nil, escrow.ChainErrorf(escrow.ChainBitcoin, op, escrow.ErrChainCallRejected,
			"destination %s does not match recorded party %s (%s)", destination, expectPub, destAddr.String())
	}

	var txid string
	err = a.call(ctx, op, func() error {
		id, err := a.spendFunding(h, script, destAddr)
		if err != nil {
			return err
		}
		txid = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"op":   op,
		"txid": txid,
		"dest": destAddr.String(),
	}).Info("bitcoin escrow spent")

	return &escrow.Receipt{
		Chain:       escrow.ChainBitcoin,
		TxRef:       txid,
		Destination: destAddr.String(),
		Settled:     time.Now().UTC(),
	}, nil
}

func (a *Adapter) spendFunding(h *escrow.Handle, script []byte, destAddr btcutil.Address) (string, error) {
	fundingTx, err := a.client.GetTx(h.TxRef)
	if err != nil {
		return "", err
	}

	escrowAddr, err := btcutil.DecodeAddress(h.ContractAddress, a.cfg.ChainParams)
	if err != nil {
		return "", err
	}
	escrowPkScript, err := txscript.PayToAddrScript(escrowAddr)
	if err != nil {
		return "", err
	}

	vout := -1
	var value int64
	for i, out := range fundingTx.MsgTx().TxOut {
		if string(out.PkScript) == string(escrowPkScript) {
			vout = i
			value = out.Value
			break
		}
	}
	if vout < 0 {
		return "", fmt.Errorf("funding tx %s has no output paying escrow address %s", h.TxRef, h.ContractAddress)
	}
	if value <= a.cfg.FeeSats {
		return "", fmt.Errorf("escrow value %d does not cover the fee %d", value, a.cfg.FeeSats)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(fundingTx.Hash(), uint32(vout)), nil, nil))

	destScript, err := txscript.PayToAddrScript(destAddr)
	if err != nil {
		return "", err
	}
	tx.AddTxOut(wire.NewTxOut(value-a.cfg.FeeSats, destScript))

	inputs := []btcjson.RawTxInput{{
		Txid:         h.TxRef,
		Vout:         uint32(vout),
		ScriptPubKey: hex.EncodeToString(escrowPkScript),
		RedeemScript: hex.EncodeToString(script),
	}}

	// admin signature first, then the escrow wallet adds the party's
	partial, _, err := a.client.SignWithKey(tx, inputs, []string{a.cfg.AdminKeyWIF})
	if err != nil {
		return "", err
	}
	signed, complete, err := a.client.SignWithWallet(partial, inputs)
	if err != nil {
		return "", err
	}
	if !complete {
		return "", fmt.Errorf("could not assemble 2 of 3 signatures for escrow spend of %s", h.TxRef)
	}

	txid, err := a.client.SendRawTransaction(signed)
	if err != nil {
		return "", err
	}
	return txid.String(), nil
}

// call bounds an RPC round trip by the caller's context. A timeout is
// ambiguous (the tx may still land) and classified as such; an answer from
// the chain that is an error is a rejection.
func (a *Adapter) call(ctx context.Context, op string, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case <-ctx.Done():
		return escrow.ChainErrorf(escrow.ChainBitcoin, op, escrow.ErrChainCallTimeout, "%v", ctx.Err())
	case err := <-done:
		if err != nil {
			return escrow.ChainErrorf(escrow.ChainBitcoin, op, escrow.ErrChainCallRejected, "%v", err)
		}
		return nil
	}
}

const opaqueSep = "|"

func encodeOpaque(script []byte, lockerPub, counterPub string) string {
	return strings.Join([]string{hex.EncodeToString(script), lockerPub, counterPub}, opaqueSep)
}

func decodeOpaque(opaque string) (script []byte, lockerPub, counterPub string, err error) {
	parts := strings.Split(opaque, opaqueSep)
	if len(parts) != 3 {
		return nil, "", "", fmt.Errorf("malformed opaque handle data")
	}
	script, err = hex.DecodeString(parts[0])
	if err != nil {
		return nil, "", "", err
	}
	return script, parts[1], parts[2], nil
}
