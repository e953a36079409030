// Package evmman is the escrow adapter for EVM-family chains (XDC, IOTA
// EVM): a minimal admin-custodied vault contract holds each leg, keyed by
// a 32-byte escrow id derived from the offer.
package evmman

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	logger "github.com/sirupsen/logrus"

	"github.com/chainweave/escrow-go/escrow"
)

type Adapter struct {
	cfg       *Config
	clients   []*ethclient.Client
	vault     ethcommon.Address
	parsedABI abi.ABI
	key       *ecdsa.PrivateKey

	// txMu serializes sends from the admin wallet: concurrent transactions
	// from one account race on the nonce and the chain drops the losers.
	txMu sync.Mutex
}

func NewAdapter(cfg *Config) (escrow.Adapter, error) {
	if m := cfg.Missing(); m != "" {
		return &escrow.Unconfigured{ChainID: cfg.chainOrDefault(), Missing: m}, nil
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.AdminPrivKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("bad admin key: %v", err)
	}

	vault, err := parseAddress(cfg.VaultAddress)
	if err != nil {
		return nil, err
	}

	parsed, err := abi.JSON(strings.NewReader(vaultABI))
	if err != nil {
		return nil, err
	}

	a := &Adapter{cfg: cfg, vault: vault, parsedABI: parsed, key: key}
	for _, url := range cfg.RPCURLs {
		cl, err := ethclient.Dial(url)
		if err != nil {
			return nil, err
		}
		a.clients = append(a.clients, cl)
	}
	return a, nil
}

func (c *Config) chainOrDefault() escrow.Chain {
	if c != nil && c.Chain != "" {
		return c.Chain
	}
	return escrow.ChainXDC
}

func (a *Adapter) Chain() escrow.Chain { return a.cfg.Chain }

func (a *Adapter) ConfirmationDepth() int64 {
	if a.cfg.ConfirmationDepth > 0 {
		return a.cfg.ConfirmationDepth
	}
	return 6
}

// escrowID keys the vault entry: one id per offer leg.
func escrowID(offerID string, side escrow.Side) [32]byte {
	return crypto.Keccak256Hash([]byte(offerID + ":" + string(side)))
}

func (a *Adapter) CreateEscrow(ctx context.Context, p *escrow.CreateParams) (*escrow.Handle, error) {
	payee, err := parseAddress(p.Counterparty)
	if err != nil {
		return nil, a.reject("create", err)
	}

	var hashLock [32]byte
	copy(hashLock[:], p.HashLock)

	id := escrowID(p.OfferID, p.Side)
	deadline := big.NewInt(p.Expiry.Unix())

	tx, err := a.transact(ctx, "create", p.Amount, "createEscrow", id, payee, hashLock, deadline)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"chain": a.cfg.Chain,
		"offer": p.OfferID,
		"id":    ethcommon.Hash(id).Hex(),
		"tx":    tx.Hash().Hex(),
	}).Info("evm escrow funded")

	return &escrow.Handle{
		Chain:           a.cfg.Chain,
		TxRef:           tx.Hash().Hex(),
		ContractAddress: formatAddress(a.vault, a.cfg.Chain == escrow.ChainXDC),
		Opaque:          ethcommon.Hash(id).Hex(),
	}, nil
}

func (a *Adapter) ReleaseEscrow(ctx context.Context, h *escrow.Handle, destination string) (*escrow.Receipt, error) {
	return a.settle(ctx, "release", h, destination)
}

func (a *Adapter) RefundEscrow(ctx context.Context, h *escrow.Handle, destination string) (*escrow.Receipt, error) {
	return a.settle(ctx, "refund", h, destination)
}

func (a *Adapter) settle(ctx context.Context, op string, h *escrow.Handle, destination string) (*escrow.Receipt, error) {
	dest, err := parseAddress(destination)
	if err != nil {
		return nil, a.reject(op, err)
	}

	id := ethcommon.HexToHash(h.Opaque)

	// the vault enforces payer/payee, but a mismatched destination is
	// cheaper to reject here than to burn gas discovering it on chain
	entry, found, err := a.readEscrow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, a.reject(op, fmt.Errorf("no vault entry for escrow id %s", h.Opaque))
	}
	expect := entry.Payee
	if op == "refund" {
		expect = entry.Payer
	}
	if dest != expect {
		return nil, a.reject(op, fmt.Errorf("destination %s does not match recorded party %s", destination, expect.Hex()))
	}

	tx, err := a.transact(ctx, op, nil, op, id, dest)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"chain": a.cfg.Chain,
		"op":    op,
		"tx":    tx.Hash().Hex(),
	}).Info("evm escrow settled")

	return &escrow.Receipt{
		Chain:       a.cfg.Chain,
		TxRef:       tx.Hash().Hex(),
		Destination: destination,
		Settled:     time.Now().UTC(),
	}, nil
}

func (a *Adapter) FindEscrow(ctx context.Context, p *escrow.CreateParams) (*escrow.Handle, bool, error) {
	id := escrowID(p.OfferID, p.Side)
	entry, found, err := a.readEscrow(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !found || entry.Amount.Cmp(p.Amount) != 0 {
		return nil, false, nil
	}

	// the vault view proves the escrow exists but not which tx funded it;
	// the monitor needs a watchable tx reference, so recover it from the
	// funding log
	txRef, err := a.fundingTx(ctx, id)
	if err != nil {
		return nil, false, err
	}

	return &escrow.Handle{
		Chain:           a.cfg.Chain,
		TxRef:           txRef,
		ContractAddress: formatAddress(a.vault, a.cfg.Chain == escrow.ChainXDC),
		Opaque:          ethcommon.Hash(id).Hex(),
	}, true, nil
}

// fundingTx finds the createEscrow transaction for an id via the vault's
// EscrowFunded event.
func (a *Adapter) fundingTx(ctx context.Context, id [32]byte) (string, error) {
	topic := a.parsedABI.Events["EscrowFunded"].ID

	var logs []types.Log
	err := a.call(ctx, "find", func(cl *ethclient.Client) error {
		l, err := cl.FilterLogs(ctx, ethereum.FilterQuery{
			Addresses: []ethcommon.Address{a.vault},
			Topics:    [][]ethcommon.Hash{{topic}, {ethcommon.Hash(id)}},
		})
		if err != nil {
			return err
		}
		logs = l
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(logs) == 0 {
		return "", a.reject("find", fmt.Errorf("vault entry %s has no funding log", ethcommon.Hash(id).Hex()))
	}
	return logs[len(logs)-1].TxHash.Hex(), nil
}

// TxStatus reports confirmations of a vault tx for the monitor.
func (a *Adapter) TxStatus(ctx context.Context, txRef string) (int64, bool, error) {
	hash := ethcommon.HexToHash(txRef)

	var confs int64
	var found bool
	err := a.call(ctx, "status", func(cl *ethclient.Client) error {
		receipt, err := cl.TransactionReceipt(ctx, hash)
		if err != nil {
			return err
		}
		head, err := cl.BlockNumber(ctx)
		if err != nil {
			return err
		}
		found = true
		confs = int64(head) - receipt.BlockNumber.Int64() + 1
		return nil
	})
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return 0, false, nil
		}
		return 0, false, err
	}
	return confs, found, nil
}

type vaultEntry struct {
	Payer    ethcommon.Address
	Payee    ethcommon.Address
	Amount   *big.Int
	Deadline *big.Int
	Funded   bool
	Settled  bool
}

func (a *Adapter) readEscrow(ctx context.Context, id ethcommon.Hash) (*vaultEntry, bool, error) {
	var out []interface{}
	err := a.call(ctx, "escrows", func(cl *ethclient.Client) error {
		contract := bind.NewBoundContract(a.vault, a.parsedABI, cl, cl, cl)
		out = out[:0]
		return contract.Call(&bind.CallOpts{Context: ctx}, &out, "escrows", [32]byte(id))
	})
	if err != nil {
		return nil, false, err
	}
	if len(out) != 6 {
		return nil, false, a.reject("escrows", fmt.Errorf("unexpected vault response shape"))
	}

	entry := &vaultEntry{
		Payer:    out[0].(ethcommon.Address),
		Payee:    out[1].(ethcommon.Address),
		Amount:   out[2].(*big.Int),
		Deadline: out[3].(*big.Int),
		Funded:   out[4].(bool),
		Settled:  out[5].(bool),
	}
	if !entry.Funded {
		return nil, false, nil
	}
	return entry, true, nil
}

// transact sends one admin-wallet transaction with endpoint failover,
// holding txMu for the whole nonce-assign-and-send window.
func (a *Adapter) transact(ctx context.Context, op string, value *big.Int, method string, args ...interface{}) (*types.Transaction, error) {
	a.txMu.Lock()
	defer a.txMu.Unlock()

	var tx *types.Transaction
	err := a.call(ctx, op, func(cl *ethclient.Client) error {
		opts, err := bind.NewKeyedTransactorWithChainID(a.key, a.cfg.ChainID)
		if err != nil {
			return err
		}
		opts.Context = ctx
		if value != nil {
			opts.Value = value
		}

		contract := bind.NewBoundContract(a.vault, a.parsedABI, cl, cl, cl)
		t, err := contract.Transact(opts, method, args...)
		if err != nil {
			return err
		}
		tx = t
		return nil
	})
	return tx, err
}

// call runs fn against each endpoint in order and classifies the failure:
// a dead context is an ambiguous timeout, anything else is a rejection.
func (a *Adapter) call(ctx context.Context, op string, fn func(*ethclient.Client) error) error {
	var lastErr error
	for i, cl := range a.clients {
		if err := fn(cl); err != nil {
			if ctx.Err() != nil {
				return escrow.ChainErrorf(a.cfg.Chain, op, escrow.ErrChainCallTimeout, "%v", ctx.Err())
			}
			logger.WithFields(logger.Fields{
				"chain":    a.cfg.Chain,
				"op":       op,
				"endpoint": i,
			}).Warnf("evm rpc call failed, trying next endpoint: %v", err)
			lastErr = err
			continue
		}
		return nil
	}
	return escrow.ChainErrorf(a.cfg.Chain, op, escrow.ErrChainCallRejected, "all %d endpoints failed: %v", len(a.clients), lastErr)
}

func (a *Adapter) reject(op string, err error) error {
	return escrow.ChainErrorf(a.cfg.Chain, op, escrow.ErrChainCallRejected, "%v", err)
}
