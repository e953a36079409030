// Server = chain adapters + offer store + orchestrator + monitors + http
// reporter. All components are configured via environment variables or a
// config file (strings!).

package cmd

import (
	"context"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	logger "github.com/sirupsen/logrus"

	"github.com/chainweave/escrow-go/btcman"
	"github.com/chainweave/escrow-go/chainmonitor"
	"github.com/chainweave/escrow-go/escrow"
	"github.com/chainweave/escrow-go/escrowstore"
	"github.com/chainweave/escrow-go/evmman"
	"github.com/chainweave/escrow-go/logconfig"
	"github.com/chainweave/escrow-go/orchestrator"
	"github.com/chainweave/escrow-go/reporter"
	"github.com/chainweave/escrow-go/stellarman"
	"github.com/chainweave/escrow-go/xrplman"
)

// Default params for server. More often we don't recommend users to tweak
// those, so they live here instead of the config file.
const (
	expirySweepInterval = 30 * time.Second
	chainCallTimeout    = 30 * time.Second
	retryMax            = 3
	retryBaseDelay      = 2 * time.Second
	retryMaxDelay       = 30 * time.Second
)

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
type EscrowServerConfig struct {
	// logging: "debug", "info" or "production"
	LogLevel string

	// state side
	DbFilePath string

	// btc side
	BtcRpcServer     string
	BtcRpcPort       string
	BtcRpcUsername   string
	BtcRpcPwd        string
	BtcChainConfig   *chaincfg.Params // regtest, testnet, mainnet?
	BtcAdminKeyWIF   string
	BtcAdminPubKey   string
	BtcFeeSats       int64
	BtcConfirmations int64

	// xrpl side
	XrplRpcUrls      string // comma separated, primary first
	XrplAdminAccount string
	XrplAdminSecret  string

	// stellar side
	StellarHorizonUrls    string // comma separated
	StellarEscrowAccount  string
	StellarPlatformSigner string

	// evm sides
	XdcRpcUrls       string
	XdcChainId       int64
	XdcVaultAddr     string
	XdcAdminPrivKey  string
	IotaRpcUrls      string
	IotaChainId      int64
	IotaVaultAddr    string
	IotaAdminPrivKey string

	// Http side
	HttpIp   string // eg. 0.0.0.0
	HttpPort string // eg. 8080
}

// EscrowServer holds the objects that consists of the escrow server.
type EscrowServer struct {
	MyStore        *escrowstore.Store
	MyAdapters     map[escrow.Chain]escrow.Adapter
	MyMonitors     []*chainmonitor.Monitor
	MyOrchestrator *orchestrator.Orchestrator
	MyReporter     *reporter.HttpReporter
}

func splitUrls(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// buildAdapters wires one adapter per supported chain. A chain without
// complete configuration gets the typed unconfigured stand-in, so offers
// touching it fail loudly instead of crashing the server.
func buildAdapters(esc *EscrowServerConfig) (map[escrow.Chain]escrow.Adapter, error) {
	adapters := make(map[escrow.Chain]escrow.Adapter)

	btcCfg := &btcman.Config{
		ChainParams:       esc.BtcChainConfig,
		AdminKeyWIF:       esc.BtcAdminKeyWIF,
		AdminPubKey:       esc.BtcAdminPubKey,
		FeeSats:           esc.BtcFeeSats,
		ConfirmationDepth: esc.BtcConfirmations,
	}
	if esc.BtcRpcServer != "" {
		btcCfg.Endpoints = []btcman.RPCEndpoint{{
			Host:     esc.BtcRpcServer,
			Port:     esc.BtcRpcPort,
			Username: esc.BtcRpcUsername,
			Password: esc.BtcRpcPwd,
		}}
	}
	btcAdapter, err := btcman.NewAdapter(btcCfg)
	if err != nil {
		return nil, err
	}
	adapters[escrow.ChainBitcoin] = btcAdapter

	xrplAdapter, err := xrplman.NewAdapter(&xrplman.Config{
		RPCURLs:      splitUrls(esc.XrplRpcUrls),
		AdminAccount: esc.XrplAdminAccount,
		AdminSecret:  esc.XrplAdminSecret,
	})
	if err != nil {
		return nil, err
	}
	adapters[escrow.ChainXRPL] = xrplAdapter

	stellarAdapter, err := stellarman.NewAdapter(&stellarman.Config{
		HorizonURLs:    splitUrls(esc.StellarHorizonUrls),
		EscrowAccount:  esc.StellarEscrowAccount,
		PlatformSigner: esc.StellarPlatformSigner,
	})
	if err != nil {
		return nil, err
	}
	adapters[escrow.ChainStellar] = stellarAdapter

	for _, evm := range []struct {
		chain   escrow.Chain
		urls    string
		chainId int64
		vault   string
		priv    string
	}{
		{escrow.ChainXDC, esc.XdcRpcUrls, esc.XdcChainId, esc.XdcVaultAddr, esc.XdcAdminPrivKey},
		{escrow.ChainIOTA, esc.IotaRpcUrls, esc.IotaChainId, esc.IotaVaultAddr, esc.IotaAdminPrivKey},
	} {
		cfg := &evmman.Config{
			Chain:        evm.chain,
			RPCURLs:      splitUrls(evm.urls),
			VaultAddress: evm.vault,
			AdminPrivKey: evm.priv,
		}
		if evm.chainId != 0 {
			cfg.ChainID = big.NewInt(evm.chainId)
		}
		adapter, err := evmman.NewAdapter(cfg)
		if err != nil {
			return nil, err
		}
		adapters[evm.chain] = adapter
	}

	return adapters, nil
}

// NewEscrowServer creates a new escrow server.
// ctx is used for parental context to cancel the operation of the server.
// wg is used to wait for all the goroutines inside the server (monitors,
// orchestrator) to finish.
func NewEscrowServer(esc *EscrowServerConfig, ctx context.Context, wg *sync.WaitGroup) (*EscrowServer, error) {
	myStore, err := escrowstore.New("sqlite3", esc.DbFilePath)
	if err != nil {
		logger.Fatalf("failed to open offer store at %s: %v", esc.DbFilePath, err)
		return nil, err
	}

	myAdapters, err := buildAdapters(esc)
	if err != nil {
		logger.Fatalf("failed to build chain adapters: %v", err)
		return nil, err
	}

	myOrchestrator := orchestrator.New(&orchestrator.Config{
		ExpirySweepInterval: expirySweepInterval,
		ChainCallTimeout:    chainCallTimeout,
		RetryMax:            retryMax,
		RetryBaseDelay:      retryBaseDelay,
		RetryMaxDelay:       retryMaxDelay,
		FeePolicy:           escrow.DefaultFeePolicy,
	}, myStore, myAdapters, nil)

	// One monitor per chain whose adapter can answer tx status queries.
	// The unconfigured stand-in can't, and gets no monitor.
	var myMonitors []*chainmonitor.Monitor
	for _, adapter := range myAdapters {
		reader, ok := adapter.(chainmonitor.TxStatusReader)
		if !ok {
			logger.WithField("chain", adapter.Chain()).Warn("chain not configured, monitor disabled")
			continue
		}
		m := chainmonitor.NewMonitor(reader, myStore, &chainmonitor.Config{})
		myMonitors = append(myMonitors, m)
		myOrchestrator.AttachMonitor(m)
	}

	// Important: turn the components on!
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := myOrchestrator.Start(ctx); err != nil && err != context.Canceled {
			logger.Errorf("orchestrator stopped: %v", err)
		}
	}()
	for _, m := range myMonitors {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Loop(ctx); err != nil && err != context.Canceled {
				logger.Errorf("monitor stopped: %v", err)
			}
		}()
	}
	// Don't forget to call wg.Wait() in the main routine.

	myReporter := reporter.NewHttpReporter(esc.HttpIp, esc.HttpPort, myOrchestrator, myMonitors)

	return &EscrowServer{
		MyStore:        myStore,
		MyAdapters:     myAdapters,
		MyMonitors:     myMonitors,
		MyOrchestrator: myOrchestrator,
		MyReporter:     myReporter,
	}, nil
}

// StartEscrowServerAndWait boots every component and blocks until
// Ctrl+C / SIGTERM.
func StartEscrowServerAndWait(esc *EscrowServerConfig) {
	switch esc.LogLevel {
	case "debug":
		logconfig.ConfigDebugLogger()
	case "production":
		logconfig.ConfigProductionLogger()
	default:
		logconfig.ConfigInfoLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	server, err := NewEscrowServer(esc, ctx, &wg)
	if err != nil {
		logger.Fatalf("failed to create escrow server: %v", err)
		return
	}
	defer server.MyStore.Close()

	// reporter blocks inside gin, run it aside
	go server.MyReporter.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down escrow server")
	cancel()
	wg.Wait()
}
