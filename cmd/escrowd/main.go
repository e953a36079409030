package main

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"

	"github.com/chainweave/escrow-go/cmd"
)

const (
	ENV_CONFIG_FILE_PATH = "ESCROW_CONFIG"
)

func main() {
	// Tool to read environment variables
	viper.AutomaticEnv()

	// Accessing an environment variable of configuration file location.
	_config_file := viper.GetString(ENV_CONFIG_FILE_PATH)
	fmt.Printf("Escrow server configuration file = %s\n", _config_file)

	// See if file exists
	if !cmd.FileExists(_config_file) {
		fmt.Printf("Escrow server configuration file not found: %s\n", _config_file)
		return
	}

	// Read from config file.
	if !initializeViper(_config_file) {
		return
	}

	// Make the configuration
	esc := PrepareEscrowServerConfig()
	if esc == nil {
		fmt.Printf("Error loading escrow server configuration\n")
		return
	}

	fmt.Println("Starting escrow server... press Ctrl+C to kill the server")
	// Start server and block.
	cmd.StartEscrowServerAndWait(esc)
}

func initializeViper(filePath string) bool {
	viper.SetConfigFile(filePath)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading configuration file, %s", err)
		return false
	}
	return true
}

// PrepareEscrowServerConfig reads configuration variables and returns an
// EscrowServerConfig.
func PrepareEscrowServerConfig() *cmd.EscrowServerConfig {

	// *** prepare objects that aren't string type ***

	// Parse the BTC chain config (e.g., "regtest", "testnet", or "mainnet").
	var btcParams *chaincfg.Params
	switch viper.GetString("BTC_CHAIN_CONFIG") {
	case "testnet":
		btcParams = &chaincfg.TestNet3Params
	case "mainnet":
		btcParams = &chaincfg.MainNetParams
	case "regtest":
		btcParams = &chaincfg.RegressionNetParams
	default:
		// default to regtest
		btcParams = &chaincfg.RegressionNetParams
	}

	// *** end of preparing objects ***

	return &cmd.EscrowServerConfig{
		// logging
		LogLevel: viper.GetString("LOG_LEVEL"),
		// state side
		DbFilePath: viper.GetString("DB_FILE_PATH"),
		// btc side
		BtcRpcServer:     viper.GetString("BTC_RPC_SERVER"),
		BtcRpcPort:       viper.GetString("BTC_RPC_PORT"),
		BtcRpcUsername:   viper.GetString("BTC_RPC_USERNAME"),
		BtcRpcPwd:        viper.GetString("BTC_RPC_PWD"),
		BtcChainConfig:   btcParams,
		BtcAdminKeyWIF:   viper.GetString("BTC_ADMIN_KEY_WIF"),
		BtcAdminPubKey:   viper.GetString("BTC_ADMIN_PUB_KEY"),
		BtcFeeSats:       viper.GetInt64("BTC_FEE_SATS"),
		BtcConfirmations: viper.GetInt64("BTC_CONFIRMATIONS"),
		// xrpl side
		XrplRpcUrls:      viper.GetString("XRPL_RPC_URLS"),
		XrplAdminAccount: viper.GetString("XRPL_ADMIN_ACCOUNT"),
		XrplAdminSecret:  viper.GetString("XRPL_ADMIN_SECRET"),
		// stellar side
		StellarHorizonUrls:    viper.GetString("STELLAR_HORIZON_URLS"),
		StellarEscrowAccount:  viper.GetString("STELLAR_ESCROW_ACCOUNT"),
		StellarPlatformSigner: viper.GetString("STELLAR_PLATFORM_SIGNER"),
		// evm sides
		XdcRpcUrls:       viper.GetString("XDC_RPC_URLS"),
		XdcChainId:       viper.GetInt64("XDC_CHAIN_ID"),
		XdcVaultAddr:     viper.GetString("XDC_VAULT_ADDR"),
		XdcAdminPrivKey:  viper.GetString("XDC_ADMIN_PRIV_KEY"),
		IotaRpcUrls:      viper.GetString("IOTA_RPC_URLS"),
		IotaChainId:      viper.GetInt64("IOTA_CHAIN_ID"),
		IotaVaultAddr:    viper.GetString("IOTA_VAULT_ADDR"),
		IotaAdminPrivKey: viper.GetString("IOTA_ADMIN_PRIV_KEY"),
		// Http side
		HttpIp:   viper.GetString("HTTP_IP"),
		HttpPort: viper.GetString("HTTP_PORT"),
	}
}
