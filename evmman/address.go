package evmman

import (
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// XDC uses an "xdc" prefix over the same 20-byte addresses Ethereum spells
// with "0x". The adapter accepts either form and normalizes internally.

func parseAddress(addr string) (ethcommon.Address, error) {
	normalized := addr
	if strings.HasPrefix(strings.ToLower(addr), "xdc") {
		normalized = "0x" + addr[3:]
	}
	if !ethcommon.IsHexAddress(normalized) {
		return ethcommon.Address{}, fmt.Errorf("invalid evm address %q", addr)
	}
	return ethcommon.HexToAddress(normalized), nil
}

// formatAddress renders an address in the chain's native prefix.
func formatAddress(addr ethcommon.Address, xdcPrefix bool) string {
	hex := addr.Hex()
	if xdcPrefix {
		return "xdc" + hex[2:]
	}
	return hex
}
