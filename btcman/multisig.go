package btcman

/*
Bitcoin has no on-chain escrow primitive, so a 2-of-3 P2SH multisig over
the seller, buyer, and admin keys is the lock. Release and refund are the
same co-signed spend distinguished only by the destination, which is why
spends here always validate the destination against the party the caller
names.
*/

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// buildEscrowScript assembles the 2-of-3 redeem script and its P2SH
// address. Key order is fixed (locker, counterparty, admin) so the same
// inputs always yield the same address, which FindEscrow relies on.
func buildEscrowScript(lockerPub, counterPub, adminPub string, params *chaincfg.Params) ([]byte, *btcutil.AddressScriptHash, error) {
	var addrPubs []*btcutil.AddressPubKey
	for _, h := range []string{lockerPub, counterPub, adminPub} {
		raw, err := hex.DecodeString(h)
		if err != nil {
			return nil, nil, fmt.Errorf("bad pubkey hex %q: %v", h, err)
		}
		if _, err := btcec.ParsePubKey(raw); err != nil {
			return nil, nil, fmt.Errorf("bad pubkey %q: %v", h, err)
		}
		addrPub, err := btcutil.NewAddressPubKey(raw, params)
		if err != nil {
			return nil, nil, err
		}
		addrPubs = append(addrPubs, addrPub)
	}

	script, err := txscript.MultiSigScript(addrPubs, 2)
	if err != nil {
		return nil, nil, err
	}

	addr, err := btcutil.NewAddressScriptHash(script, params)
	if err != nil {
		return nil, nil, err
	}

	return script, addr, nil
}

// addressForPubKey derives the P2PKH payout address of a party key. Spends
// are only ever signed toward one of the two recorded parties.
func addressForPubKey(pubHex string, params *chaincfg.Params) (btcutil.Address, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("bad pubkey hex %q: %v", pubHex, err)
	}
	return btcutil.NewAddressPubKeyHash(btcutil.Hash160(raw), params)
}
