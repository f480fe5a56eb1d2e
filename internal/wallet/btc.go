package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// encodeBech32P2WPKH returns the native SegWit (BIP-84) address of a public key.
func encodeBech32P2WPKH(pubKey *btcec.PublicKey, net *chaincfg.Params) (string, error) {
	witnessProg := btcutil.Hash160(pubKey.SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(witnessProg, net)
	if err != nil {
		return "", fmt.Errorf("%w: create bech32 address: %v", ErrDerivationFailed, err)
	}
	return addr.EncodeAddress(), nil
}
