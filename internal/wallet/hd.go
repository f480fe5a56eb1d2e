package wallet

import (
	"fmt"
	"log/slog"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// DeriveMasterKey derives a BIP-32 master extended key from a seed.
func DeriveMasterKey(seed []byte, net *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {
	masterKey, err := hdkeychain.NewMaster(seed, net)
	if err != nil {
		return nil, fmt.Errorf("%w: derive master key: %v", ErrDerivationFailed, err)
	}

	slog.Debug("master key derived", "network", net.Name)
	return masterKey, nil
}

// deriveSecp256k1 walks a BIP-32 path from the seed and returns the child private key.
// Intermediate extended keys are zeroized; the caller must Zero the returned key.
func deriveSecp256k1(seed []byte, net *chaincfg.Params, segments []uint32) (*btcec.PrivateKey, error) {
	current, err := DeriveMasterKey(seed, net)
	if err != nil {
		return nil, err
	}

	for depth, seg := range segments {
		child, err := current.Derive(seg)
		current.Zero()
		if err != nil {
			return nil, fmt.Errorf("%w: depth %d: %v", ErrDerivationFailed, depth+1, err)
		}
		current = child
	}
	defer current.Zero()

	privKey, err := current.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: extract private key: %v", ErrDerivationFailed, err)
	}

	return privKey, nil
}
