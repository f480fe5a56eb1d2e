package wallet

import (
	"crypto/ed25519"
	"fmt"
	"log/slog"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/Fantasim/hdvault/internal/config"
	"github.com/Fantasim/hdvault/internal/models"
	"github.com/Fantasim/hdvault/internal/secure"
)

// childKey is a derived private key on one of the supported curves.
type childKey struct {
	curve models.Curve
	secp  *btcec.PrivateKey
	ed    ed25519.PrivateKey
}

func (k *childKey) publicKey() []byte {
	switch k.curve {
	case models.CurveSecp256k1:
		return k.secp.PubKey().SerializeCompressed()
	case models.CurveEd25519:
		pub := k.ed.Public().(ed25519.PublicKey)
		out := make([]byte, len(pub))
		copy(out, pub)
		return out
	default:
		return nil
	}
}

func (k *childKey) zero() {
	if k.secp != nil {
		k.secp.Zero()
	}
	secure.Zero(k.ed)
}

// DeriveAccount derives the account at accountIndex for a chain.
// It is pure: the same (seed, chain, accountIndex) always yields the same account.
func DeriveAccount(seed *Seed, chain ChainConfig, accountIndex uint32) (models.DerivedAccount, error) {
	key, path, err := deriveChildKey(seed, chain, accountIndex)
	if err != nil {
		return models.DerivedAccount{}, err
	}
	defer key.zero()

	addr, err := encodeAddress(chain, key)
	if err != nil {
		return models.DerivedAccount{}, err
	}

	slog.Debug("derived account",
		"chain", chain.ID,
		"accountIndex", accountIndex,
		"path", path,
		"address", addr,
	)

	return models.DerivedAccount{
		Chain:          chain.ID,
		AccountIndex:   accountIndex,
		DerivationPath: path,
		Address:        addr,
		PublicKey:      key.publicKey(),
	}, nil
}

// DeriveAccounts derives account 0 for every chain, in order.
func DeriveAccounts(seed *Seed, chains []ChainConfig) ([]models.DerivedAccount, error) {
	accounts := make([]models.DerivedAccount, 0, len(chains))
	for _, chain := range chains {
		acct, err := DeriveAccount(seed, chain, 0)
		if err != nil {
			return nil, fmt.Errorf("derive %s account: %w", chain.ID, err)
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

func deriveChildKey(seed *Seed, chain ChainConfig, accountIndex uint32) (*childKey, string, error) {
	if seed == nil || seed.Len() != config.SeedLength {
		return nil, "", fmt.Errorf("%w: seed is missing or wiped", ErrDerivationFailed)
	}

	path, segments, err := ResolvePath(chain.PathTemplate, accountIndex)
	if err != nil {
		return nil, "", err
	}

	switch chain.Curve {
	case models.CurveSecp256k1:
		if chain.Net == nil {
			return nil, "", fmt.Errorf("%w: chain %s has no network params", ErrDerivationFailed, chain.ID)
		}
		priv, err := deriveSecp256k1(seed.Bytes(), chain.Net, segments)
		if err != nil {
			return nil, "", fmt.Errorf("chain %s path %s: %w", chain.ID, path, err)
		}
		return &childKey{curve: chain.Curve, secp: priv}, path, nil

	case models.CurveEd25519:
		priv, err := deriveEd25519(seed.Bytes(), segments)
		if err != nil {
			return nil, "", fmt.Errorf("chain %s path %s: %w", chain.ID, path, err)
		}
		return &childKey{curve: chain.Curve, ed: priv}, path, nil

	default:
		return nil, "", fmt.Errorf("%w: chain %s: %q", ErrUnsupportedCurve, chain.ID, chain.Curve)
	}
}

func encodeAddress(chain ChainConfig, key *childKey) (string, error) {
	switch chain.Encoding {
	case EncodingBech32P2WPKH:
		if key.secp == nil {
			break
		}
		return encodeBech32P2WPKH(key.secp.PubKey(), chain.Net)
	case EncodingEIP55:
		if key.secp == nil {
			break
		}
		return encodeEIP55(key.secp.PubKey()), nil
	case EncodingTronBase58Check:
		if key.secp == nil {
			break
		}
		return encodeTron(key.secp.PubKey()), nil
	case EncodingBase58:
		if key.ed == nil {
			break
		}
		return encodeBase58(key.ed.Public().(ed25519.PublicKey)), nil
	}
	return "", fmt.Errorf("%w: chain %s: encoding %q does not match curve %q",
		ErrDerivationFailed, chain.ID, chain.Encoding, chain.Curve)
}
