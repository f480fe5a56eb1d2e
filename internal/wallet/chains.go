package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Fantasim/hdvault/internal/config"
	"github.com/Fantasim/hdvault/internal/models"
)

// AddressEncoding is the rule that turns a derived public key into an address.
type AddressEncoding string

const (
	EncodingBech32P2WPKH    AddressEncoding = "bech32-p2wpkh"
	EncodingEIP55           AddressEncoding = "eip55"
	EncodingTronBase58Check AddressEncoding = "tron-base58check"
	EncodingBase58          AddressEncoding = "base58"
)

// ChainConfig is the immutable derivation descriptor of one supported chain.
// Chains that share a curve or coin type still carry their own path template.
type ChainConfig struct {
	ID           models.Chain    `json:"chain"`
	Name         string          `json:"name"`
	Curve        models.Curve    `json:"curve"`
	PathTemplate string          `json:"pathTemplate"`
	Encoding     AddressEncoding `json:"encoding"`
	CoinType     uint32          `json:"coinType"`

	// Net selects BIP-32 version bytes and the bech32 HRP; nil for ed25519 chains.
	Net *chaincfg.Params `json:"-"`
}

var chainRegistry = map[models.Chain]ChainConfig{
	models.ChainBTC: {
		ID:           models.ChainBTC,
		Name:         "Bitcoin",
		Curve:        models.CurveSecp256k1,
		PathTemplate: fmt.Sprintf("m/%d'/%d'/{account}'/0/0", config.BIP84Purpose, config.BTCCoinType),
		Encoding:     EncodingBech32P2WPKH,
		CoinType:     config.BTCCoinType,
		Net:          &chaincfg.MainNetParams,
	},
	models.ChainBTCTestnet: {
		ID:           models.ChainBTCTestnet,
		Name:         "Bitcoin Testnet",
		Curve:        models.CurveSecp256k1,
		PathTemplate: fmt.Sprintf("m/%d'/%d'/{account}'/0/0", config.BIP84Purpose, config.BTCTestCoinType),
		Encoding:     EncodingBech32P2WPKH,
		CoinType:     config.BTCTestCoinType,
		Net:          &chaincfg.TestNet3Params,
	},
	models.ChainETH: {
		ID:           models.ChainETH,
		Name:         "Ethereum",
		Curve:        models.CurveSecp256k1,
		PathTemplate: fmt.Sprintf("m/%d'/%d'/{account}'/0/0", config.BIP44Purpose, config.ETHCoinType),
		Encoding:     EncodingEIP55,
		CoinType:     config.ETHCoinType,
		Net:          &chaincfg.MainNetParams,
	},
	models.ChainBSC: {
		ID:           models.ChainBSC,
		Name:         "BNB Smart Chain",
		Curve:        models.CurveSecp256k1,
		PathTemplate: fmt.Sprintf("m/%d'/%d'/{account}'/0/0", config.BIP44Purpose, config.BSCCoinType),
		Encoding:     EncodingEIP55,
		CoinType:     config.BSCCoinType,
		Net:          &chaincfg.MainNetParams,
	},
	models.ChainTRX: {
		ID:           models.ChainTRX,
		Name:         "Tron",
		Curve:        models.CurveSecp256k1,
		PathTemplate: fmt.Sprintf("m/%d'/%d'/{account}'/0/0", config.BIP44Purpose, config.TRXCoinType),
		Encoding:     EncodingTronBase58Check,
		CoinType:     config.TRXCoinType,
		Net:          &chaincfg.MainNetParams,
	},
	models.ChainSOL: {
		ID:           models.ChainSOL,
		Name:         "Solana",
		Curve:        models.CurveEd25519,
		PathTemplate: fmt.Sprintf("m/%d'/%d'/{account}'/0'", config.BIP44Purpose, config.SOLCoinType),
		Encoding:     EncodingBase58,
		CoinType:     config.SOLCoinType,
	},
}

// LookupChain returns the configuration of a supported chain.
func LookupChain(id models.Chain) (ChainConfig, error) {
	cfg, ok := chainRegistry[id]
	if !ok {
		return ChainConfig{}, fmt.Errorf("%w: %q", ErrUnknownChain, id)
	}
	return cfg, nil
}

// SupportedChains returns every chain configuration in models.AllChains order.
func SupportedChains() []ChainConfig {
	out := make([]ChainConfig, 0, len(models.AllChains))
	for _, id := range models.AllChains {
		out = append(out, chainRegistry[id])
	}
	return out
}

// Validate checks that the curve, encoding and path template agree.
func (c ChainConfig) Validate() error {
	switch c.Curve {
	case models.CurveSecp256k1:
		switch c.Encoding {
		case EncodingBech32P2WPKH, EncodingEIP55, EncodingTronBase58Check:
		default:
			return fmt.Errorf("%w: chain %s: encoding %q is not a secp256k1 encoding", ErrDerivationFailed, c.ID, c.Encoding)
		}
		if c.Net == nil {
			return fmt.Errorf("%w: chain %s: missing network params", ErrDerivationFailed, c.ID)
		}
	case models.CurveEd25519:
		if c.Encoding != EncodingBase58 {
			return fmt.Errorf("%w: chain %s: encoding %q is not an ed25519 encoding", ErrDerivationFailed, c.ID, c.Encoding)
		}
	default:
		return fmt.Errorf("%w: chain %s: %q", ErrUnsupportedCurve, c.ID, c.Curve)
	}

	_, segments, err := ResolvePath(c.PathTemplate, 0)
	if err != nil {
		return fmt.Errorf("chain %s: %w", c.ID, err)
	}
	if c.Curve == models.CurveEd25519 {
		for _, seg := range segments {
			if seg < hardenedOffset {
				return fmt.Errorf("%w: chain %s: ed25519 path %q has a non-hardened segment", ErrDerivationFailed, c.ID, c.PathTemplate)
			}
		}
	}
	return nil
}
