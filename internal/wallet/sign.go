package wallet

import (
	"crypto/ed25519"
	"fmt"
	"log/slog"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Fantasim/hdvault/internal/config"
	"github.com/Fantasim/hdvault/internal/models"
)

// Sign derives the key at accountIndex and signs payload with it.
//
//   - EIP-55 chains: 65-byte [R || S || V] over the EIP-191 personal message hash.
//   - Tron: 65-byte [R || S || V] over keccak256(payload).
//   - Bitcoin: DER ECDSA over double-SHA256(payload).
//   - Solana: 64-byte ed25519 over the raw payload.
//
// The derived private key is zeroized before returning.
func Sign(seed *Seed, chain ChainConfig, accountIndex uint32, payload []byte) (models.Signature, error) {
	if len(payload) == 0 {
		return models.Signature{}, ErrEmptyPayload
	}
	if len(payload) > config.MaxSignPayloadLen {
		return models.Signature{}, fmt.Errorf("%w: %d bytes exceeds %d byte limit", ErrPayloadTooLarge, len(payload), config.MaxSignPayloadLen)
	}

	key, path, err := deriveChildKey(seed, chain, accountIndex)
	if err != nil {
		return models.Signature{}, err
	}
	defer key.zero()

	addr, err := encodeAddress(chain, key)
	if err != nil {
		return models.Signature{}, err
	}

	var sig []byte
	switch chain.Encoding {
	case EncodingEIP55:
		sig, err = signRecoverable(key, accounts.TextHash(payload))
	case EncodingTronBase58Check:
		sig, err = signRecoverable(key, crypto.Keccak256(payload))
	case EncodingBech32P2WPKH:
		sig = ecdsa.Sign(key.secp, chainhash.DoubleHashB(payload)).Serialize()
	case EncodingBase58:
		sig = ed25519.Sign(key.ed, payload)
	default:
		err = fmt.Errorf("%w: chain %s: no signing scheme for encoding %q", ErrDerivationFailed, chain.ID, chain.Encoding)
	}
	if err != nil {
		return models.Signature{}, err
	}

	slog.Debug("payload signed",
		"chain", chain.ID,
		"accountIndex", accountIndex,
		"path", path,
		"payloadLen", len(payload),
	)

	return models.Signature{
		Chain:     chain.ID,
		Address:   addr,
		PublicKey: key.publicKey(),
		Signature: sig,
	}, nil
}

func signRecoverable(key *childKey, digest []byte) ([]byte, error) {
	ecdsaKey := key.secp.ToECDSA()
	defer ecdsaKey.D.SetInt64(0)

	sig, err := crypto.Sign(digest, ecdsaKey)
	if err != nil {
		return nil, fmt.Errorf("%w: sign digest: %v", ErrDerivationFailed, err)
	}
	return sig, nil
}
