package wallet

import (
	"github.com/btcsuite/btcd/btcec/v2"
	btcbase58 "github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ethereum/go-ethereum/crypto"
)

// tronAddressVersion is the base58check version byte of Tron mainnet addresses ("T...").
const tronAddressVersion = 0x41

// encodeEIP55 returns the EIP-55 checksummed 0x address of a public key.
func encodeEIP55(pubKey *btcec.PublicKey) string {
	return crypto.PubkeyToAddress(*pubKey.ToECDSA()).Hex()
}

// encodeTron returns the base58check Tron address: 0x41 || keccak256(pub)[12:].
func encodeTron(pubKey *btcec.PublicKey) string {
	addr := crypto.PubkeyToAddress(*pubKey.ToECDSA())
	return btcbase58.CheckEncode(addr.Bytes(), tronAddressVersion)
}
