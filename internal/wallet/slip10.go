package wallet

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/Fantasim/hdvault/internal/secure"
)

const slip10Curve = "ed25519 seed"

// slip10Key holds a SLIP-10 ed25519 key pair (private key seed + chain code).
type slip10Key struct {
	key       []byte // 32-byte raw ed25519 seed
	chainCode []byte // 32 bytes
}

func (k slip10Key) zero() {
	secure.Zero(k.key)
	secure.Zero(k.chainCode)
}

// deriveEd25519 walks a SLIP-10 path from the seed. ed25519 has no public
// derivation, so every segment must be hardened.
// The caller must zero the returned private key.
func deriveEd25519(seed []byte, segments []uint32) (ed25519.PrivateKey, error) {
	for _, seg := range segments {
		if seg < hardenedOffset {
			return nil, fmt.Errorf("%w: ed25519 requires hardened segments, got index %d", ErrDerivationFailed, seg)
		}
	}

	key, chainCode := slip10MasterKeyFromSeed(seed)
	current := slip10Key{key: key, chainCode: chainCode}

	for _, seg := range segments {
		next := slip10DeriveChild(current, seg)
		current.zero()
		current = next
	}
	defer current.zero()

	return ed25519.NewKeyFromSeed(current.key), nil
}

// encodeBase58 returns the Solana address of an ed25519 public key.
func encodeBase58(pubKey ed25519.PublicKey) string {
	return base58.Encode(pubKey)
}

// slip10DeriveChild performs SLIP-10 hardened child key derivation for ed25519.
// data = 0x00 || parent_key (32 bytes) || index (4 bytes big-endian)
func slip10DeriveChild(parent slip10Key, index uint32) slip10Key {
	data := make([]byte, 0, 37) // 1 + 32 + 4
	data = append(data, 0x00)
	data = append(data, parent.key...)
	data = binary.BigEndian.AppendUint32(data, index)
	defer secure.Zero(data)

	mac := hmac.New(sha512.New, parent.chainCode)
	mac.Write(data)
	I := mac.Sum(nil)

	return slip10Key{
		key:       I[:32],
		chainCode: I[32:],
	}
}

// slip10MasterKeyFromSeed computes the SLIP-10 master key:
// HMAC-SHA512(Key="ed25519 seed", Data=seed).
func slip10MasterKeyFromSeed(seed []byte) (privateKey []byte, chainCode []byte) {
	mac := hmac.New(sha512.New, []byte(slip10Curve))
	mac.Write(seed)
	I := mac.Sum(nil)
	return I[:32], I[32:]
}
