package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/bits"
	"sort"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/oceanslim/nutmint/cashu"
)

const (
	maxOrder          = cashu.MaxOrder
	keysetIdVersion   = 0x00
	keysetDerivationPurpose = 129372
)

// KeyPair is one denomination's private/public keypair.
type KeyPair struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
}

// MintKeyset is the mint's full set of denomination keys under one unit,
// identified by a hash over its public keys.
type MintKeyset struct {
	Id                string
	Unit              string
	Active            bool
	DerivationPathIdx uint32
	InputFeePpk       uint
	Keys              map[uint64]KeyPair
}

// DerivePublic returns the keyset's public keys hex-encoded by denomination,
// the shape the /v1/keys wire response needs.
func (k MintKeyset) DerivePublic() map[uint64]string {
	pubkeys := make(map[uint64]string, len(k.Keys))
	for amount, pair := range k.Keys {
		pubkeys[amount] = hex.EncodeToString(pair.PublicKey.SerializeCompressed())
	}
	return pubkeys
}

// GenerateKeyset derives one scalar per power-of-two denomination from
// master via hardened BIP32 derivation at m/129372'/0'/derivationPathIdx'/i',
// for i covering every representable denomination up to maxOrder.
func GenerateKeyset(master *hdkeychain.ExtendedKey, derivationPathIdx uint32, inputFeePpk uint) (*MintKeyset, error) {
	purpose, err := master.DeriveNonStandard(hdkeychain.HardenedKeyStart + keysetDerivationPurpose)
	if err != nil {
		return nil, err
	}
	coinType, err := purpose.DeriveNonStandard(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, err
	}
	account, err := coinType.DeriveNonStandard(hdkeychain.HardenedKeyStart + derivationPathIdx)
	if err != nil {
		return nil, err
	}

	keys := make(map[uint64]KeyPair, maxOrder)
	for i := 0; i < maxOrder; i++ {
		child, err := account.DeriveNonStandard(hdkeychain.HardenedKeyStart + uint32(i))
		if err != nil {
			return nil, fmt.Errorf("error deriving key at index %d: %v", i, err)
		}
		privKey, err := child.ECPrivKey()
		if err != nil {
			return nil, err
		}

		amount := uint64(1) << uint(i)
		keys[amount] = KeyPair{PrivateKey: privKey, PublicKey: privKey.PubKey()}
	}

	id := DeriveKeysetId(keys)
	return &MintKeyset{
		Id:                id,
		Unit:              "sat",
		Active:            true,
		DerivationPathIdx: derivationPathIdx,
		InputFeePpk:       inputFeePpk,
		Keys:              keys,
	}, nil
}

func sortedAmounts(keys map[uint64]KeyPair) []uint64 {
	amounts := make([]uint64, 0, len(keys))
	for amount := range keys {
		amounts = append(amounts, amount)
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i] < amounts[j] })
	return amounts
}

// DeriveKeysetId is the current scheme: SHA-256 of all public keys ordered
// by ascending amount, prefixed by version byte 0x00, truncated to 8 bytes,
// hex-encoded.
func DeriveKeysetId(keys map[uint64]KeyPair) string {
	amounts := sortedAmounts(keys)

	concat := make([]byte, 0, len(amounts)*33)
	for _, amount := range amounts {
		concat = append(concat, keys[amount].PublicKey.SerializeCompressed()...)
	}

	hash := sha256.Sum256(concat)
	return fmt.Sprintf("00%s", hex.EncodeToString(hash[:8]))
}

// DeriveKeysetIdLegacy is the pre-version-byte scheme: SHA-256 of the
// concatenated public keys, truncated to 8 bytes hex, with no prefix byte.
// Kept so tokens issued under old keysets remain identifiable.
func DeriveKeysetIdLegacy(keys map[uint64]KeyPair) string {
	amounts := sortedAmounts(keys)

	concat := make([]byte, 0, len(amounts)*33)
	for _, amount := range amounts {
		concat = append(concat, keys[amount].PublicKey.SerializeCompressed()...)
	}

	hash := sha256.Sum256(concat)
	return hex.EncodeToString(hash[:8])
}

// OrderOf returns the bit position of amount if it is a valid single-bit
// denomination, and whether it was.
func OrderOf(amount uint64) (int, bool) {
	if amount == 0 || amount&(amount-1) != 0 {
		return 0, false
	}
	return bits.TrailingZeros64(amount), true
}
