// Package nut11 implements Pay-to-Public-Key (P2PK) locked secrets: tag
// parsing, witness verification, and the SIG_ALL cross-check over a swap's
// blinded messages.
package nut11

import (
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/oceanslim/nutmint/cashu"
	"github.com/oceanslim/nutmint/cashu/nuts/nut10"
)

const (
	SigInputs = "SIG_INPUTS"
	SigAll    = "SIG_ALL"
)

var (
	InvalidWitness            = cashu.BuildCashuError("invalid witness", cashu.InvalidWitnessErrCode)
	NotEnoughSignaturesErr    = cashu.BuildCashuError("not enough valid signatures provided", cashu.ConditionFailedErrCode)
	EmptyPubkeysErr           = cashu.BuildCashuError("n_sigs tag present but no additional pubkeys listed", cashu.ConditionFailedErrCode)
	AllSigAllFlagsErr         = cashu.BuildCashuError("all inputs must have SIG_ALL flag", cashu.ConditionFailedErrCode)
	SigAllKeysMustBeEqualErr  = cashu.BuildCashuError("all inputs must have the same public keys for SIG_ALL", cashu.ConditionFailedErrCode)
	NSigsMustBeEqualErr       = cashu.BuildCashuError("all inputs must have the same n_sigs for SIG_ALL", cashu.ConditionFailedErrCode)
	SigAllOnlySwap            = cashu.BuildCashuError("SIG_ALL secrets can only be redeemed in a swap", cashu.ConditionFailedErrCode)
)

// P2PKWitness is the witness a spender attaches to a P2PK-locked proof (or
// SIG_ALL blinded message): one or more BIP340 signatures.
type P2PKWitness struct {
	Signatures []string `json:"signatures"`
}

// P2PKTags is the parsed form of a WellKnownSecret's tags relevant to P2PK.
type P2PKTags struct {
	SigFlag  string
	Locktime int64
	Pubkeys  []*btcec.PublicKey
	NSigs    int
	Refund   []*btcec.PublicKey
}

func ParsePublicKey(hexKey string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, cashu.BuildCashuError("invalid pubkey hex: "+err.Error(), cashu.StandardErrCode)
	}
	return btcec.ParsePubKey(b)
}

func parsePublicKeys(hexKeys []string) ([]*btcec.PublicKey, error) {
	keys := make([]*btcec.PublicKey, 0, len(hexKeys))
	for _, hexKey := range hexKeys {
		key, err := ParsePublicKey(hexKey)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func ParseP2PKTags(tags [][]string) (P2PKTags, error) {
	var parsed P2PKTags
	parsed.SigFlag = SigInputs

	if v, ok := nut10.Tag(tags, "sigflag"); ok {
		parsed.SigFlag = v
	}
	if v, ok := nut10.Tag(tags, "locktime"); ok {
		lt, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return parsed, cashu.BuildCashuError("invalid locktime tag: "+err.Error(), cashu.StandardErrCode)
		}
		parsed.Locktime = lt
	}
	if v, ok := nut10.Tag(tags, "n_sigs"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return parsed, cashu.BuildCashuError("invalid n_sigs tag: "+err.Error(), cashu.StandardErrCode)
		}
		parsed.NSigs = n
	}

	pubkeyHexes := nut10.TagValues(tags, "pubkeys")
	pubkeys, err := parsePublicKeys(pubkeyHexes)
	if err != nil {
		return parsed, err
	}
	parsed.Pubkeys = pubkeys

	refundHexes := nut10.TagValues(tags, "refund")
	refund, err := parsePublicKeys(refundHexes)
	if err != nil {
		return parsed, err
	}
	parsed.Refund = refund

	return parsed, nil
}

// IsSecretP2PK reports whether a proof's secret is a P2PK-kind WellKnownSecret.
func IsSecretP2PK(proof cashu.Proof) bool {
	secret, err := nut10.DeserializeSecret(proof.Secret)
	if err != nil {
		return false
	}
	return secret.Kind == nut10.P2PK
}

func IsSigAll(secret nut10.WellKnownSecret) bool {
	tags, err := ParseP2PKTags(secret.Tags)
	if err != nil {
		return false
	}
	return tags.SigFlag == SigAll
}

// PublicKeys returns the full permitted-signer set for a P2PK secret: its
// primary Data pubkey plus any listed in the pubkeys tag.
func PublicKeys(secret nut10.WellKnownSecret) ([]*btcec.PublicKey, error) {
	primary, err := ParsePublicKey(secret.Data)
	if err != nil {
		return nil, err
	}
	tags, err := ParseP2PKTags(secret.Tags)
	if err != nil {
		return nil, err
	}
	return append([]*btcec.PublicKey{primary}, tags.Pubkeys...), nil
}

// ProofsSigAll reports whether any proof in the set carries a SIG_ALL P2PK
// secret.
func ProofsSigAll(proofs cashu.Proofs) bool {
	for _, proof := range proofs {
		secret, err := nut10.DeserializeSecret(proof.Secret)
		if err != nil {
			continue
		}
		if secret.Kind == nut10.P2PK && IsSigAll(secret) {
			return true
		}
	}
	return false
}

// HasValidSignatures reports whether witness contains at least required
// distinct valid BIP340 signatures over msgHash from the permitted set of
// pubkeys. Duplicate signatures (even if individually valid) do not count
// twice.
func HasValidSignatures(msgHash []byte, witness P2PKWitness, required int, pubkeys []*btcec.PublicKey) bool {
	validCount := 0
	usedSigs := make(map[string]bool, len(witness.Signatures))

	for _, sigHex := range witness.Signatures {
		if usedSigs[sigHex] {
			continue
		}
		sigBytes, err := hex.DecodeString(sigHex)
		if err != nil {
			continue
		}
		sig, err := schnorr.ParseSignature(sigBytes)
		if err != nil {
			continue
		}

		for _, pubkey := range pubkeys {
			if sig.Verify(msgHash, pubkey) {
				usedSigs[sigHex] = true
				validCount++
				break
			}
		}
	}

	return validCount >= required
}

// ParseWitness decodes a proof or blinded message's witness JSON into a
// P2PKWitness, tolerating an empty/missing witness as zero signatures.
func ParseWitness(raw string) P2PKWitness {
	var w P2PKWitness
	if raw == "" {
		return w
	}
	_ = json.Unmarshal([]byte(raw), &w)
	return w
}
