// Package nut14 implements Hash-Time-Locked Contract (HTLC) secrets: a
// preimage gate, optionally layered with the same pubkey-signature
// conditions P2PK uses.
package nut14

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/oceanslim/nutmint/cashu"
	"github.com/oceanslim/nutmint/cashu/nuts/nut10"
	"github.com/oceanslim/nutmint/cashu/nuts/nut11"
)

var (
	InvalidPreimageErr = cashu.BuildCashuError("invalid preimage", cashu.ConditionFailedErrCode)
)

// HTLCWitness is the witness a spender attaches to an HTLC-locked proof: the
// hash preimage and, if the secret's tags require it, a signature.
type HTLCWitness struct {
	Preimage   string   `json:"preimage"`
	Signatures []string `json:"signatures,omitempty"`
}

func IsSecretHTLC(proof cashu.Proof) bool {
	secret, err := nut10.DeserializeSecret(proof.Secret)
	if err != nil {
		return false
	}
	return secret.Kind == nut10.HTLC
}

func ParseWitness(raw string) (HTLCWitness, error) {
	var w HTLCWitness
	if raw == "" {
		return w, InvalidWitnessErr
	}
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return w, InvalidWitnessErr
	}
	return w, nil
}

var InvalidWitnessErr = cashu.BuildCashuError("invalid HTLC witness", cashu.InvalidWitnessErrCode)

// VerifyHTLC checks a proof's HTLC secret against its witness: the preimage
// must hash to the committed value, and if pubkey tags are present, a
// sufficient number of valid signatures over the secret must also be given
// (exactly the same locktime/n_sigs/refund semantics as P2PK).
func VerifyHTLC(secret nut10.WellKnownSecret, proofSecret string, witness HTLCWitness, now int64) error {
	preimageBytes, err := hex.DecodeString(witness.Preimage)
	if err != nil {
		return InvalidPreimageErr
	}
	hash := sha256.Sum256(preimageBytes)
	if hex.EncodeToString(hash[:]) != secret.Data {
		return InvalidPreimageErr
	}

	tags, err := nut11.ParseP2PKTags(secret.Tags)
	if err != nil {
		return err
	}

	// no pubkey gating: preimage alone suffices
	if len(tags.Pubkeys) == 0 && tags.NSigs == 0 {
		return nil
	}

	required := 1
	keys := tags.Pubkeys
	if tags.NSigs > 0 {
		required = tags.NSigs
		if len(keys) == 0 {
			return nut11.EmptyPubkeysErr
		}
	}

	msgHash := sha256.Sum256([]byte(proofSecret))
	p2pkWitness := nut11.P2PKWitness{Signatures: witness.Signatures}

	if tags.Locktime > 0 && now > tags.Locktime {
		if len(tags.Refund) == 0 {
			return nil
		}
		if !nut11.HasValidSignatures(msgHash[:], p2pkWitness, 1, tags.Refund) {
			return nut11.NotEnoughSignaturesErr
		}
		return nil
	}

	if !nut11.HasValidSignatures(msgHash[:], p2pkWitness, required, keys) {
		return nut11.NotEnoughSignaturesErr
	}
	return nil
}
