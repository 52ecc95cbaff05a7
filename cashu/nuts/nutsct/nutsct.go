// Package nutsct implements the secret-commitment tree (SCT): a Merkle root
// over a set of alternative spending secrets, letting one token commit to
// several spending policies while revealing only the one chosen at spend
// time.
package nutsct

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/oceanslim/nutmint/cashu"
	"github.com/oceanslim/nutmint/cashu/nuts/nut10"
)

var (
	InvalidMerkleProofErr = cashu.BuildCashuError("invalid SCT merkle proof", cashu.ConditionFailedErrCode)
)

// SCTWitness is the witness attached to an SCT-locked proof: the one
// alternative secret the spender is choosing to reveal, plus the Merkle
// branch proving it was committed to in the root.
type SCTWitness struct {
	LeafSecret  string   `json:"leaf_secret"`
	MerkleProof []string `json:"merkle_proof"`
}

func ParseWitness(raw string) (SCTWitness, error) {
	var w SCTWitness
	if raw == "" {
		return w, cashu.BuildCashuError("missing SCT witness", cashu.InvalidWitnessErrCode)
	}
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return w, cashu.BuildCashuError("invalid SCT witness: "+err.Error(), cashu.InvalidWitnessErrCode)
	}
	return w, nil
}

func IsSecretSCT(proof cashu.Proof) bool {
	secret, err := nut10.DeserializeSecret(proof.Secret)
	if err != nil {
		return false
	}
	return secret.Kind == nut10.SCT
}

// SortedMerkleHash is the direction-independent pairwise hash:
// H(a,b) = SHA256(min(a,b) || max(a,b)), where a and b are 32-byte hashes.
func SortedMerkleHash(a, b [32]byte) [32]byte {
	if hex.EncodeToString(a[:]) <= hex.EncodeToString(b[:]) {
		return sha256.Sum256(append(a[:], b[:]...))
	}
	return sha256.Sum256(append(b[:], a[:]...))
}

// LeafHash hashes one alternative spending secret into a tree leaf.
func LeafHash(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}

// ListHash folds a list of leaf hashes into a single Merkle root by
// repeatedly pairing adjacent hashes with SortedMerkleHash. An odd hash out
// at any level is carried up unchanged.
func ListHash(leaves [][32]byte) [32]byte {
	level := leaves
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, SortedMerkleHash(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
	}
	if len(level) == 0 {
		return [32]byte{}
	}
	return level[0]
}

// MerkleRoot computes the root over a set of alternative secrets.
func MerkleRoot(secrets []string) [32]byte {
	leaves := make([][32]byte, len(secrets))
	for i, s := range secrets {
		leaves[i] = LeafHash(s)
	}
	return ListHash(leaves)
}

// MerkleVerify recomputes the root by folding leafSecret's hash with the
// supplied branch (in order, each time combining with SortedMerkleHash) and
// checks it equals the published root.
func MerkleVerify(root string, leafSecret string, proof []string) bool {
	current := LeafHash(leafSecret)
	for _, siblingHex := range proof {
		siblingBytes, err := hex.DecodeString(siblingHex)
		if err != nil || len(siblingBytes) != 32 {
			return false
		}
		var sibling [32]byte
		copy(sibling[:], siblingBytes)
		current = SortedMerkleHash(current, sibling)
	}
	return hex.EncodeToString(current[:]) == root
}

// Evaluator evaluates a leaf secret once its Merkle membership has been
// verified: a plain opaque secret needs no further check; a nested
// WellKnownSecret (P2PK/HTLC) must itself be evaluated against its own
// witness, which the caller supplies via this callback since nutsct has no
// dependency on nut11/nut14 (avoiding an import cycle, as those packages
// never need to know about SCT).
type Evaluator func(leafSecret string) error

// Verify checks the SCT witness against the published root and, if it
// verifies, recurses into the chosen leaf secret via evaluateLeaf.
func Verify(root string, witness SCTWitness, evaluateLeaf Evaluator) error {
	if !MerkleVerify(root, witness.LeafSecret, witness.MerkleProof) {
		return InvalidMerkleProofErr
	}
	return evaluateLeaf(witness.LeafSecret)
}
