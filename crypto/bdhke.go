// Package crypto implements the blind Diffie-Hellman key exchange (BDHKE)
// primitives the mint signs and verifies with, and the keyset derivation
// model built on top of them.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// HashToCurve deterministically maps arbitrary bytes to a secp256k1 point.
// It hashes the message, tries to interpret 0x02||h as a compressed point,
// and on failure rehashes and retries until a valid point is found. The
// repeated SHA256 already makes the mapping domain-separated by message
// content; no extra domain tag is prepended.
func HashToCurve(message []byte) (*secp256k1.PublicKey, error) {
	msgHash := sha256.Sum256(message)
	h := msgHash[:]

	for {
		candidate := append([]byte{0x02}, h...)
		point, err := secp256k1.ParsePubKey(candidate)
		if err == nil {
			return point, nil
		}
		next := sha256.Sum256(h)
		h = next[:]
	}
}

// domainSeparatedTag is prefixed to a message before hashing in
// HashToCurveDomainSeparated, used for deterministic-secret derivation
// (NUT-13) where a distinct point space from ordinary secrets is needed.
var domainSeparatedTag = []byte("nutmint-deterministic-secret:")

// HashToCurveDomainSeparated is HashToCurve over a domain-tagged message,
// used when deriving blinded messages from a deterministic counter-based
// secret so they never collide with ordinary hash_to_curve points.
func HashToCurveDomainSeparated(message []byte) (*secp256k1.PublicKey, error) {
	return HashToCurve(append(append([]byte{}, domainSeparatedTag...), message...))
}

// BlindMessage computes B_ = Y + rG for secret's hash-to-curve point Y. If r
// is nil, a fresh random blinding factor is generated. Returns B_ and the r
// used (so the caller can persist it for later unblinding).
func BlindMessage(secret string, r *secp256k1.PrivateKey) (*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {
	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return nil, nil, err
	}

	if r == nil {
		r, err = secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, err
		}
	}

	var yJ, rJ, B_ secp256k1.JacobianPoint
	Y.AsJacobian(&yJ)
	r.PubKey().AsJacobian(&rJ)
	secp256k1.AddNonConst(&yJ, &rJ, &B_)
	B_.ToAffine()
	return secp256k1.NewPublicKey(&B_.X, &B_.Y), r, nil
}

// BlindMessageDomainSeparated is BlindMessage over the domain-separated
// hash-to-curve point, used by wallets deriving blinded messages from
// deterministic (NUT-13) secrets.
func BlindMessageDomainSeparated(secret string, r *secp256k1.PrivateKey) (*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {
	Y, err := HashToCurveDomainSeparated([]byte(secret))
	if err != nil {
		return nil, nil, err
	}

	if r == nil {
		r, err = secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, err
		}
	}

	var yJ, rJ, B_ secp256k1.JacobianPoint
	Y.AsJacobian(&yJ)
	r.PubKey().AsJacobian(&rJ)
	secp256k1.AddNonConst(&yJ, &rJ, &B_)
	B_.ToAffine()
	return secp256k1.NewPublicKey(&B_.X, &B_.Y), r, nil
}

// UnblindSignature computes C = C_ - r·A for a blinded signature C_, the
// blinding factor r, and the mint's public key A for that denomination.
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey, A *secp256k1.PublicKey) *secp256k1.PublicKey {
	var rA secp256k1.JacobianPoint
	scalarMult(A, &r.Key, &rA)

	var negRA secp256k1.JacobianPoint
	negRA.X.Set(&rA.X)
	negRA.Y.Set(&rA.Y).Negate(1)
	negRA.Y.Normalize()
	negRA.Z.Set(&rA.Z)

	var C_j secp256k1.JacobianPoint
	C_.AsJacobian(&C_j)

	var Cj secp256k1.JacobianPoint
	secp256k1.AddNonConst(&C_j, &negRA, &Cj)
	Cj.ToAffine()
	return secp256k1.NewPublicKey(&Cj.X, &Cj.Y)
}

// SignBlindedMessage computes the mint's promise C_ = a·B_ for the given
// denomination private key a. B_ arrives parsed with btcec (the wire-parsing
// library the engine uses for wallet-submitted points); the point algebra
// itself runs on decred's secp256k1, matching how the upstream mint splits
// the two libraries.
func SignBlindedMessage(B_ *btcec.PublicKey, a *secp256k1.PrivateKey) *secp256k1.PublicKey {
	point, err := secp256k1.ParsePubKey(B_.SerializeCompressed())
	if err != nil {
		return nil
	}

	var result secp256k1.JacobianPoint
	scalarMult(point, &a.Key, &result)
	result.ToAffine()
	return secp256k1.NewPublicKey(&result.X, &result.Y)
}

// Verify checks that C == a·hash_to_curve(secret).
func Verify(secret string, a *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return false
	}

	var expected secp256k1.JacobianPoint
	scalarMult(Y, &a.Key, &expected)
	expected.ToAffine()

	var actual secp256k1.JacobianPoint
	C.AsJacobian(&actual)
	actual.ToAffine()

	return expected.X.Equals(&actual.X) && expected.Y.Equals(&actual.Y)
}

// GenerateDLEQ produces the (e, s) transcript proving a was used to produce
// C_ = a·B_, matching A = a·G.
//
//	R1 = r·G, R2 = r·B_
//	e  = SHA256(R1 || R2 || A || C_)   (uncompressed points, hex, UTF-8)
//	s  = r + e·a
func GenerateDLEQ(a *secp256k1.PrivateKey, B_ *btcec.PublicKey, C_ *secp256k1.PublicKey) (*secp256k1.PrivateKey, *secp256k1.PrivateKey) {
	r, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil
	}

	R1 := r.PubKey()

	B_point, _ := secp256k1.ParsePubKey(B_.SerializeCompressed())
	var R2j secp256k1.JacobianPoint
	scalarMult(B_point, &r.Key, &R2j)
	R2j.ToAffine()
	R2 := secp256k1.NewPublicKey(&R2j.X, &R2j.Y)

	A := a.PubKey()

	e := hashDLEQTranscript(R1, R2, A, C_)

	// s = r + e*a (mod n)
	var s secp256k1.ModNScalar
	s.Set(&e)
	s.Mul(&a.Key)
	s.Add(&r.Key)

	eKey := secp256k1.NewPrivateKey(&e)
	sKey := secp256k1.NewPrivateKey(&s)
	return eKey, sKey
}

// VerifyDLEQ checks a promise's DLEQ transcript against the advertised
// denomination key A:
//
//	R1' = s·G - e·A
//	R2' = s·B_ - e·C_
//	accept iff e == SHA256(R1' || R2' || A || C_)
func VerifyDLEQ(e, s *secp256k1.PrivateKey, A, B_, C_ *secp256k1.PublicKey) bool {
	var sG secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&s.Key, &sG)

	var eA secp256k1.JacobianPoint
	scalarMult(A, &e.Key, &eA)
	var negEA secp256k1.JacobianPoint
	negEA.X.Set(&eA.X)
	negEA.Y.Set(&eA.Y).Negate(1)
	negEA.Y.Normalize()
	negEA.Z.Set(&eA.Z)

	var R1j secp256k1.JacobianPoint
	secp256k1.AddNonConst(&sG, &negEA, &R1j)
	R1j.ToAffine()
	R1 := secp256k1.NewPublicKey(&R1j.X, &R1j.Y)

	var sB_ secp256k1.JacobianPoint
	scalarMult(B_, &s.Key, &sB_)

	var eC_ secp256k1.JacobianPoint
	scalarMult(C_, &e.Key, &eC_)
	var negEC_ secp256k1.JacobianPoint
	negEC_.X.Set(&eC_.X)
	negEC_.Y.Set(&eC_.Y).Negate(1)
	negEC_.Y.Normalize()
	negEC_.Z.Set(&eC_.Z)

	var R2j secp256k1.JacobianPoint
	secp256k1.AddNonConst(&sB_, &negEC_, &R2j)
	R2j.ToAffine()
	R2 := secp256k1.NewPublicKey(&R2j.X, &R2j.Y)

	expectedE := hashDLEQTranscript(R1, R2, A, C_)
	return expectedE.Equals(&e.Key)
}

func hashDLEQTranscript(R1, R2, A, C_ *secp256k1.PublicKey) secp256k1.ModNScalar {
	transcript := hex.EncodeToString(R1.SerializeUncompressed()) +
		hex.EncodeToString(R2.SerializeUncompressed()) +
		hex.EncodeToString(A.SerializeUncompressed()) +
		hex.EncodeToString(C_.SerializeUncompressed())

	hash := sha256.Sum256([]byte(transcript))
	var scalar secp256k1.ModNScalar
	scalar.SetByteSlice(hash[:])
	return scalar
}

// scalarMult computes result = k·P.
func scalarMult(P *secp256k1.PublicKey, k *secp256k1.ModNScalar, result *secp256k1.JacobianPoint) {
	var pJ secp256k1.JacobianPoint
	P.AsJacobian(&pJ)
	secp256k1.ScalarMultNonConst(k, &pJ, result)
}
