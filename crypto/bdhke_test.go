package crypto

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func TestHashToCurveDeterministic(t *testing.T) {
	secret := "test_secret_for_hash_to_curve"

	Y1, err := HashToCurve([]byte(secret))
	if err != nil {
		t.Fatalf("HashToCurve: %v", err)
	}
	Y2, err := HashToCurve([]byte(secret))
	if err != nil {
		t.Fatalf("HashToCurve: %v", err)
	}
	if Y1.X != Y2.X || Y1.Y != Y2.Y {
		t.Fatalf("HashToCurve is not deterministic for the same input")
	}

	Y3, err := HashToCurve([]byte("a different secret"))
	if err != nil {
		t.Fatalf("HashToCurve: %v", err)
	}
	if Y1.X == Y3.X {
		t.Fatalf("HashToCurve produced the same point for different secrets")
	}
}

func TestHashToCurveDomainSeparatedDiffersFromPlain(t *testing.T) {
	secret := "deterministic-counter-secret"

	plain, err := HashToCurve([]byte(secret))
	if err != nil {
		t.Fatalf("HashToCurve: %v", err)
	}
	separated, err := HashToCurveDomainSeparated([]byte(secret))
	if err != nil {
		t.Fatalf("HashToCurveDomainSeparated: %v", err)
	}
	if plain.X == separated.X {
		t.Fatalf("domain-separated hash_to_curve collided with the plain one")
	}
}

func TestBlindSignUnblindRoundtrip(t *testing.T) {
	a, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate mint key: %v", err)
	}
	A := a.PubKey()

	secret := "wallet-chosen-secret"
	B_, r, err := BlindMessage(secret, nil)
	if err != nil {
		t.Fatalf("BlindMessage: %v", err)
	}

	btcecB_, err := btcec.ParsePubKey(B_.SerializeCompressed())
	if err != nil {
		t.Fatalf("parse blinded point: %v", err)
	}

	C_ := SignBlindedMessage(btcecB_, a)
	if C_ == nil {
		t.Fatalf("SignBlindedMessage returned nil")
	}

	C := UnblindSignature(C_, r, A)
	if !Verify(secret, a, C) {
		t.Fatalf("unblinded signature failed to verify")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	a, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	other, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	secret := "some-secret"
	B_, r, err := BlindMessage(secret, nil)
	if err != nil {
		t.Fatalf("BlindMessage: %v", err)
	}
	btcecB_, err := btcec.ParsePubKey(B_.SerializeCompressed())
	if err != nil {
		t.Fatalf("parse blinded point: %v", err)
	}
	C_ := SignBlindedMessage(btcecB_, a)
	C := UnblindSignature(C_, r, a.PubKey())

	if Verify(secret, other, C) {
		t.Fatalf("Verify accepted a signature made with a different key")
	}
}

func TestGenerateAndVerifyDLEQ(t *testing.T) {
	a, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	A := a.PubKey()

	secret := "dleq-secret"
	B_, _, err := BlindMessage(secret, nil)
	if err != nil {
		t.Fatalf("BlindMessage: %v", err)
	}
	btcecB_, err := btcec.ParsePubKey(B_.SerializeCompressed())
	if err != nil {
		t.Fatalf("parse blinded point: %v", err)
	}

	C_ := SignBlindedMessage(btcecB_, a)
	e, s := GenerateDLEQ(a, btcecB_, C_)
	if e == nil || s == nil {
		t.Fatalf("GenerateDLEQ returned nil transcript")
	}

	if !VerifyDLEQ(e, s, A, B_, C_) {
		t.Fatalf("VerifyDLEQ rejected a valid transcript")
	}

	wrongKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if VerifyDLEQ(e, s, wrongKey.PubKey(), B_, C_) {
		t.Fatalf("VerifyDLEQ accepted a transcript against the wrong key")
	}
}
