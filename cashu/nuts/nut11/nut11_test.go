package nut11

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/oceanslim/nutmint/cashu/nuts/nut10"
)

func TestParseP2PKTags(t *testing.T) {
	_, pub1 := newKeyPair(t)
	_, pub2 := newKeyPair(t)

	tags := [][]string{
		{"sigflag", SigAll},
		{"locktime", "1700000000"},
		{"n_sigs", "2"},
		{"pubkeys", hex.EncodeToString(pub1.SerializeCompressed()), hex.EncodeToString(pub2.SerializeCompressed())},
	}

	parsed, err := ParseP2PKTags(tags)
	if err != nil {
		t.Fatalf("ParseP2PKTags: %v", err)
	}
	if parsed.SigFlag != SigAll {
		t.Fatalf("expected sigflag SIG_ALL, got %s", parsed.SigFlag)
	}
	if parsed.Locktime != 1700000000 {
		t.Fatalf("expected locktime 1700000000, got %d", parsed.Locktime)
	}
	if parsed.NSigs != 2 {
		t.Fatalf("expected n_sigs 2, got %d", parsed.NSigs)
	}
	if len(parsed.Pubkeys) != 2 {
		t.Fatalf("expected 2 additional pubkeys, got %d", len(parsed.Pubkeys))
	}
}

func newKeyPair(t *testing.T) (*btcec.PrivateKey, *btcec.PublicKey) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	return priv, priv.PubKey()
}

func TestHasValidSignatures(t *testing.T) {
	priv, pub := newKeyPair(t)
	msg := []byte("message to sign")
	hash := sha256.Sum256(msg)

	sig, err := schnorr.Sign(priv, hash[:])
	if err != nil {
		t.Fatalf("schnorr.Sign: %v", err)
	}

	witness := P2PKWitness{Signatures: []string{hex.EncodeToString(sig.Serialize())}}
	if !HasValidSignatures(hash[:], witness, 1, []*btcec.PublicKey{pub}) {
		t.Fatalf("expected valid signature to verify")
	}

	otherPriv, _ := newKeyPair(t)
	_ = otherPriv
	if HasValidSignatures(hash[:], witness, 1, []*btcec.PublicKey{}) {
		t.Fatalf("expected no pubkeys to fail verification")
	}
}

func TestHasValidSignaturesRequiresDistinctSignatures(t *testing.T) {
	priv, pub := newKeyPair(t)
	hash := sha256.Sum256([]byte("message"))

	sig, err := schnorr.Sign(priv, hash[:])
	if err != nil {
		t.Fatalf("schnorr.Sign: %v", err)
	}
	sigHex := hex.EncodeToString(sig.Serialize())

	witness := P2PKWitness{Signatures: []string{sigHex, sigHex}}
	if HasValidSignatures(hash[:], witness, 2, []*btcec.PublicKey{pub}) {
		t.Fatalf("a duplicated signature should not count twice toward the threshold")
	}
}

func TestParseWitnessToleratesEmpty(t *testing.T) {
	w := ParseWitness("")
	if len(w.Signatures) != 0 {
		t.Fatalf("expected no signatures from empty witness")
	}
}

func TestPublicKeysIncludesTaggedPubkeys(t *testing.T) {
	_, primary := newKeyPair(t)
	_, extra := newKeyPair(t)

	secret := nut10.WellKnownSecret{
		Kind: nut10.P2PK,
		WellKnownSecretData: nut10.WellKnownSecretData{
			Data: hex.EncodeToString(primary.SerializeCompressed()),
			Tags: [][]string{{"pubkeys", hex.EncodeToString(extra.SerializeCompressed())}},
		},
	}

	keys, err := PublicKeys(secret)
	if err != nil {
		t.Fatalf("PublicKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected primary + 1 tagged pubkey, got %d", len(keys))
	}
}
