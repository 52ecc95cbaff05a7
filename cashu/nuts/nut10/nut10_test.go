package nut10

import "testing"

func TestWellKnownSecretRoundtrip(t *testing.T) {
	secret := WellKnownSecret{
		Kind: P2PK,
		WellKnownSecretData: WellKnownSecretData{
			Nonce: "deadbeef",
			Data:  "02aabbccddeeff00112233445566778899aabbccddeeff0011223344556677",
			Tags:  [][]string{{"locktime", "12345"}, {"pubkeys", "pk1", "pk2"}},
		},
	}

	serialized, err := secret.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	decoded, err := DeserializeSecret(serialized)
	if err != nil {
		t.Fatalf("DeserializeSecret: %v", err)
	}
	if decoded.Kind != P2PK {
		t.Fatalf("expected kind P2PK, got %s", decoded.Kind)
	}
	if decoded.Data != secret.Data {
		t.Fatalf("data did not round-trip: got %s, want %s", decoded.Data, secret.Data)
	}

	locktime, ok := Tag(decoded.Tags, "locktime")
	if !ok || locktime != "12345" {
		t.Fatalf("expected locktime tag 12345, got %q (ok=%v)", locktime, ok)
	}
	pubkeys := TagValues(decoded.Tags, "pubkeys")
	if len(pubkeys) != 2 || pubkeys[0] != "pk1" || pubkeys[1] != "pk2" {
		t.Fatalf("unexpected pubkeys tag values: %v", pubkeys)
	}
}

func TestDeserializeSecretRejectsOpaqueSecret(t *testing.T) {
	if _, err := DeserializeSecret("just-a-random-secret"); err == nil {
		t.Fatalf("expected an opaque secret to fail deserialization")
	}
	if IsWellKnownSecret("just-a-random-secret") {
		t.Fatalf("expected opaque secret to not be a well-known secret")
	}
}

func TestDeserializeSecretRejectsEmpty(t *testing.T) {
	if _, err := DeserializeSecret(""); err == nil {
		t.Fatalf("expected empty secret to error")
	}
}
