package cashu

import "testing"

func TestAmountSplit(t *testing.T) {
	cases := map[uint64][]uint64{
		0:  nil,
		1:  {1},
		3:  {1, 2},
		13: {1, 4, 8},
		64: {64},
	}
	for amount, want := range cases {
		got := AmountSplit(amount)
		if len(got) != len(want) {
			t.Fatalf("AmountSplit(%d) = %v, want %v", amount, got, want)
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("AmountSplit(%d) = %v, want %v", amount, got, want)
			}
		}
	}
}

func TestCheckDuplicateProofs(t *testing.T) {
	unique := Proofs{{Secret: "a"}, {Secret: "b"}}
	if CheckDuplicateProofs(unique) {
		t.Fatalf("expected no duplicates")
	}

	duplicated := Proofs{{Secret: "a"}, {Secret: "a"}}
	if !CheckDuplicateProofs(duplicated) {
		t.Fatalf("expected duplicates to be detected")
	}
}

func TestCheckDuplicateBlindedMessages(t *testing.T) {
	unique := BlindedMessages{{B_: "a"}, {B_: "b"}}
	if CheckDuplicateBlindedMessages(unique) {
		t.Fatalf("expected no duplicates")
	}

	duplicated := BlindedMessages{{B_: "a"}, {B_: "a"}}
	if !CheckDuplicateBlindedMessages(duplicated) {
		t.Fatalf("expected duplicates to be detected")
	}
}

func TestBlankOutputsCount(t *testing.T) {
	cases := map[uint64]int{
		0:   1,
		1:   1,
		2:   1,
		3:   2,
		100: 7,
	}
	for feeReserve, want := range cases {
		if got := BlankOutputsCount(feeReserve); got != want {
			t.Errorf("BlankOutputsCount(%d) = %d, want %d", feeReserve, got, want)
		}
	}
}

func TestUnitFromString(t *testing.T) {
	unit, err := UnitFromString("sat")
	if err != nil || unit != Sat {
		t.Fatalf("expected sat unit, got %v, %v", unit, err)
	}
	if _, err := UnitFromString("yen"); err != UnitNotSupportedErr {
		t.Fatalf("expected unsupported unit error, got %v", err)
	}
	if Sat.String() != "sat" || Msat.String() != "msat" {
		t.Fatalf("unexpected Unit.String() output")
	}
}

func TestTokenV3Roundtrip(t *testing.T) {
	proofs := Proofs{
		{Amount: 4, Id: "00aabbccddeeff00", Secret: "s1", C: "02abcd"},
		{Amount: 8, Id: "00aabbccddeeff00", Secret: "s2", C: "03abcd"},
	}

	token, err := NewTokenV3(proofs, "https://mint.example", "sat")
	if err != nil {
		t.Fatalf("NewTokenV3: %v", err)
	}

	serialized, err := token.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	decoded, err := DecodeToken(serialized)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if decoded.Mint() != "https://mint.example" {
		t.Fatalf("unexpected mint url: %s", decoded.Mint())
	}
	if decoded.Amount() != 12 {
		t.Fatalf("expected amount 12, got %d", decoded.Amount())
	}
	if len(decoded.Proofs()) != 2 {
		t.Fatalf("expected 2 proofs, got %d", len(decoded.Proofs()))
	}
}

func TestTokenV4Roundtrip(t *testing.T) {
	proofs := Proofs{
		{Amount: 4, Id: "00aabbccddeeff00", Secret: "s1", C: "02" + "11223344556677889900aabbccddeeff11223344556677889900aabbccddee"},
		{Amount: 8, Id: "00aabbccddeeff00", Secret: "s2", C: "03" + "11223344556677889900aabbccddeeff11223344556677889900aabbccddee"},
	}

	token, err := NewTokenV4(proofs, "https://mint.example", "sat")
	if err != nil {
		t.Fatalf("NewTokenV4: %v", err)
	}

	serialized, err := token.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	decoded, err := DecodeToken(serialized)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if decoded.Amount() != 12 {
		t.Fatalf("expected amount 12, got %d", decoded.Amount())
	}
	decodedProofs := decoded.Proofs()
	if len(decodedProofs) != 2 {
		t.Fatalf("expected 2 proofs, got %d", len(decodedProofs))
	}
	if decodedProofs[0].Id != proofs[0].Id {
		t.Fatalf("keyset id did not round-trip: got %s, want %s", decodedProofs[0].Id, proofs[0].Id)
	}
}

func TestDecodeTokenUnrecognizedPrefix(t *testing.T) {
	if _, err := DecodeToken("notatoken"); err == nil {
		t.Fatalf("expected error for unrecognized token prefix")
	}
}
