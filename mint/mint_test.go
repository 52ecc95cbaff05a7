package mint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/oceanslim/nutmint/cashu"
	"github.com/oceanslim/nutmint/cashu/nuts/nut04"
	"github.com/oceanslim/nutmint/cashu/nuts/nut05"
	"github.com/oceanslim/nutmint/cashu/nuts/nut07"
	"github.com/oceanslim/nutmint/cashu/nuts/nut10"
	"github.com/oceanslim/nutmint/cashu/nuts/nut11"
	"github.com/oceanslim/nutmint/crypto"
	"github.com/oceanslim/nutmint/mint/lightning"
	"github.com/oceanslim/nutmint/mint/storage"
)

// fakeLightningClient is an in-memory lightning.Client double, letting the
// engine's settlement paths (mint quote polling, melt dispatch, pending
// payment recovery) run against deterministic state instead of a real node.
type fakeLightningClient struct {
	mu sync.Mutex

	nextId int

	invoicesByHash map[string]lightning.Invoice
	outgoing       map[string]lightning.PaymentStatus
	sendErr        map[string]error
	fee            uint64
}

func newFakeLightningClient() *fakeLightningClient {
	return &fakeLightningClient{
		invoicesByHash: make(map[string]lightning.Invoice),
		outgoing:       make(map[string]lightning.PaymentStatus),
		sendErr:        make(map[string]error),
		fee:            1,
	}
}

func (f *fakeLightningClient) ConnectionStatus() error { return nil }

func (f *fakeLightningClient) CreateInvoice(amount uint64) (lightning.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextId++
	invoice := lightning.Invoice{
		PaymentRequest: fmt.Sprintf("fake-request-%d", f.nextId),
		PaymentHash:    fmt.Sprintf("fake-hash-%d", f.nextId),
		Amount:         amount,
		Expiry:         3600,
	}
	f.invoicesByHash[invoice.PaymentHash] = invoice
	return invoice, nil
}

func (f *fakeLightningClient) InvoiceStatus(hash string) (lightning.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invoicesByHash[hash], nil
}

func (f *fakeLightningClient) SubscribeInvoice(ctx context.Context, paymentHash string) (lightning.InvoiceSubscriptionClient, error) {
	return nil, fmt.Errorf("not implemented by fake client")
}

func (f *fakeLightningClient) SendPayment(ctx context.Context, request string, maxFee uint64) (lightning.PaymentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.sendErr[request]; ok {
		return lightning.PaymentStatus{}, err
	}
	if status, ok := f.outgoing[request]; ok {
		return status, nil
	}
	return lightning.PaymentStatus{Status: lightning.Succeeded, Preimage: "fake-preimage"}, nil
}

func (f *fakeLightningClient) PayPartialAmount(ctx context.Context, request string, amountMsat, maxFee uint64) (lightning.PaymentStatus, error) {
	return f.SendPayment(ctx, request, maxFee)
}

func (f *fakeLightningClient) OutgoingPaymentStatus(ctx context.Context, paymentHash string) (lightning.PaymentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status, ok := f.outgoing[paymentHash]; ok {
		return status, nil
	}
	return lightning.PaymentStatus{Status: lightning.Pending}, nil
}

func (f *fakeLightningClient) FeeReserve(amount uint64) uint64 {
	return f.fee
}

func (f *fakeLightningClient) payInvoice(hash string, paid bool, preimage string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	invoice := f.invoicesByHash[hash]
	invoice.Paid = paid
	invoice.Preimage = preimage
	f.invoicesByHash[hash] = invoice
}

func (f *fakeLightningClient) setOutgoing(key string, status lightning.PaymentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outgoing[key] = status
}

func newTestMint(t *testing.T) (*Mint, *fakeLightningClient) {
	t.Helper()

	fake := newFakeLightningClient()
	config := Config{
		MintPath:        filepath.Join(t.TempDir(), "mint.db"),
		LightningClient: fake,
		MintInfo:        MintInfo{Name: "test mint"},
	}
	m, err := LoadMint(config)
	if err != nil {
		t.Fatalf("LoadMint: %v", err)
	}
	return m, fake
}

// buildProof constructs a spendable, BDHKE-valid proof for amount under the
// mint's active keyset, the same way a wallet would from a blind signature.
func buildProof(t *testing.T, keyset crypto.MintKeyset, amount uint64, secret string) cashu.Proof {
	t.Helper()

	keyPair, ok := keyset.Keys[amount]
	if !ok {
		t.Fatalf("no key for amount %d in keyset %s", amount, keyset.Id)
	}

	B_, r, err := crypto.BlindMessage(secret, nil)
	if err != nil {
		t.Fatalf("BlindMessage: %v", err)
	}
	btcecB_, err := btcec.ParsePubKey(B_.SerializeCompressed())
	if err != nil {
		t.Fatalf("ParsePubKey: %v", err)
	}
	C_ := crypto.SignBlindedMessage(btcecB_, keyPair.PrivateKey)
	C := crypto.UnblindSignature(C_, r, keyPair.PublicKey)

	return cashu.Proof{
		Amount: amount,
		Id:     keyset.Id,
		Secret: secret,
		C:      hex.EncodeToString(C.SerializeCompressed()),
	}
}

func buildBlindedMessage(t *testing.T, keysetId string, amount uint64, secret string) cashu.BlindedMessage {
	t.Helper()
	B_, _, err := crypto.BlindMessage(secret, nil)
	if err != nil {
		t.Fatalf("BlindMessage: %v", err)
	}
	return cashu.NewBlindedMessage(keysetId, amount, hex.EncodeToString(B_.SerializeCompressed()))
}

func TestRequestMintQuote(t *testing.T) {
	m, _ := newTestMint(t)

	quote, err := m.RequestMintQuote(BOLT11_METHOD, 100, SAT_UNIT)
	if err != nil {
		t.Fatalf("RequestMintQuote: %v", err)
	}
	if quote.State != nut04.Unpaid {
		t.Fatalf("expected unpaid quote, got %v", quote.State)
	}
	if quote.PaymentRequest == "" || quote.PaymentHash == "" {
		t.Fatalf("expected invoice fields to be populated")
	}

	if _, err := m.RequestMintQuote("onchain", 100, SAT_UNIT); err != cashu.PaymentMethodNotSupportedErr {
		t.Fatalf("expected unsupported method error, got %v", err)
	}
	if _, err := m.RequestMintQuote(BOLT11_METHOD, 100, "usd"); err != cashu.UnitNotSupportedErr {
		t.Fatalf("expected unsupported unit error, got %v", err)
	}
}

func TestRequestMintQuote_AmountLimit(t *testing.T) {
	m, _ := newTestMint(t)
	m.limits.MintingSettings.MaxAmount = 50

	if _, err := m.RequestMintQuote(BOLT11_METHOD, 100, SAT_UNIT); err != cashu.MintAmountExceededErr {
		t.Fatalf("expected amount exceeded error, got %v", err)
	}
	if _, err := m.RequestMintQuote(BOLT11_METHOD, 10, SAT_UNIT); err != nil {
		t.Fatalf("expected quote within limit to succeed, got %v", err)
	}
}

func TestMintTokens(t *testing.T) {
	m, fake := newTestMint(t)

	quote, err := m.RequestMintQuote(BOLT11_METHOD, 8, SAT_UNIT)
	if err != nil {
		t.Fatalf("RequestMintQuote: %v", err)
	}

	keyset := m.GetActiveKeyset()
	outputs := cashu.BlindedMessages{buildBlindedMessage(t, keyset.Id, 8, "out-1")}

	if _, err := m.MintTokens(BOLT11_METHOD, quote.Id, outputs); err != cashu.MintQuoteRequestNotPaid {
		t.Fatalf("expected unpaid error before invoice settles, got %v", err)
	}

	fake.payInvoice(quote.PaymentHash, true, "preimage")

	signatures, err := m.MintTokens(BOLT11_METHOD, quote.Id, outputs)
	if err != nil {
		t.Fatalf("MintTokens: %v", err)
	}
	if len(signatures) != 1 || signatures[0].Amount != 8 {
		t.Fatalf("unexpected signatures: %+v", signatures)
	}

	if _, err := m.MintTokens(BOLT11_METHOD, quote.Id, outputs); err != cashu.MintQuoteAlreadyIssued {
		t.Fatalf("expected already issued error, got %v", err)
	}
}

func TestMintTokens_OutputsOverQuoteAmount(t *testing.T) {
	m, fake := newTestMint(t)

	quote, err := m.RequestMintQuote(BOLT11_METHOD, 4, SAT_UNIT)
	if err != nil {
		t.Fatalf("RequestMintQuote: %v", err)
	}
	fake.payInvoice(quote.PaymentHash, true, "preimage")

	keyset := m.GetActiveKeyset()
	outputs := cashu.BlindedMessages{buildBlindedMessage(t, keyset.Id, 8, "out-over")}

	if _, err := m.MintTokens(BOLT11_METHOD, quote.Id, outputs); err != cashu.OutputsOverQuoteAmountErr {
		t.Fatalf("expected outputs over quote amount error, got %v", err)
	}
}

func TestSwap(t *testing.T) {
	m, _ := newTestMint(t)
	keyset := m.GetActiveKeyset()

	proofs := cashu.Proofs{buildProof(t, keyset, 8, "swap-in-1")}
	outputs := cashu.BlindedMessages{
		buildBlindedMessage(t, keyset.Id, 4, "swap-out-1"),
		buildBlindedMessage(t, keyset.Id, 4, "swap-out-2"),
	}

	signatures, err := m.Swap(proofs, outputs)
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if len(signatures) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(signatures))
	}

	if _, err := m.Swap(proofs, outputs); err != cashu.ProofAlreadyUsedErr {
		t.Fatalf("expected proof already used error, got %v", err)
	}
}

func TestSwap_DuplicateProofs(t *testing.T) {
	m, _ := newTestMint(t)
	keyset := m.GetActiveKeyset()

	proof := buildProof(t, keyset, 4, "dup-secret")
	proofs := cashu.Proofs{proof, proof}
	outputs := cashu.BlindedMessages{buildBlindedMessage(t, keyset.Id, 8, "dup-out")}

	if _, err := m.Swap(proofs, outputs); err != cashu.DuplicateProofs {
		t.Fatalf("expected duplicate proofs error, got %v", err)
	}
}

func TestSwap_InsufficientAmount(t *testing.T) {
	m, _ := newTestMint(t)
	keyset := m.GetActiveKeyset()

	proofs := cashu.Proofs{buildProof(t, keyset, 4, "insufficient-in")}
	outputs := cashu.BlindedMessages{buildBlindedMessage(t, keyset.Id, 8, "insufficient-out")}

	if _, err := m.Swap(proofs, outputs); err != cashu.InsufficientProofsAmount {
		t.Fatalf("expected insufficient proofs amount error, got %v", err)
	}
}

func TestSwap_UnknownKeyset(t *testing.T) {
	m, _ := newTestMint(t)
	keyset := m.GetActiveKeyset()

	proof := buildProof(t, keyset, 4, "unknown-keyset-secret")
	proof.Id = "00ffffffffffffff"
	outputs := cashu.BlindedMessages{buildBlindedMessage(t, keyset.Id, 4, "unknown-keyset-out")}

	if _, err := m.Swap(cashu.Proofs{proof}, outputs); err != cashu.UnknownKeysetErr {
		t.Fatalf("expected unknown keyset error, got %v", err)
	}
}

func seedMeltQuote(t *testing.T, m *Mint, quote storage.MeltQuote) storage.MeltQuote {
	t.Helper()
	if err := m.db.SaveMeltQuote(quote); err != nil {
		t.Fatalf("SaveMeltQuote: %v", err)
	}
	return quote
}

func TestMeltTokens_BackendSucceeds(t *testing.T) {
	m, fake := newTestMint(t)
	keyset := m.GetActiveKeyset()

	quote := seedMeltQuote(t, m, storage.MeltQuote{
		Id:             "melt-success",
		InvoiceRequest: "fake-melt-request",
		PaymentHash:    "fake-melt-hash",
		Unit:           SAT_UNIT,
		Amount:         8,
		FeeReserve:     1,
		State:          nut05.Unpaid,
	})
	fake.setOutgoing(quote.InvoiceRequest, lightning.PaymentStatus{Status: lightning.Succeeded, Preimage: "melt-preimage"})

	proofs := cashu.Proofs{buildProof(t, keyset, 16, "melt-success-in")}
	blankOutputs := cashu.BlindedMessages{buildBlindedMessage(t, keyset.Id, 0, "melt-success-change")}

	result, err := m.MeltTokens(context.Background(), BOLT11_METHOD, quote.Id, proofs, blankOutputs)
	if err != nil {
		t.Fatalf("MeltTokens: %v", err)
	}
	if result.State != nut05.Paid || result.Preimage != "melt-preimage" {
		t.Fatalf("unexpected melt quote result: %+v", result)
	}
	// the fake backend reports no routing fee, so the whole fee reserve
	// comes back as change
	if len(result.Change) != 1 || result.Change[0].Amount != quote.FeeReserve {
		t.Fatalf("expected change signature for fee reserve, got %+v", result.Change)
	}

	states, err := m.ProofsStateCheck([]string{mustY(t, "melt-success-in")})
	if err != nil {
		t.Fatalf("ProofsStateCheck: %v", err)
	}
	if len(states) != 1 || states[0].State != nut07.Spent {
		t.Fatalf("expected spent proof state, got %+v", states)
	}
}

func TestMeltTokens_AlreadyPaid(t *testing.T) {
	m, _ := newTestMint(t)
	keyset := m.GetActiveKeyset()

	quote := seedMeltQuote(t, m, storage.MeltQuote{
		Id:             "melt-already-paid",
		InvoiceRequest: "fake-melt-request-paid",
		PaymentHash:    "fake-melt-hash-paid",
		Unit:           SAT_UNIT,
		Amount:         8,
		State:          nut05.Paid,
	})

	proofs := cashu.Proofs{buildProof(t, keyset, 8, "melt-already-paid-in")}
	if _, err := m.MeltTokens(context.Background(), BOLT11_METHOD, quote.Id, proofs, nil); err != cashu.MeltQuoteAlreadyPaid {
		t.Fatalf("expected already paid error, got %v", err)
	}
}

func TestMeltTokens_InternalSettlement(t *testing.T) {
	m, fake := newTestMint(t)
	keyset := m.GetActiveKeyset()

	mintQuote := storage.MintQuote{
		Id:             "mint-for-internal-settle",
		Amount:         8,
		Unit:           SAT_UNIT,
		PaymentRequest: "shared-request",
		PaymentHash:    "shared-hash",
		State:          nut04.Unpaid,
	}
	if err := m.db.SaveMintQuote(mintQuote); err != nil {
		t.Fatalf("SaveMintQuote: %v", err)
	}
	fake.invoicesByHash[mintQuote.PaymentHash] = lightning.Invoice{
		PaymentRequest: mintQuote.PaymentRequest,
		PaymentHash:    mintQuote.PaymentHash,
		Paid:           true,
		Preimage:       "internal-preimage",
	}

	meltQuote := seedMeltQuote(t, m, storage.MeltQuote{
		Id:             "melt-for-internal-settle",
		InvoiceRequest: mintQuote.PaymentRequest,
		PaymentHash:    mintQuote.PaymentHash,
		Unit:           SAT_UNIT,
		Amount:         8,
		State:          nut05.Unpaid,
	})

	proofs := cashu.Proofs{buildProof(t, keyset, 8, "internal-settle-in")}

	result, err := m.MeltTokens(context.Background(), BOLT11_METHOD, meltQuote.Id, proofs, nil)
	if err != nil {
		t.Fatalf("MeltTokens: %v", err)
	}
	if result.State != nut05.Paid || result.Preimage != "internal-preimage" {
		t.Fatalf("unexpected internally-settled melt quote: %+v", result)
	}

	updatedMintQuote, err := m.db.GetMintQuote(mintQuote.Id)
	if err != nil {
		t.Fatalf("GetMintQuote: %v", err)
	}
	if updatedMintQuote.State != nut04.Paid {
		t.Fatalf("expected mint quote to be marked paid, got %v", updatedMintQuote.State)
	}
}

func TestGetMeltQuoteState_PendingResolvesToSucceeded(t *testing.T) {
	m, fake := newTestMint(t)
	keyset := m.GetActiveKeyset()

	meltQuote := seedMeltQuote(t, m, storage.MeltQuote{
		Id:             "melt-pending-success",
		InvoiceRequest: "pending-request",
		PaymentHash:    "pending-hash",
		Unit:           SAT_UNIT,
		Amount:         4,
		FeeReserve:     2,
		State:          nut05.Pending,
	})
	blankOutputs := cashu.BlindedMessages{buildBlindedMessage(t, keyset.Id, 0, "pending-success-change")}
	if err := m.db.SetMeltQuoteBlankOutputs(meltQuote.Id, blankOutputs); err != nil {
		t.Fatalf("SetMeltQuoteBlankOutputs: %v", err)
	}

	proofs := cashu.Proofs{buildProof(t, keyset, 4, "pending-success-in")}
	if err := m.db.AddPendingProofs(proofs, meltQuote.Id); err != nil {
		t.Fatalf("AddPendingProofs: %v", err)
	}
	fake.setOutgoing(meltQuote.PaymentHash, lightning.PaymentStatus{Status: lightning.Succeeded, Preimage: "pending-preimage"})

	result, err := m.GetMeltQuoteState(context.Background(), BOLT11_METHOD, meltQuote.Id)
	if err != nil {
		t.Fatalf("GetMeltQuoteState: %v", err)
	}
	if result.State != nut05.Paid || result.Preimage != "pending-preimage" {
		t.Fatalf("unexpected melt quote state: %+v", result)
	}
	// blank outputs were persisted at Pending time, not resupplied here;
	// the resolution path must still sign change from them
	if len(result.Change) != 1 || result.Change[0].Amount != meltQuote.FeeReserve {
		t.Fatalf("expected persisted blank outputs to be signed as change, got %+v", result.Change)
	}

	used, err := m.db.GetProofsUsed([]string{mustY(t, "pending-success-in")})
	if err != nil {
		t.Fatalf("GetProofsUsed: %v", err)
	}
	if len(used) != 1 {
		t.Fatalf("expected proof to be invalidated, got %d", len(used))
	}
}

func TestGetMeltQuoteState_PendingResolvesToFailed(t *testing.T) {
	m, fake := newTestMint(t)
	keyset := m.GetActiveKeyset()

	meltQuote := seedMeltQuote(t, m, storage.MeltQuote{
		Id:             "melt-pending-failed",
		InvoiceRequest: "pending-failed-request",
		PaymentHash:    "pending-failed-hash",
		Unit:           SAT_UNIT,
		Amount:         4,
		State:          nut05.Pending,
	})

	proofs := cashu.Proofs{buildProof(t, keyset, 4, "pending-failed-in")}
	if err := m.db.AddPendingProofs(proofs, meltQuote.Id); err != nil {
		t.Fatalf("AddPendingProofs: %v", err)
	}
	fake.setOutgoing(meltQuote.PaymentHash, lightning.PaymentStatus{Status: lightning.Failed})

	result, err := m.GetMeltQuoteState(context.Background(), BOLT11_METHOD, meltQuote.Id)
	if err != nil {
		t.Fatalf("GetMeltQuoteState: %v", err)
	}
	if result.State != nut05.Unpaid {
		t.Fatalf("expected unpaid state after failed payment, got %v", result.State)
	}

	pending, err := m.db.GetPendingProofsByQuote(meltQuote.Id)
	if err != nil {
		t.Fatalf("GetPendingProofsByQuote: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected pending proofs to be released, got %d", len(pending))
	}
}

func TestProofsStateCheck(t *testing.T) {
	m, _ := newTestMint(t)
	keyset := m.GetActiveKeyset()

	unspent := buildProof(t, keyset, 4, "state-check-unspent")
	spent := buildProof(t, keyset, 4, "state-check-spent")
	pending := buildProof(t, keyset, 4, "state-check-pending")

	if err := m.db.SaveProofs(cashu.Proofs{spent}); err != nil {
		t.Fatalf("SaveProofs: %v", err)
	}
	if err := m.db.AddPendingProofs(cashu.Proofs{pending}, "some-quote"); err != nil {
		t.Fatalf("AddPendingProofs: %v", err)
	}

	Ys := []string{
		mustY(t, unspent.Secret),
		mustY(t, spent.Secret),
		mustY(t, pending.Secret),
	}
	states, err := m.ProofsStateCheck(Ys)
	if err != nil {
		t.Fatalf("ProofsStateCheck: %v", err)
	}
	if len(states) != 3 {
		t.Fatalf("expected 3 states, got %d", len(states))
	}
	if states[0].State != nut07.Unspent {
		t.Fatalf("expected unspent, got %v", states[0].State)
	}
	if states[1].State != nut07.Spent {
		t.Fatalf("expected spent, got %v", states[1].State)
	}
	if states[2].State != nut07.Pending {
		t.Fatalf("expected pending, got %v", states[2].State)
	}
}

func TestMintLimits_MaxBalance(t *testing.T) {
	m, fake := newTestMint(t)
	keyset := m.GetActiveKeyset()

	quote, err := m.RequestMintQuote(BOLT11_METHOD, 8, SAT_UNIT)
	if err != nil {
		t.Fatalf("RequestMintQuote: %v", err)
	}
	fake.payInvoice(quote.PaymentHash, true, "preimage")
	outputs := cashu.BlindedMessages{buildBlindedMessage(t, keyset.Id, 8, "max-balance-out")}
	if _, err := m.MintTokens(BOLT11_METHOD, quote.Id, outputs); err != nil {
		t.Fatalf("MintTokens: %v", err)
	}

	m.limits.MaxBalance = 8
	if _, err := m.RequestMintQuote(BOLT11_METHOD, 1, SAT_UNIT); err != cashu.MintingDisabled {
		t.Fatalf("expected minting disabled once balance ceiling is reached, got %v", err)
	}
}

// p2pkSecret builds a P2PK well-known secret locked to pubkey, optionally
// with a locktime/refund tag set.
func p2pkSecret(t *testing.T, pubkeyHex string, tags [][]string) string {
	t.Helper()
	secret := nut10.WellKnownSecret{
		Kind: nut10.P2PK,
		WellKnownSecretData: nut10.WellKnownSecretData{
			Nonce: "deadbeefdeadbeefdeadbeefdeadbeef",
			Data:  pubkeyHex,
			Tags:  tags,
		},
	}
	serialized, err := secret.Serialize()
	if err != nil {
		t.Fatalf("serialize P2PK secret: %v", err)
	}
	return serialized
}

func signP2PK(t *testing.T, priv *secp256k1.PrivateKey, secret string) string {
	t.Helper()
	btcecPriv, _ := btcec.PrivKeyFromBytes(priv.Serialize())
	hash := sha256.Sum256([]byte(secret))
	sig, err := schnorr.Sign(btcecPriv, hash[:])
	if err != nil {
		t.Fatalf("schnorr.Sign: %v", err)
	}
	witness, err := json.Marshal(nut11.P2PKWitness{Signatures: []string{hex.EncodeToString(sig.Serialize())}})
	if err != nil {
		t.Fatalf("marshal witness: %v", err)
	}
	return string(witness)
}

func TestSwap_P2PKLockedProof(t *testing.T) {
	m, _ := newTestMint(t)
	keyset := m.GetActiveKeyset()

	lockPriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	pubkeyHex := hex.EncodeToString(lockPriv.PubKey().SerializeCompressed())
	secret := p2pkSecret(t, pubkeyHex, nil)

	proof := buildProof(t, keyset, 8, secret)
	proof.Witness = signP2PK(t, lockPriv, secret)

	outputs := cashu.BlindedMessages{buildBlindedMessage(t, keyset.Id, 8, "p2pk-out")}

	if _, err := m.Swap(cashu.Proofs{proof}, outputs); err != nil {
		t.Fatalf("Swap with valid P2PK witness: %v", err)
	}
}

func TestSwap_P2PKMissingWitness(t *testing.T) {
	m, _ := newTestMint(t)
	keyset := m.GetActiveKeyset()

	lockPriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	pubkeyHex := hex.EncodeToString(lockPriv.PubKey().SerializeCompressed())
	secret := p2pkSecret(t, pubkeyHex, nil)

	proof := buildProof(t, keyset, 8, secret)
	outputs := cashu.BlindedMessages{buildBlindedMessage(t, keyset.Id, 8, "p2pk-missing-witness-out")}

	if _, err := m.Swap(cashu.Proofs{proof}, outputs); err != nut11.InvalidWitness {
		t.Fatalf("expected invalid witness error, got %v", err)
	}
}

func TestSwap_P2PKExpiredLocktimeAnyoneCanSpend(t *testing.T) {
	m, _ := newTestMint(t)
	keyset := m.GetActiveKeyset()

	lockPriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	pubkeyHex := hex.EncodeToString(lockPriv.PubKey().SerializeCompressed())
	tags := [][]string{{"locktime", "1"}}
	secret := p2pkSecret(t, pubkeyHex, tags)

	proof := buildProof(t, keyset, 8, secret)
	outputs := cashu.BlindedMessages{buildBlindedMessage(t, keyset.Id, 8, "p2pk-expired-out")}

	if _, err := m.Swap(cashu.Proofs{proof}, outputs); err != nil {
		t.Fatalf("expected expired locktime with no refund key to spend freely: %v", err)
	}
}

func mustY(t *testing.T, secret string) string {
	t.Helper()
	Y, err := crypto.HashToCurve([]byte(secret))
	if err != nil {
		t.Fatalf("HashToCurve: %v", err)
	}
	return hex.EncodeToString(Y.SerializeCompressed())
}
