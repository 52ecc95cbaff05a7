// Package cashu defines the wire types and error taxonomy shared by every
// component of the mint: blinded messages and signatures, proofs, token
// serialization (V3 and V4), and amount bookkeeping helpers.
package cashu

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/bits"
	"slices"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const (
	BOLT11_METHOD  = "bolt11"
	MaxSecretLen   = 512
	MaxOrder       = 64
	TokenV3Prefix  = "cashuA"
	TokenV4Prefix  = "cashuB"
)

// Unit is a recognized accounting unit.
type Unit int

const (
	Sat Unit = iota
	Msat
	USD
	EUR
)

func (u Unit) String() string {
	switch u {
	case Sat:
		return "sat"
	case Msat:
		return "msat"
	case USD:
		return "usd"
	case EUR:
		return "eur"
	default:
		return "unknown"
	}
}

func UnitFromString(s string) (Unit, error) {
	switch s {
	case "sat":
		return Sat, nil
	case "msat":
		return Msat, nil
	case "usd":
		return USD, nil
	case "eur":
		return EUR, nil
	default:
		return 0, UnitNotSupportedErr
	}
}

// BlindedMessage is the wallet's output: B_ = Y + rG for a given denomination
// and keyset. The mint never observes secret or r.
type BlindedMessage struct {
	Amount  uint64 `json:"amount"`
	Id      string `json:"id"`
	B_      string `json:"B_"`
	Witness string `json:"witness,omitempty"`
}

func NewBlindedMessage(id string, amount uint64, B_ string) BlindedMessage {
	return BlindedMessage{Amount: amount, Id: id, B_: B_}
}

type BlindedMessages []BlindedMessage

func (bm BlindedMessages) Amount() uint64 {
	var total uint64
	for _, m := range bm {
		total += m.Amount
	}
	return total
}

func SortBlindedMessages(messages BlindedMessages) {
	slices.SortFunc(messages, func(a, b BlindedMessage) int {
		if a.Amount != b.Amount {
			if a.Amount < b.Amount {
				return -1
			}
			return 1
		}
		return strings.Compare(a.B_, b.B_)
	})
}

// DLEQProof is the (e, s) transcript proving the promise was signed with the
// advertised denomination key, optionally with the blinding factor r for
// inclusion in a proof's own DLEQ (used by wallets, not produced by the mint).
type DLEQProof struct {
	E string `json:"e"`
	S string `json:"s"`
	R string `json:"r,omitempty"`
}

// BlindedSignature is the mint's promise: C_ = a·B_.
type BlindedSignature struct {
	Amount uint64     `json:"amount"`
	Id     string     `json:"id"`
	C_     string     `json:"C_"`
	DLEQ   *DLEQProof `json:"dleq,omitempty"`
}

type BlindedSignatures []BlindedSignature

func (bs BlindedSignatures) Amount() uint64 {
	var total uint64
	for _, s := range bs {
		total += s.Amount
	}
	return total
}

// Proof is a spent-or-spendable token: the unblinded C = a·Y paired with its
// originating secret.
type Proof struct {
	Amount  uint64     `json:"amount"`
	Id      string     `json:"id"`
	Secret  string     `json:"secret"`
	C       string     `json:"C"`
	Witness string     `json:"witness,omitempty"`
	DLEQ    *DLEQProof `json:"dleq,omitempty"`
}

type Proofs []Proof

func (p Proofs) Amount() uint64 {
	var total uint64
	for _, proof := range p {
		total += proof.Amount
	}
	return total
}

func (p Proofs) Secrets() []string {
	secrets := make([]string, len(p))
	for i, proof := range p {
		secrets[i] = proof.Secret
	}
	return secrets
}

// CheckDuplicateProofs reports whether any two proofs in the slice share a
// secret.
func CheckDuplicateProofs(proofs Proofs) bool {
	seen := make(map[string]bool, len(proofs))
	for _, proof := range proofs {
		if seen[proof.Secret] {
			return true
		}
		seen[proof.Secret] = true
	}
	return false
}

// CheckDuplicateBlindedMessages reports whether any two outputs in the slice
// share a B_.
func CheckDuplicateBlindedMessages(messages BlindedMessages) bool {
	seen := make(map[string]bool, len(messages))
	for _, m := range messages {
		if seen[m.B_] {
			return true
		}
		seen[m.B_] = true
	}
	return false
}

// AmountSplit decomposes n into the ascending multiset of powers of two that
// sum to it (its binary representation).
func AmountSplit(amount uint64) []uint64 {
	var splitAmounts []uint64
	for pos := 0; amount != 0; pos++ {
		if amount&1 == 1 {
			splitAmounts = append(splitAmounts, 1<<pos)
		}
		amount >>= 1
	}
	return splitAmounts
}

// BlankOutputsCount returns the number of blank (amount-0) outputs a wallet
// should include to receive fee-change of up to feeReserve: ceil(log2(max(F,1))),
// at least one.
func BlankOutputsCount(feeReserve uint64) int {
	if feeReserve == 0 {
		return 1
	}
	count := bits.Len64(feeReserve - 1)
	if count < 1 {
		count = 1
	}
	return count
}

// GenerateRandomQuoteId returns a random, unguessable quote identifier: the
// hex-encoded SHA-256 of 32 random bytes.
func GenerateRandomQuoteId() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	hash := sha256.Sum256(b)
	return hex.EncodeToString(hash[:]), nil
}

func Max(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func Count[T any](items []T, predicate func(T) bool) int {
	n := 0
	for _, item := range items {
		if predicate(item) {
			n++
		}
	}
	return n
}

// ----- Token serialization (V3 and V4) -----

// Token is implemented by TokenV3 and TokenV4.
type Token interface {
	Proofs() Proofs
	Mint() string
	Amount() uint64
	Serialize() (string, error)
}

func DecodeToken(token string) (Token, error) {
	switch {
	case strings.HasPrefix(token, TokenV3Prefix):
		return DecodeTokenV3(token)
	case strings.HasPrefix(token, TokenV4Prefix):
		return DecodeTokenV4(token)
	default:
		return nil, errors.New("invalid token: unrecognized prefix")
	}
}

type TokenV3Proof struct {
	Id      string     `json:"id"`
	Amount  uint64     `json:"amount"`
	Secret  string     `json:"secret"`
	C       string     `json:"C"`
	Witness string     `json:"witness,omitempty"`
	DLEQ    *DLEQProof `json:"dleq,omitempty"`
}

type tokenV3Entry struct {
	Mint   string         `json:"mint"`
	Proofs []TokenV3Proof `json:"proofs"`
}

type TokenV3 struct {
	Token []tokenV3Entry `json:"token"`
	Unit  string         `json:"unit,omitempty"`
	Memo  string         `json:"memo,omitempty"`
}

func NewTokenV3(proofs Proofs, mint, unit string) (TokenV3, error) {
	if len(proofs) == 0 {
		return TokenV3{}, errors.New("token must contain at least one proof")
	}
	tv3Proofs := make([]TokenV3Proof, len(proofs))
	for i, p := range proofs {
		tv3Proofs[i] = TokenV3Proof{Id: p.Id, Amount: p.Amount, Secret: p.Secret, C: p.C, Witness: p.Witness, DLEQ: p.DLEQ}
	}
	return TokenV3{
		Token: []tokenV3Entry{{Mint: mint, Proofs: tv3Proofs}},
		Unit:  unit,
	}, nil
}

func DecodeTokenV3(token string) (*TokenV3, error) {
	trimmed := strings.TrimPrefix(token, TokenV3Prefix)
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(trimmed, "="))
	if err != nil {
		decoded, err = base64.URLEncoding.DecodeString(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid token encoding: %v", err)
		}
	}

	var t TokenV3
	if err := json.Unmarshal(decoded, &t); err != nil {
		return nil, fmt.Errorf("invalid token json: %v", err)
	}
	if len(t.Token) == 0 {
		return nil, errors.New("token has no entries")
	}
	return &t, nil
}

func (t *TokenV3) Proofs() Proofs {
	var proofs Proofs
	for _, entry := range t.Token {
		for _, p := range entry.Proofs {
			proofs = append(proofs, Proof{Amount: p.Amount, Id: p.Id, Secret: p.Secret, C: p.C, Witness: p.Witness, DLEQ: p.DLEQ})
		}
	}
	return proofs
}

func (t *TokenV3) Mint() string {
	if len(t.Token) == 0 {
		return ""
	}
	return t.Token[0].Mint
}

func (t *TokenV3) Amount() uint64 {
	return t.Proofs().Amount()
}

func (t *TokenV3) Serialize() (string, error) {
	jsonBytes, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return TokenV3Prefix + base64.RawURLEncoding.EncodeToString(jsonBytes), nil
}

// TokenV4 is the CBOR-encoded, prefix-cashuB wire format. Keyset ids, C values
// and DLEQ scalars are carried as raw bytes and secrets as plain strings,
// through the cbor struct tags alone (no custom encoders).
type ProofV4 struct {
	Amount  uint64     `cbor:"a"`
	Secret  string     `cbor:"s"`
	C       []byte     `cbor:"c"`
	Witness string     `cbor:"w,omitempty"`
	DLEQV4  *DLEQV4    `cbor:"d,omitempty"`
}

type DLEQV4 struct {
	E []byte `cbor:"e"`
	S []byte `cbor:"s"`
	R []byte `cbor:"r,omitempty"`
}

type TokenV4Proof struct {
	Id     []byte    `cbor:"i"`
	Proofs []ProofV4 `cbor:"p"`
}

type TokenV4 struct {
	MintURL string         `cbor:"m"`
	Unit    string         `cbor:"u"`
	Memo    string         `cbor:"d,omitempty"`
	Tokens  []TokenV4Proof `cbor:"t"`
}

func NewTokenV4(proofs Proofs, mint, unit string) (TokenV4, error) {
	if len(proofs) == 0 {
		return TokenV4{}, errors.New("token must contain at least one proof")
	}

	byKeyset := make(map[string][]ProofV4)
	order := make([]string, 0)
	for _, p := range proofs {
		cBytes, err := hex.DecodeString(p.C)
		if err != nil {
			return TokenV4{}, fmt.Errorf("invalid proof C: %v", err)
		}
		pv4 := ProofV4{Amount: p.Amount, Secret: p.Secret, C: cBytes, Witness: p.Witness}
		if p.DLEQ != nil {
			e, err := hex.DecodeString(p.DLEQ.E)
			if err != nil {
				return TokenV4{}, err
			}
			s, err := hex.DecodeString(p.DLEQ.S)
			if err != nil {
				return TokenV4{}, err
			}
			pv4.DLEQV4 = &DLEQV4{E: e, S: s}
		}
		if _, ok := byKeyset[p.Id]; !ok {
			order = append(order, p.Id)
		}
		byKeyset[p.Id] = append(byKeyset[p.Id], pv4)
	}

	tokens := make([]TokenV4Proof, 0, len(order))
	for _, id := range order {
		idBytes, err := hex.DecodeString(id)
		if err != nil {
			return TokenV4{}, fmt.Errorf("invalid keyset id: %v", err)
		}
		tokens = append(tokens, TokenV4Proof{Id: idBytes, Proofs: byKeyset[id]})
	}

	return TokenV4{MintURL: mint, Unit: unit, Tokens: tokens}, nil
}

func DecodeTokenV4(token string) (*TokenV4, error) {
	trimmed := strings.TrimPrefix(token, TokenV4Prefix)
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(trimmed, "="))
	if err != nil {
		return nil, fmt.Errorf("invalid token encoding: %v", err)
	}

	var t TokenV4
	if err := cbor.Unmarshal(decoded, &t); err != nil {
		return nil, fmt.Errorf("invalid token cbor: %v", err)
	}
	return &t, nil
}

func (t *TokenV4) Proofs() Proofs {
	var proofs Proofs
	for _, entry := range t.Tokens {
		id := hex.EncodeToString(entry.Id)
		for _, p := range entry.Proofs {
			proof := Proof{Amount: p.Amount, Id: id, Secret: p.Secret, C: hex.EncodeToString(p.C), Witness: p.Witness}
			if p.DLEQV4 != nil {
				proof.DLEQ = &DLEQProof{E: hex.EncodeToString(p.DLEQV4.E), S: hex.EncodeToString(p.DLEQV4.S)}
			}
			proofs = append(proofs, proof)
		}
	}
	return proofs
}

func (t *TokenV4) Mint() string {
	return t.MintURL
}

func (t *TokenV4) Amount() uint64 {
	return t.Proofs().Amount()
}

func (t *TokenV4) Serialize() (string, error) {
	cborBytes, err := cbor.Marshal(t)
	if err != nil {
		return "", err
	}
	return TokenV4Prefix + base64.RawURLEncoding.EncodeToString(cborBytes), nil
}

// ----- Error taxonomy -----

type CashuErrCode int

const (
	StandardErrCode CashuErrCode = iota
	DBErrCode
	LightningBackendErrCode
	InvoiceErrCode
	KeysetNotExistErrCode
	UnknownKeysetErrCode
	InactiveKeysetErrCode
	InvalidProofErrCode
	ProofAlreadyUsedErrCode
	ProofPendingErrCode
	NoProofsProvidedErrCode
	DuplicateProofsErrCode
	InvalidBlindedMessageAmountErrCode
	BlindedMessageAlreadySignedErrCode
	OutputsAlreadySignedErrCode
	OutputsOverQuoteAmountErrCode
	PaymentMethodNotSupportedErrCode
	UnitNotSupportedErrCode
	UnitMismatchErrCode
	AmountUnbalancedErrCode
	FeeInsufficientErrCode
	MintAmountExceededErrCode
	MintingDisabledErrCode
	MeltAmountExceededErrCode
	MintQuoteRequestNotPaidErrCode
	MintQuoteAlreadyIssuedErrCode
	MeltQuoteAlreadyPaidErrCode
	MeltQuotePendingErrCode
	QuoteNotExistErrCode
	QuoteLockedErrCode
	QuoteExpiredErrCode
	InsufficientProofsAmountErrCode
	InvalidWitnessErrCode
	ConditionFailedErrCode
	EmptyBodyErrCode
)

// Error is the single error taxonomy satisfying the standard error interface.
// It marshals to JSON as {"code": N, "detail": "..."} for wallets to consume.
type Error struct {
	Detail string       `json:"detail"`
	Code   CashuErrCode `json:"code"`
}

func (e *Error) Error() string {
	return e.Detail
}

func BuildCashuError(detail string, code CashuErrCode) *Error {
	return &Error{Detail: detail, Code: code}
}

var (
	StandardErr                    = &Error{Detail: "unable to process request", Code: StandardErrCode}
	EmptyBodyErr                   = &Error{Detail: "request body is empty", Code: EmptyBodyErrCode}
	KeysetNotExistErr              = &Error{Detail: "keyset does not exist", Code: KeysetNotExistErrCode}
	UnknownKeysetErr               = &Error{Detail: "keyset unknown to mint", Code: UnknownKeysetErrCode}
	InactiveKeysetSignatureRequest = &Error{Detail: "keyset is not active", Code: InactiveKeysetErrCode}
	InvalidProofErr                = &Error{Detail: "invalid proof", Code: InvalidProofErrCode}
	ProofAlreadyUsedErr            = &Error{Detail: "proof already used", Code: ProofAlreadyUsedErrCode}
	ProofPendingErr                = &Error{Detail: "proof is pending", Code: ProofPendingErrCode}
	NoProofsProvided               = &Error{Detail: "no proofs provided", Code: NoProofsProvidedErrCode}
	DuplicateProofs                = &Error{Detail: "duplicate proofs provided", Code: DuplicateProofsErrCode}
	InvalidBlindedMessageAmount    = &Error{Detail: "invalid amount in blinded message", Code: InvalidBlindedMessageAmountErrCode}
	BlindedMessageAlreadySigned    = &Error{Detail: "blinded message already signed", Code: BlindedMessageAlreadySignedErrCode}
	OutputsAlreadySigned           = &Error{Detail: "output already signed", Code: OutputsAlreadySignedErrCode}
	OutputsOverQuoteAmountErr      = &Error{Detail: "sum of outputs greater than quote amount", Code: OutputsOverQuoteAmountErrCode}
	PaymentMethodNotSupportedErr   = &Error{Detail: "payment method not supported", Code: PaymentMethodNotSupportedErrCode}
	UnitNotSupportedErr            = &Error{Detail: "unit not supported", Code: UnitNotSupportedErrCode}
	UnitMismatchErr                = &Error{Detail: "inputs and outputs have different units", Code: UnitMismatchErrCode}
	AmountUnbalancedErr            = &Error{Detail: "inputs, outputs, and fees are not balanced", Code: AmountUnbalancedErrCode}
	FeeInsufficientErr             = &Error{Detail: "inputs do not cover required fees", Code: FeeInsufficientErrCode}
	MintAmountExceededErr          = &Error{Detail: "amount exceeds mint limit", Code: MintAmountExceededErrCode}
	MintingDisabled                = &Error{Detail: "minting is currently disabled", Code: MintingDisabledErrCode}
	MeltAmountExceededErr          = &Error{Detail: "amount exceeds melt limit", Code: MeltAmountExceededErrCode}
	MintQuoteRequestNotPaid        = &Error{Detail: "mint quote request has not been paid", Code: MintQuoteRequestNotPaidErrCode}
	MintQuoteAlreadyIssued         = &Error{Detail: "mint quote already issued", Code: MintQuoteAlreadyIssuedErrCode}
	MeltQuoteAlreadyPaid           = &Error{Detail: "melt quote already paid", Code: MeltQuoteAlreadyPaidErrCode}
	MeltQuotePending               = &Error{Detail: "melt quote is pending", Code: MeltQuotePendingErrCode}
	QuoteNotExistErr               = &Error{Detail: "quote does not exist", Code: QuoteNotExistErrCode}
	QuoteLockedErr                 = &Error{Detail: "another request is already settling this quote", Code: QuoteLockedErrCode}
	QuoteExpiredErr                = &Error{Detail: "quote has expired", Code: QuoteExpiredErrCode}
	InsufficientProofsAmount       = &Error{Detail: "amount in proofs is insufficient", Code: InsufficientProofsAmountErrCode}
	InvalidWitnessErr              = &Error{Detail: "invalid witness", Code: InvalidWitnessErrCode}
	ConditionFailedErr             = &Error{Detail: "spending condition not satisfied", Code: ConditionFailedErrCode}
)
