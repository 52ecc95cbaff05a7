// Package storage defines the persistence contract the mint engine drives:
// keysets, quotes, spent/pending proofs, and issued signatures. Every method
// here is expected to execute atomically; sqlite is the concrete
// implementation in mint/storage/sqlite.
package storage

import (
	"github.com/oceanslim/nutmint/cashu"
	"github.com/oceanslim/nutmint/cashu/nuts/nut04"
	"github.com/oceanslim/nutmint/cashu/nuts/nut05"
)

// DBKeyset is one row of the persisted keyset table. The private keys
// themselves are not stored; only the seed and derivation index needed to
// regenerate them at boot.
type DBKeyset struct {
	Id                string
	Unit              string
	Active            bool
	Seed              string
	DerivationPathIdx uint32
	InputFeePpk       uint
	ValidFrom         int64
	FirstSeen         int64
}

// DBProof is one row of the spent-proof or pending-proof table, keyed by Y
// (the hash-to-curve point of the secret) for O(1) duplicate lookup.
type DBProof struct {
	Amount      uint64
	Id          string
	Secret      string
	Y           string
	C           string
	Witness     string
	MeltQuoteId string
}

// MintQuote is a ticket tracking an inbound Lightning payment through
// Unpaid -> Paid -> Issued.
type MintQuote struct {
	Id             string
	Amount         uint64
	Unit           string
	PaymentRequest string
	PaymentHash    string
	State          nut04.State
	Expiry         uint64
	CreatedAt      int64
	PaidAt         int64
	Pubkey         string
}

// MeltQuote is a ticket tracking an outbound Lightning payment through
// Unpaid -> Pending -> (Paid | Unpaid).
type MeltQuote struct {
	Id             string
	InvoiceRequest string
	PaymentHash    string
	Unit           string
	Amount         uint64
	FeeReserve     uint64
	State          nut05.State
	Expiry         uint64
	Preimage       string
	// BlankOutputs are the wallet-supplied blank (amount-0) blinded messages
	// to sign fee-change into once the payment's actual cost is known. They
	// are persisted alongside the quote so an asynchronous resolution (a
	// later GetMeltQuoteState poll, or a restart mid-payment) can still
	// produce change without the caller resending them.
	BlankOutputs cashu.BlindedMessages
	Change       cashu.BlindedSignatures
	CreatedAt    int64
	IsMpp        bool
	AmountMsat   uint64
}

// MintDB is the persistence contract the engine drives. Implementations must
// make every method here atomic with respect to concurrent callers: the
// uniqueness constraints on secret/Y and on B_ are the anti-double-spend and
// anti-resign primitives, not an in-memory cache.
type MintDB interface {
	GetSeed() ([]byte, error)
	SaveSeed(seed []byte) error

	SaveKeyset(keyset DBKeyset) error
	GetKeysets() ([]DBKeyset, error)
	UpdateKeysetActive(id string, active bool) error

	SaveMintQuote(quote MintQuote) error
	GetMintQuote(id string) (MintQuote, error)
	GetMintQuoteByPaymentHash(hash string) (MintQuote, error)
	UpdateMintQuoteState(id string, state nut04.State) error

	SaveMeltQuote(quote MeltQuote) error
	GetMeltQuote(id string) (MeltQuote, error)
	GetMeltQuoteByPaymentRequest(invoice string) (*MeltQuote, error)
	UpdateMeltQuote(id, preimage string, state nut05.State) error
	// SetMeltQuoteBlankOutputs records the blank outputs a wallet supplied
	// for fee-change, so they survive a restart between the payment going
	// pending and it resolving.
	SetMeltQuoteBlankOutputs(id string, outputs cashu.BlindedMessages) error
	// SetMeltQuoteChange records the signed fee-change once a payment's
	// actual cost is known.
	SetMeltQuoteChange(id string, change cashu.BlindedSignatures) error
	ListPendingMeltQuotes() ([]MeltQuote, error)

	SaveBlindSignature(B_ string, signature cashu.BlindedSignature) error
	GetBlindSignature(B_ string) (cashu.BlindedSignature, error)
	GetBlindSignatures(B_s []string) (cashu.BlindedSignatures, error)

	SaveProofs(proofs cashu.Proofs) error
	GetProofsUsed(Ys []string) ([]DBProof, error)

	AddPendingProofs(proofs cashu.Proofs, meltQuoteId string) error
	GetPendingProofs(Ys []string) ([]DBProof, error)
	GetPendingProofsByQuote(quoteId string) ([]DBProof, error)
	RemovePendingProofs(Ys []string) error

	GetBalance() (uint64, error)
	// GetIssuedEcash and GetRedeemedEcash return the total issued (signed)
	// and redeemed (spent) amounts per keyset id.
	GetIssuedEcash() (map[string]uint64, error)
	GetRedeemedEcash() (map[string]uint64, error)

	Close() error
}
