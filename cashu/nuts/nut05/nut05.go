// Package nut05 defines the melt-quote state machine and its request/response
// wire types.
package nut05

import "github.com/oceanslim/nutmint/cashu"

// State is the melt quote lifecycle: Unpaid -> Pending -> (Paid | Unpaid).
type State int

const (
	Unpaid State = iota
	Pending
	Paid
)

func (s State) String() string {
	switch s {
	case Unpaid:
		return "UNPAID"
	case Pending:
		return "PENDING"
	case Paid:
		return "PAID"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *State) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"UNPAID"`:
		*s = Unpaid
	case `"PENDING"`:
		*s = Pending
	case `"PAID"`:
		*s = Paid
	}
	return nil
}

type PostMeltQuoteBolt11Request struct {
	Request string `json:"request"`
	Unit    string `json:"unit"`
}

type PostMeltQuoteBolt11Response struct {
	Quote      string                `json:"quote"`
	Amount     uint64                `json:"amount"`
	FeeReserve uint64                `json:"fee_reserve"`
	State      State                 `json:"state"`
	Paid       bool                  `json:"paid"` // deprecated: kept for older wallets
	Expiry     uint64                `json:"expiry"`
	Preimage   string                `json:"payment_preimage,omitempty"`
	Change     cashu.BlindedSignatures `json:"change,omitempty"`
}

type PostMeltBolt11Request struct {
	Quote   string                `json:"quote"`
	Inputs  cashu.Proofs          `json:"inputs"`
	Outputs cashu.BlindedMessages `json:"outputs,omitempty"`
}
