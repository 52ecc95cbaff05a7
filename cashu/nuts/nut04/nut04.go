// Package nut04 defines the mint-quote state machine and its request/response
// wire types.
package nut04

import "github.com/oceanslim/nutmint/cashu"

// State is the mint quote lifecycle: Unpaid -> Paid -> Issued (terminal), or
// Unpaid -> Expired.
type State int

const (
	Unpaid State = iota
	Paid
	Issued
	Expired
)

func (s State) String() string {
	switch s {
	case Unpaid:
		return "UNPAID"
	case Paid:
		return "PAID"
	case Issued:
		return "ISSUED"
	case Expired:
		return "EXPIRED"
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
	case `"PAID"`:
		*s = Paid
	case `"ISSUED"`:
		*s = Issued
	case `"EXPIRED"`:
		*s = Expired
	}
	return nil
}

type PostMintQuoteBolt11Request struct {
	Amount uint64 `json:"amount"`
	Unit   string `json:"unit"`
}

type PostMintQuoteBolt11Response struct {
	Quote   string `json:"quote"`
	Request string `json:"request"`
	State   State  `json:"state"`
	Paid    bool   `json:"paid"` // deprecated: kept for older wallets
	Expiry  uint64 `json:"expiry"`
}

type PostMintBolt11Request struct {
	Quote   string                `json:"quote"`
	Outputs cashu.BlindedMessages `json:"outputs"`
}

type PostMintBolt11Response struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}
