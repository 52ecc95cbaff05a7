// Package nut03 defines the swap request/response wire types.
package nut03

import "github.com/oceanslim/nutmint/cashu"

type PostSwapRequest struct {
	Inputs  cashu.Proofs         `json:"inputs"`
	Outputs cashu.BlindedMessages `json:"outputs"`
}

type PostSwapResponse struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}
