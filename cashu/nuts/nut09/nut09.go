// Package nut09 defines the restore-signatures request/response: given a set
// of previously-derived outputs, return the mint's original signature for any
// that were already signed, without ever signing anew.
package nut09

import "github.com/oceanslim/nutmint/cashu"

type PostRestoreRequest struct {
	Outputs cashu.BlindedMessages `json:"outputs"`
}

type PostRestoreResponse struct {
	Outputs    cashu.BlindedMessages   `json:"outputs"`
	Signatures cashu.BlindedSignatures `json:"signatures"`
}
