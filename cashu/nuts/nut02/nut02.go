// Package nut02 defines the /v1/keysets response: every keyset the mint
// knows about, active or not, with its fee schedule.
package nut02

type Keyset struct {
	Id          string `json:"id"`
	Unit        string `json:"unit"`
	Active      bool   `json:"active"`
	InputFeePpk uint   `json:"input_fee_ppk"`
}

type GetKeysetsResponse struct {
	Keysets []Keyset `json:"keysets"`
}
