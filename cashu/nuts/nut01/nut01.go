// Package nut01 defines the /v1/keys response: the mint's active keysets and
// their public keys per denomination.
package nut01

// Keyset is one keyset's public keys, keyed by denomination amount as a
// string (hex-encoded amounts are not used; the NUT-01 wire format indexes by
// decimal amount string).
type Keyset struct {
	Id   string            `json:"id"`
	Unit string            `json:"unit"`
	Keys map[uint64]string `json:"keys"`
}

type GetKeysResponse struct {
	Keysets []Keyset `json:"keysets"`
}
