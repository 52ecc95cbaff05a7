// Package nut10 parses and serializes the well-known secret format: a tagged
// tuple ["KIND", {nonce, data, tags}] that P2PK, HTLC, and SCT secrets are all
// instances of.
package nut10

import (
	"encoding/json"
	"errors"
)

type SecretKind string

const (
	P2PK SecretKind = "P2PK"
	HTLC SecretKind = "HTLC"
	SCT  SecretKind = "SCT"
)

// WellKnownSecretData is the second element of the tagged tuple.
type WellKnownSecretData struct {
	Nonce string     `json:"nonce"`
	Data  string     `json:"data"`
	Tags  [][]string `json:"tags,omitempty"`
}

// WellKnownSecret is the full parsed secret: kind plus its data.
type WellKnownSecret struct {
	Kind SecretKind
	WellKnownSecretData
}

// MarshalJSON renders the secret as the two-element tagged array the wire
// format uses: ["KIND", {...}].
func (s WellKnownSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{s.Kind, s.WellKnownSecretData})
}

func (s *WellKnownSecret) UnmarshalJSON(data []byte) error {
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	var kind string
	if err := json.Unmarshal(tuple[0], &kind); err != nil {
		return err
	}
	var body WellKnownSecretData
	if err := json.Unmarshal(tuple[1], &body); err != nil {
		return err
	}
	s.Kind = SecretKind(kind)
	s.WellKnownSecretData = body
	return nil
}

// IsWellKnownSecret reports whether the given raw secret parses as the
// ["KIND", {...}] tagged tuple (as opposed to an opaque random string).
func IsWellKnownSecret(secret string) bool {
	_, err := DeserializeSecret(secret)
	return err == nil
}

// DeserializeSecret parses a proof's secret field into a WellKnownSecret. A
// secret that is not the tagged-tuple form returns an error; callers treat
// that as "plain opaque secret", not a hard failure.
func DeserializeSecret(secret string) (WellKnownSecret, error) {
	var s WellKnownSecret
	if len(secret) == 0 {
		return s, errors.New("empty secret")
	}
	if secret[0] != '[' {
		return s, errors.New("not a well-known secret")
	}
	if err := json.Unmarshal([]byte(secret), &s); err != nil {
		return s, err
	}
	return s, nil
}

func (s WellKnownSecret) Serialize() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Tag returns the first value of the named tag, if present.
func Tag(tags [][]string, name string) (string, bool) {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1], true
		}
	}
	return "", false
}

// TagValues returns every value listed after the tag name (for tags like
// pubkeys that carry a variable-length list).
func TagValues(tags [][]string, name string) []string {
	for _, tag := range tags {
		if len(tag) >= 1 && tag[0] == name {
			return tag[1:]
		}
	}
	return nil
}
