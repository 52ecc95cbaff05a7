// Package nut07 defines the proof-state check request/response: given a set
// of Ys, report whether each is unspent, pending, or spent.
package nut07

type State int

const (
	Unspent State = iota
	Pending
	Spent
)

func (s State) String() string {
	switch s {
	case Unspent:
		return "UNSPENT"
	case Pending:
		return "PENDING"
	case Spent:
		return "SPENT"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

type ProofState struct {
	Y      string `json:"Y"`
	State  State  `json:"state"`
	Witness string `json:"witness,omitempty"`
	C      string `json:"C,omitempty"`
}

type PostCheckStateRequest struct {
	Ys []string `json:"Ys"`
}

type PostCheckStateResponse struct {
	States []ProofState `json:"states"`
}
