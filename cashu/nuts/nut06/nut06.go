// Package nut06 defines the mint info response and its per-NUT settings map.
package nut06

// NutsMap holds one entry per supported NUT. Entries 4 and 5 carry full
// method/unit/limit settings; the rest are flag-only support maps (some
// mints also attach richer settings to other NUTs, hence `any`).
type NutsMap map[int]any

type MethodSetting struct {
	Method    string `json:"method"`
	Unit      string `json:"unit"`
	MinAmount uint64 `json:"min_amount,omitempty"`
	MaxAmount uint64 `json:"max_amount,omitempty"`
}

type NutSetting struct {
	Methods  []MethodSetting `json:"methods"`
	Disabled bool            `json:"disabled"`
}

type MintInfo struct {
	Name            string     `json:"name"`
	Version         string     `json:"version"`
	Pubkey          string     `json:"pubkey"`
	Description     string     `json:"description,omitempty"`
	LongDescription string     `json:"description_long,omitempty"`
	Contact         [][]string `json:"contact,omitempty"`
	Motd            string     `json:"motd,omitempty"`
	Nuts            NutsMap    `json:"nuts"`
}
