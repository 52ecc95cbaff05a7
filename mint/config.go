package mint

import (
	"fmt"
	"os"
	"strconv"

	"github.com/oceanslim/nutmint/mint/lightning"
)

// MintInfo is the operator-supplied identity fields for the mint; SetMintInfo
// folds these into the full nut06.MintInfo advertised at /v1/info, adding
// the pubkey and the nut-by-nut capability map the engine itself knows.
type MintInfo struct {
	Name            string
	Description     string
	LongDescription string
	Motd            string
	Contact         [][]string
}

// AmountLimits bounds the amount accepted for one operation (mint or melt).
// Zero means unbounded.
type AmountLimits struct {
	MinAmount uint64
	MaxAmount uint64
}

// MintLimits bounds what the engine will accept, independent of any single
// wallet's request: a ceiling on outstanding issued balance, and separate
// per-operation amount bounds for minting and melting.
type MintLimits struct {
	MaxBalance      uint64
	MintingSettings AmountLimits
	MeltingSettings AmountLimits
}

// Config is everything LoadMint needs to bring a mint up: where its
// database lives, the keyset to derive if none exists yet, the Lightning
// backend to settle quotes against, and the limits and identity to publish.
type Config struct {
	MintPath          string
	Port              string
	DerivationPathIdx uint32
	InputFeePpk       uint
	Limits            MintLimits
	LightningClient   lightning.Client
	MintInfo          MintInfo
	EventCursorPath   string
}

// ConfigFromEnv builds a Config from the MINT_* environment variables, the
// convention this mint's daemon entrypoint and its Docker image both use.
func ConfigFromEnv() (Config, error) {
	derivationIdx, err := envUint32("MINT_DERIVATION_PATH_IDX", 0)
	if err != nil {
		return Config{}, err
	}
	inputFeePpk, err := envUint("MINT_INPUT_FEE_PPK", 0)
	if err != nil {
		return Config{}, err
	}
	maxBalance, err := envUint64("MINT_MAX_BALANCE", 0)
	if err != nil {
		return Config{}, err
	}
	mintMin, err := envUint64("MINT_MINTING_MIN_AMOUNT", 0)
	if err != nil {
		return Config{}, err
	}
	mintMax, err := envUint64("MINT_MINTING_MAX_AMOUNT", 0)
	if err != nil {
		return Config{}, err
	}
	meltMin, err := envUint64("MINT_MELTING_MIN_AMOUNT", 0)
	if err != nil {
		return Config{}, err
	}
	meltMax, err := envUint64("MINT_MELTING_MAX_AMOUNT", 0)
	if err != nil {
		return Config{}, err
	}

	port := os.Getenv("MINT_PORT")
	if port == "" {
		port = "3338"
	}

	return Config{
		MintPath:          os.Getenv("MINT_DB_PATH"),
		Port:              port,
		DerivationPathIdx: derivationIdx,
		InputFeePpk:       inputFeePpk,
		EventCursorPath:   os.Getenv("MINT_EVENT_CURSOR_PATH"),
		Limits: MintLimits{
			MaxBalance:      maxBalance,
			MintingSettings: AmountLimits{MinAmount: mintMin, MaxAmount: mintMax},
			MeltingSettings: AmountLimits{MinAmount: meltMin, MaxAmount: meltMax},
		},
		MintInfo: MintInfo{
			Name:            os.Getenv("MINT_NAME"),
			Description:     os.Getenv("MINT_DESCRIPTION"),
			LongDescription: os.Getenv("MINT_DESCRIPTION_LONG"),
			Motd:            os.Getenv("MINT_MOTD"),
		},
	}, nil
}

func envUint64(name string, fallback uint64) (uint64, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", name, err)
	}
	return v, nil
}

func envUint32(name string, fallback uint32) (uint32, error) {
	v, err := envUint64(name, uint64(fallback))
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func envUint(name string, fallback uint) (uint, error) {
	v, err := envUint64(name, uint64(fallback))
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}
