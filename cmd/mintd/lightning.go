package main

import (
	"errors"
	"os"

	"github.com/oceanslim/nutmint/mint/lightning"
)

// lightningClientFromEnv picks a Lightning backend from the MINT_LIGHTNING_BACKEND
// environment variable ("cln" or "lnd") and builds it from the matching
// MINT_CLN_*/MINT_LND_* variables.
func lightningClientFromEnv() (lightning.Client, error) {
	switch os.Getenv("MINT_LIGHTNING_BACKEND") {
	case "lnd":
		return lightning.SetupLndClient(lightning.LndConfig{
			Host:         os.Getenv("MINT_LND_HOST"),
			CertPath:     os.Getenv("MINT_LND_CERT_PATH"),
			MacaroonPath: os.Getenv("MINT_LND_MACAROON_PATH"),
		})
	case "cln", "":
		return lightning.SetupCLNClient(lightning.CLNConfig{
			RestURL: os.Getenv("MINT_CLN_REST_URL"),
			Rune:    os.Getenv("MINT_CLN_RUNE"),
		})
	default:
		return nil, errors.New("unknown MINT_LIGHTNING_BACKEND, expected \"cln\" or \"lnd\"")
	}
}
