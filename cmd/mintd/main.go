package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/oceanslim/nutmint/mint"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "mintd",
		Usage: "a Cashu ecash mint backed by Lightning",
		Commands: []*cli.Command{
			runCommand,
			infoCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "mintd: %v\n", err)
		os.Exit(1)
	}
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "start the mint server",
	Action: func(cCtx *cli.Context) error {
		config, err := mint.ConfigFromEnv()
		if err != nil {
			return fmt.Errorf("error reading mint config: %v", err)
		}

		config.LightningClient, err = lightningClientFromEnv()
		if err != nil {
			return fmt.Errorf("error setting up lightning backend: %v", err)
		}

		server, err := mint.SetupMintServer(config)
		if err != nil {
			return fmt.Errorf("error setting up mint: %v", err)
		}

		mint.StartMintServer(server)
		return nil
	},
}

var infoCommand = &cli.Command{
	Name:  "info",
	Usage: "print the mint's active keyset id and pubkey",
	Action: func(cCtx *cli.Context) error {
		config, err := mint.ConfigFromEnv()
		if err != nil {
			return fmt.Errorf("error reading mint config: %v", err)
		}

		config.LightningClient, err = lightningClientFromEnv()
		if err != nil {
			return fmt.Errorf("error setting up lightning backend: %v", err)
		}

		m, err := mint.LoadMint(config)
		if err != nil {
			return fmt.Errorf("error loading mint: %v", err)
		}

		info, err := m.RetrieveMintInfo()
		if err != nil {
			return fmt.Errorf("error retrieving mint info: %v", err)
		}

		fmt.Printf("name: %s\n", info.Name)
		fmt.Printf("version: %s\n", info.Version)
		fmt.Printf("pubkey: %s\n", info.Pubkey)
		fmt.Printf("active keyset: %s\n", m.GetActiveKeyset().Id)
		return nil
	},
}
