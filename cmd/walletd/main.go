// walletd runs a user's wallet session against the exchange: it logs in from the persistence
// store, keeps the note ledger reconciled with the exchange's open orders and reports health.
//
// Usage:
//
//	walletd --config wallet.json run
//	walletd keys --token 55555
//	walletd balance
//	walletd disclose --token 55555 --index 17
//
// The master key is read from WALLET_PRIV_KEY (or a .env file), never from the config file.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Set via linker flags.
var version = "dev"

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "wallet.json",
		Usage:   "path to the JSON config file",
	}
	envFileFlag = &cli.StringSliceFlag{
		Name:  "env-file",
		Usage: "dotenv files to load before reading the environment",
	}
	tokenFlag = &cli.UintFlag{
		Name:  "token",
		Usage: "token id",
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "output JSON instead of human-readable format",
	}
)

func newApp() *cli.App {
	return &cli.App{
		Name:    "walletd",
		Usage:   "privacy exchange wallet daemon",
		Version: version,
		Flags:   []cli.Flag{configFlag, envFileFlag},
		Commands: []*cli.Command{
			commandRun,
			commandKeys,
			commandBalance,
			commandDisclose,
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
