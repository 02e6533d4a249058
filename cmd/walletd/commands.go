package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/urfave/cli/v2"

	"invisible/internal/crypto"
	"invisible/internal/disclosure"
)

var commandKeys = &cli.Command{
	Name:  "keys",
	Usage: "print the user id and the deposit stark key of a token",
	Flags: []cli.Flag{tokenFlag, jsonFlag},
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		id, err := identity(cfg)
		if err != nil {
			return err
		}
		token := uint32(ctx.Uint(tokenFlag.Name))
		out := struct {
			UserID          string `json:"user_id"`
			Token           uint32 `json:"token"`
			DepositStarkKey string `json:"deposit_stark_key"`
		}{id.UserID(), token, id.DepositStarkKey(token).String()}

		if ctx.Bool(jsonFlag.Name) {
			return printJSON(ctx.App.Writer, out)
		}
		fmt.Fprintln(ctx.App.Writer, "User id:", out.UserID)
		fmt.Fprintf(ctx.App.Writer, "Deposit stark key (token %d): %s\n", token, out.DepositStarkKey)
		return nil
	},
}

var commandBalance = &cli.Command{
	Name:  "balance",
	Usage: "log in and print the spendable amount per token",
	Flags: []cli.Flag{jsonFlag},
	Action: func(ctx *cli.Context) error {
		d, err := newDaemon(ctx)
		if err != nil {
			return err
		}
		defer d.close()
		if err := d.login(ctx.Context); err != nil {
			return err
		}

		tokens := d.session.Tokens()
		sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })
		balances := make(map[uint32]uint64, len(tokens))
		for _, t := range tokens {
			balances[t] = d.session.AvailableAmount(t)
		}
		if ctx.Bool(jsonFlag.Name) {
			return printJSON(ctx.App.Writer, balances)
		}
		for _, t := range tokens {
			fmt.Fprintf(ctx.App.Writer, "%d\t%d\n", t, balances[t])
		}
		return nil
	},
}

var indexFlag = &cli.Uint64Flag{
	Name:     "index",
	Usage:    "state index of the note to disclose",
	Required: true,
}

var commandDisclose = &cli.Command{
	Name:  "disclose",
	Usage: "prove the amount of one of the wallet's notes",
	Flags: []cli.Flag{tokenFlag, indexFlag},
	Action: func(ctx *cli.Context) error {
		d, err := newDaemon(ctx)
		if err != nil {
			return err
		}
		defer d.close()
		if err := d.login(ctx.Context); err != nil {
			return err
		}

		token := uint32(ctx.Uint(tokenFlag.Name))
		index := ctx.Uint64(indexFlag.Name)
		for _, n := range d.session.Notes(token) {
			if n.Index != index {
				continue
			}
			k, err := disclosure.SetupOrLoadKeys(d.cfg.DisclosureKeyDir)
			if err != nil {
				return err
			}
			proof, err := k.Prove(n)
			if err != nil {
				return err
			}
			d.log.Audit("note_disclosed", map[string]interface{}{
				"token":   token,
				"index":   index,
				"address": crypto.AddressKey(n.Address),
			})
			return printJSON(ctx.App.Writer, proof)
		}
		return fmt.Errorf("no note %d for token %d", index, token)
	},
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
