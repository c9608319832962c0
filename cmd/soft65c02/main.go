// Command soft65c02 runs a DSL test script against the 65C02 core and
// reports pass/fail per test plan, exiting non-zero on any assertion
// failure or parse error (spec.md §6). Flag handling follows the
// cli.App pattern the rest of this corpus reaches for over the bare
// flag package: named flags with aliases, a Usage string, an Action
// closure doing the one job.
package main

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/urfave/cli.v2"

	"github.com/soft65c02/soft65c02/dsl"
)

func main() {
	app := &cli.App{
		Name:    "soft65c02",
		Usage:   "run a DSL test script against the 65C02 simulator",
		Version: "v0.1.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "continue-on-failure",
				Aliases: []string{"k"},
				Usage:   "keep running a test plan's remaining assertions after a failure",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				cli.ShowAppHelp(c)
				return cli.Exit("expected exactly one script argument", 2)
			}

			path := c.Args().Get(0)
			data, err := os.ReadFile(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("reading script %q: %v", path, err), 1)
			}

			ctx := dsl.NewContext(os.Stdout)
			ctx.ContinueOnFailure = c.Bool("continue-on-failure")

			if _, err := dsl.RunWithContext(string(data), ctx); err != nil {
				return cli.Exit(fmt.Sprintf("%v", err), 1)
			}
			if !ctx.AllPassed() {
				return cli.Exit("", 1)
			}
			return nil
		},
	}

	sort.Sort(cli.FlagsByName(app.Flags))
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}
