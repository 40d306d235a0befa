package main

import (
	"fmt"

	mcobra "github.com/muesli/mango-cobra"
	"github.com/muesli/roff"
	"github.com/spf13/cobra"
)

var manCmd = &cobra.Command{
	Use:                   "man",
	Short:                 "Generate man pages",
	DisableFlagsInUseLine: true,
	Hidden:                true,
	Args:                  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		page, err := mcobra.NewManPage(1, rootCmd)
		if err != nil {
			return err //nolint:wrapcheck
		}

		page = page.WithSection("Copyright", "(C) 2025 dgnsrekt.\n"+
			"Released under MIT license.")
		page = page.WithSection("Protocol", protocolSection())
		fmt.Println(page.Build(roff.NewDocument()))
		return nil
	},
}

func protocolSection() string {
	return "decwav reads pairs of lines from standard input: an output path, then the text to speak.\n" +
		"It prints Ready once the engine is started, then Success or\n" +
		"ERROR: <operation> returned code <code> for every request.\n" +
		"The exit status is 0 when input ends cleanly and 1 on any fatal failure."
}
