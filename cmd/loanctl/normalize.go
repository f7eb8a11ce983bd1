package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
)

type normalizeCmd struct {
	out     io.Writer
	inPlace bool
}

func (*normalizeCmd) Name() string     { return "normalize" }
func (*normalizeCmd) Synopsis() string { return "rewrite the loans file in canonical form" }
func (*normalizeCmd) Usage() string {
	return `loanctl normalize [-w]

  Resolves legacy field names, lower-cases users and brings every loan's
  ownership into canonical form: the Market allocation is recomputed and
  loans without lots get them derived from their allocations.
  Prints the result unless -w is given.
`
}

func (c *normalizeCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.inPlace, "w", false, "write the result back to the loans file")
}

func (c *normalizeCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	b, err := readBook(*loansFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	engine := newEngine()
	for i := range b.loans {
		engine.Normalize(&b.loans[i])
	}

	if !c.inPlace {
		if err := writeBook(c.out, b); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}

	if err := writeBookFile(*loansFile, b); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Fprintf(c.out, "Loans file '%s' has been normalized (%d loans).\n", *loansFile, len(b.loans))
	return subcommands.ExitSuccess
}
