package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"github.com/loanreport/ownership-engine/internal/ownership"
)

type validateCmd struct {
	out        io.Writer
	normalized bool
}

func (*validateCmd) Name() string     { return "validate" }
func (*validateCmd) Synopsis() string { return "report ownership problems in the loans file" }
func (*validateCmd) Usage() string {
	return `loanctl validate [-normalized]

  Reports over-allocations, Market-owned lots, lot totals above the whole
  loan and other ownership problems. By default loans are checked as
  stored; -normalized checks them after normalization, which hides the
  problems normalization repairs. Exits non-zero when a problem is found.
`
}

func (c *validateCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.normalized, "normalized", false, "normalize loans before checking them")
}

func (c *validateCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	b, err := readBook(*loansFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	engine := newEngine()
	count := 0
	for i := range b.loans {
		l := &b.loans[i]
		if c.normalized {
			engine.Normalize(l)
		}
		for _, w := range ownership.Validate(l) {
			fmt.Fprintf(c.out, "%s\t%s\t%s\n", l.ID, w.Code, w.Message)
			count++
		}
	}

	if count > 0 {
		fmt.Fprintf(c.out, "%d problem(s) in %d loans\n", count, len(b.loans))
		return subcommands.ExitFailure
	}
	fmt.Fprintf(c.out, "%d loans OK\n", len(b.loans))
	return subcommands.ExitSuccess
}
