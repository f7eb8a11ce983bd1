package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/loanreport/ownership-engine/internal/ownership"
)

type ownershipCmd struct {
	out  io.Writer
	user string
	all  bool
}

func (*ownershipCmd) Name() string     { return "ownership" }
func (*ownershipCmd) Synopsis() string { return "show a user's share of each loan" }
func (*ownershipCmd) Usage() string {
	return `loanctl ownership -user <user> [-all]

  Lists the loans owned by the user with the user's share and the share
  still held by Market. Hidden loans and loans the user does not own are
  skipped unless -all is given.
`
}

func (c *ownershipCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "user to report on")
	f.BoolVar(&c.all, "all", false, "include hidden loans and loans the user does not own")
}

func (c *ownershipCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if strings.TrimSpace(c.user) == "" {
		fmt.Fprintln(os.Stderr, "ownership: -user is required")
		return subcommands.ExitUsageError
	}

	b, err := readBook(*loansFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	engine := newEngine()
	hundred := decimal.NewFromInt(100)
	listed := 0

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOAN\tNAME\tOWNED %\tMARKET %")
	for i := range b.loans {
		l := &b.loans[i]
		engine.Normalize(l)
		owned := ownership.IsOwnedBy(l, c.user)
		if !c.all && (!l.Visible || !owned) {
			continue
		}
		pct := ownership.UserPct(l, c.user)
		listed++
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			l.ID, l.LoanName, pct.Mul(hundred).StringFixed(2), ownership.MarketPct(l).StringFixed(2))
	}
	fmt.Fprintf(tw, "TOTAL\t%d loans\t\t\n", listed)
	if err := tw.Flush(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
