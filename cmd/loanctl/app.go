package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"github.com/loanreport/ownership-engine/internal/loan"
	"github.com/loanreport/ownership-engine/internal/model"
	"github.com/loanreport/ownership-engine/internal/ownership"
)

var (
	loansFile    = flag.String("loans-file", "loans.json", "Path to the loans file ({\"loans\": [...]} or a bare array)")
	defaultOwner = flag.String("default-owner", ownership.DefaultOwner, "Owner assigned to records without a user")
	step         = flag.Int("step", ownership.DefaultStep, "Percentage step recorded on new ownership blocks")
)

func commands(out io.Writer) []subcommands.Command {
	return []subcommands.Command{
		&normalizeCmd{out: out},
		&ownershipCmd{out: out},
		&validateCmd{out: out},
	}
}

// book is a decoded loans file.
type book struct {
	loans []model.Loan
	sha   string
}

// readBook reads the loans file and applies the record normalizer. Ownership
// is left as stored.
func readBook(path string) (*book, error) {
	doc, err := loan.ReadFile(path)
	if err != nil {
		return nil, err
	}
	loans, err := loan.NewNormalizer(*defaultOwner).Records(doc.Loans)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &book{loans: loans, sha: doc.SHA}, nil
}

func newEngine() *ownership.Engine {
	return ownership.NewEngine(*step, *defaultOwner)
}

func writeBook(w io.Writer, b *book) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(model.LoanBook{Loans: b.loans, SHA: b.sha})
}

func writeBookFile(path string, b *book) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error opening loans file %q for writing: %w", path, err)
	}
	if err := writeBook(f, b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
