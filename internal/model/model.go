// Package model defines the loan records shared across the ownership engine,
// the stores and the HTTP layer.
// All monetary values and ownership fractions use shopspring/decimal.
package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

func init() {
	// Loan records are persisted with plain JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// Loan is one purchased loan. Only the ownership fields are interpreted by
// the ownership engine; the financial terms are carried for reporting.
type Loan struct {
	ID            string          `json:"id"`
	LoanID        string          `json:"loanId,omitempty"`
	LoanName      string          `json:"loanName"`
	User          string          `json:"user,omitempty"`
	Visible       bool            `json:"visible"`
	NominalRate   decimal.Decimal `json:"nominalRate"`
	Principal     decimal.Decimal `json:"principal"`
	PurchasePrice decimal.Decimal `json:"purchasePrice"`
	TermYears     decimal.Decimal `json:"termYears"`
	GraceYears    decimal.Decimal `json:"graceYears"`
	LoanStartDate Date            `json:"loanStartDate"`
	PurchaseDate  Date            `json:"purchaseDate"`

	// Ownership is the declarative allocation model. Nil until the first
	// normalization when the record did not carry one.
	Ownership *Ownership `json:"ownership,omitempty"`

	// OwnershipLots is the authoritative tranche list. A nil slice means the
	// loan has not been normalized yet; an empty slice is a normalized loan
	// with no lots and must survive a JSON round trip.
	OwnershipLots []OwnershipLot `json:"ownershipLots"`

	// Extra holds every field the record carried that is not listed above.
	Extra map[string]json.RawMessage `json:"-"`
}

// Ownership is the percentage allocation model of a loan.
type Ownership struct {
	Unit        string                `json:"unit,omitempty"`
	Step        int                   `json:"step,omitempty"`
	Allocations []OwnershipAllocation `json:"allocations"`
}

// OwnershipAllocation states that User holds Percent (0–100) of the loan.
type OwnershipAllocation struct {
	User    string          `json:"user"`
	Percent decimal.Decimal `json:"percent"`
}

// OwnershipLot is one priced tranche: User paid PricePaid for fraction Pct
// (0–1) of the loan on PurchaseDate.
type OwnershipLot struct {
	User         string          `json:"user"`
	Pct          decimal.Decimal `json:"pct"`
	PricePaid    decimal.Decimal `json:"pricePaid"`
	PurchaseDate Date            `json:"purchaseDate"`
}

// LoanBook is the persisted loan collection together with the optimistic
// concurrency token of the revision it was read from.
type LoanBook struct {
	Loans []Loan `json:"loans"`
	SHA   string `json:"sha,omitempty"`
}

// Find returns the loan with the given id, or nil.
func (b *LoanBook) Find(id string) *Loan {
	for i := range b.Loans {
		if b.Loans[i].ID == id {
			return &b.Loans[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the loan.
func (l Loan) Clone() Loan {
	c := l
	if l.Ownership != nil {
		o := *l.Ownership
		if l.Ownership.Allocations != nil {
			o.Allocations = make([]OwnershipAllocation, len(l.Ownership.Allocations))
			copy(o.Allocations, l.Ownership.Allocations)
		}
		c.Ownership = &o
	}
	if l.OwnershipLots != nil {
		c.OwnershipLots = make([]OwnershipLot, len(l.OwnershipLots))
		copy(c.OwnershipLots, l.OwnershipLots)
	}
	if l.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(l.Extra))
		for k, v := range l.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return c
}

// CloneLoans deep-copies a loan slice.
func CloneLoans(loans []Loan) []Loan {
	if loans == nil {
		return nil
	}
	out := make([]Loan, len(loans))
	for i := range loans {
		out[i] = loans[i].Clone()
	}
	return out
}

// Fees are the platform-wide fee settings.
type Fees struct {
	SetupFee            decimal.Decimal `json:"setupFee"`
	MonthlyServicingBps decimal.Decimal `json:"monthlyServicingBps"`
}

// PlatformUser is one investor known to the platform.
type PlatformUser struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	FeePolicy string `json:"feePolicy"`
	Active    bool   `json:"active"`
}

// PlatformConfig is the platform configuration snapshot. SHA is the saved
// document's concurrency token; it is empty for a configuration that did not
// come from the store.
type PlatformConfig struct {
	Fees  Fees                    `json:"fees"`
	Users map[string]PlatformUser `json:"users"`
	SHA   string                  `json:"sha,omitempty"`
}

// Clone returns a deep copy of the configuration.
func (c *PlatformConfig) Clone() *PlatformConfig {
	out := *c
	if c.Users != nil {
		out.Users = make(map[string]PlatformUser, len(c.Users))
		for id, u := range c.Users {
			out.Users[id] = u
		}
	}
	return &out
}
