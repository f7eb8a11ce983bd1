// Package ownership is the single source of truth for who owns which
// fraction of a loan.
//
// A loan carries two ownership representations: the declarative allocation
// list (whole-loan percentages, with the reserved Market owner holding the
// unsold remainder) and the lot list (priced tranches). Normalize reconciles
// them once; afterwards the lot list is authoritative and every query reads
// it. Allocations are never re-derived from lots.
//
// Nothing in this package performs I/O or returns an error: missing fields
// are defaulted so that a report is never blocked on bad data. Use Validate
// to surface the states that defaulting hides.
package ownership

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/loanreport/ownership-engine/internal/model"
)

const (
	// MarketUser is the reserved pseudo-owner of the unsold remainder. It is
	// never a real investor and never appears in a lot list.
	MarketUser = "Market"

	// DefaultStep is the percentage granularity UI editors snap to. The
	// engine carries it on Ownership.Step but does not round to it.
	DefaultStep = 5

	// DefaultOwner owns the bootstrap lot of a loan without a user.
	DefaultOwner = "jeff"

	// UnitPercent is the unit of allocation percentages.
	UnitPercent = "percent"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Engine normalizes loan ownership. It is stateless apart from its
// defaults and safe to share between goroutines; the loans it mutates are
// not.
type Engine struct {
	step         int
	defaultOwner string
}

// NewEngine creates an engine. A non-positive step falls back to
// DefaultStep, and a blank or Market owner to DefaultOwner.
func NewEngine(step int, defaultOwner string) *Engine {
	if step <= 0 {
		step = DefaultStep
	}
	if strings.TrimSpace(defaultOwner) == "" || IsMarket(defaultOwner) {
		defaultOwner = DefaultOwner
	}
	return &Engine{step: step, defaultOwner: defaultOwner}
}

// Step returns the allocation step written to new ownership models.
func (e *Engine) Step() int { return e.step }

// DefaultOwner returns the fallback owner of bootstrap lots.
func (e *Engine) DefaultOwner() string { return e.defaultOwner }

// Normalize reconciles the loan's ownership in place.
//
// Allocation conservation always runs: the Market entry is rebuilt as
// max(0, 100 - sum of the other allocations) and placed last. Lot derivation
// only runs while the loan has no lot list, so a second call never changes
// the lots. A nil loan is left alone.
func (e *Engine) Normalize(loan *model.Loan) {
	if loan == nil {
		return
	}
	e.conserveAllocations(loan)
	if loan.OwnershipLots == nil {
		loan.OwnershipLots = e.deriveLots(loan)
	}
}

func (e *Engine) conserveAllocations(loan *model.Loan) {
	if loan.Ownership == nil {
		loan.Ownership = &model.Ownership{
			Unit:        UnitPercent,
			Step:        e.step,
			Allocations: []model.OwnershipAllocation{{User: MarketUser, Percent: hundred}},
		}
	}

	held := heldAllocations(loan.Ownership.Allocations)
	assigned := decimal.Zero
	for _, a := range held {
		assigned = assigned.Add(a.Percent)
	}
	// Over-allocation is not rejected here; Market just bottoms out at 0.
	market := decimal.Max(decimal.Zero, hundred.Sub(assigned))

	loan.Ownership.Allocations = append(held, model.OwnershipAllocation{User: MarketUser, Percent: market})
}

// deriveLots bootstraps the lot list from the conserved allocations. Every
// lot gets the loan's single purchase price and date.
func (e *Engine) deriveLots(loan *model.Loan) []model.OwnershipLot {
	held := heldAllocations(loan.Ownership.Allocations)

	if len(held) == 0 {
		// Market cannot own a lot, even when it is the loan's user.
		owner := loan.User
		if strings.TrimSpace(owner) == "" || IsMarket(owner) {
			owner = e.defaultOwner
		}
		return []model.OwnershipLot{{
			User:         owner,
			Pct:          one,
			PricePaid:    loan.PurchasePrice,
			PurchaseDate: loan.PurchaseDate,
		}}
	}

	lots := make([]model.OwnershipLot, 0, len(held))
	for _, a := range held {
		lots = append(lots, model.OwnershipLot{
			User:         a.User,
			Pct:          a.Percent.Div(hundred),
			PricePaid:    loan.PurchasePrice,
			PurchaseDate: loan.PurchaseDate,
		})
	}
	return lots
}

// heldAllocations returns the non-market allocations in their original
// order, in a fresh slice.
func heldAllocations(allocs []model.OwnershipAllocation) []model.OwnershipAllocation {
	held := make([]model.OwnershipAllocation, 0, len(allocs)+1)
	for _, a := range allocs {
		if IsMarket(a.User) {
			continue
		}
		held = append(held, a)
	}
	return held
}

// UserKey canonicalizes a user identifier for comparison.
func UserKey(user string) string {
	return strings.ToLower(strings.TrimSpace(user))
}

// IsMarket reports whether user names the reserved Market owner.
func IsMarket(user string) bool {
	return UserKey(user) == strings.ToLower(MarketUser)
}
