package ownership

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/loanreport/ownership-engine/internal/model"
)

// WarningCode categorizes ownership warnings.
type WarningCode string

const (
	WarnNotNormalized       WarningCode = "OWN001" // no lot list yet
	WarnOverAllocated       WarningCode = "OWN002" // allocations above 100%, Market clamped
	WarnMarketLot           WarningCode = "OWN003" // Market owns a lot
	WarnLotsExceedLoan      WarningCode = "OWN004" // lot fractions above 1
	WarnLotPctOutOfRange    WarningCode = "OWN005"
	WarnPercentOutOfRange   WarningCode = "OWN006"
	WarnMarketNotConserving WarningCode = "OWN007" // Market entry missing or stale
)

// Warning is a non-fatal ownership problem. Normalization silently absorbs
// all of them; Validate is how operators get to see them.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

// Validate inspects the loan without changing it.
func Validate(loan *model.Loan) []Warning {
	if loan == nil {
		return nil
	}
	var warnings []Warning
	warn := func(code WarningCode, format string, args ...any) {
		warnings = append(warnings, Warning{Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if loan.OwnershipLots == nil {
		warn(WarnNotNormalized, "loan %s has no ownership lots", loan.ID)
	}

	if loan.Ownership != nil {
		assigned := decimal.Zero
		markets := 0
		for _, a := range loan.Ownership.Allocations {
			if a.Percent.IsNegative() || a.Percent.GreaterThan(hundred) {
				warn(WarnPercentOutOfRange, "allocation of %q is %s%%, outside 0-100", a.User, a.Percent)
			}
			if IsMarket(a.User) {
				markets++
				continue
			}
			assigned = assigned.Add(a.Percent)
		}
		if assigned.GreaterThan(hundred) {
			warn(WarnOverAllocated, "allocations total %s%%, Market clamped to 0", assigned)
		}
		expected := decimal.Max(decimal.Zero, hundred.Sub(assigned))
		if markets != 1 || !MarketPct(loan).Equal(expected) {
			warn(WarnMarketNotConserving, "Market should hold %s%%", expected)
		}
	}

	for i, l := range loan.OwnershipLots {
		if IsMarket(l.User) {
			warn(WarnMarketLot, "lot %d is owned by the reserved %s owner", i, MarketUser)
		}
		if l.Pct.IsNegative() || l.Pct.GreaterThan(one) {
			warn(WarnLotPctOutOfRange, "lot %d fraction %s is outside 0-1", i, l.Pct)
		}
	}
	if total := LotTotal(loan); total.GreaterThan(one) {
		warn(WarnLotsExceedLoan, "lots total %s of the loan", total)
	}

	return warnings
}
