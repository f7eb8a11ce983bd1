package ownership

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/loanreport/ownership-engine/internal/model"
)

// UserPct returns the fraction (0–1) of the loan held by user.
//
// A normalized loan sums every lot the user holds. A loan without a lot
// list falls back to its allocation entry; that path exists for legacy
// records only and callers should normalize first.
func UserPct(loan *model.Loan, user string) decimal.Decimal {
	if loan == nil {
		return decimal.Zero
	}
	key := UserKey(user)

	if loan.OwnershipLots != nil {
		total := decimal.Zero
		for _, l := range loan.OwnershipLots {
			if UserKey(l.User) == key {
				total = total.Add(l.Pct)
			}
		}
		return total
	}

	if loan.Ownership == nil {
		return decimal.Zero
	}
	for _, a := range loan.Ownership.Allocations {
		if UserKey(a.User) == key {
			return a.Percent.Div(hundred)
		}
	}
	return decimal.Zero
}

// IsOwnedBy reports whether user holds any part of the loan. A blank
// identifier owns nothing.
func IsOwnedBy(loan *model.Loan, user string) bool {
	if UserKey(user) == "" {
		return false
	}
	return UserPct(loan, user).IsPositive()
}

// Ref identifies an owner by record: an account carries ID, a lot or
// allocation carries User.
type Ref struct {
	ID   string
	User string
}

// Owner resolves the reference to a bare identifier, preferring ID.
func (r Ref) Owner() string {
	if strings.TrimSpace(r.ID) != "" {
		return r.ID
	}
	return r.User
}

// IsOwnedByRef is IsOwnedBy for a resolved reference.
func IsOwnedByRef(loan *model.Loan, ref Ref) bool {
	return IsOwnedBy(loan, ref.Owner())
}

// MarketPct returns the unsold percentage (0–100) from the Market
// allocation. Lots never contain Market, so they are not consulted.
func MarketPct(loan *model.Loan) decimal.Decimal {
	if loan == nil || loan.Ownership == nil {
		return decimal.Zero
	}
	for _, a := range loan.Ownership.Allocations {
		if IsMarket(a.User) {
			return a.Percent
		}
	}
	return decimal.Zero
}

// Holding is one owner's cumulative position in a loan.
type Holding struct {
	User string               `json:"user"`
	Pct  decimal.Decimal      `json:"pct"`
	Lots []model.OwnershipLot `json:"lots"`
}

// Owners groups the lot list by owner, in first-seen order. The returned
// User is the spelling of the owner's first lot.
func Owners(loan *model.Loan) []Holding {
	if loan == nil {
		return nil
	}
	var holdings []Holding
	index := make(map[string]int)

	for _, l := range loan.OwnershipLots {
		key := UserKey(l.User)
		i, ok := index[key]
		if !ok {
			i = len(holdings)
			index[key] = i
			holdings = append(holdings, Holding{User: l.User, Pct: decimal.Zero})
		}
		holdings[i].Pct = holdings[i].Pct.Add(l.Pct)
		holdings[i].Lots = append(holdings[i].Lots, l)
	}
	return holdings
}

// LotTotal is the sum of all lot fractions.
func LotTotal(loan *model.Loan) decimal.Decimal {
	total := decimal.Zero
	if loan == nil {
		return total
	}
	for _, l := range loan.OwnershipLots {
		total = total.Add(l.Pct)
	}
	return total
}
