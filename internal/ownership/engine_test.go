package ownership

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loanreport/ownership-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func alloc(user string, percent float64) model.OwnershipAllocation {
	return model.OwnershipAllocation{User: user, Percent: d(percent)}
}

func newLoan(allocs ...model.OwnershipAllocation) *model.Loan {
	l := &model.Loan{
		ID:            "L-100",
		User:          "carol",
		PurchasePrice: d(12500),
		PurchaseDate:  model.NewDate(2023, time.June, 1),
	}
	if allocs != nil {
		l.Ownership = &model.Ownership{Unit: UnitPercent, Step: DefaultStep, Allocations: allocs}
	}
	return l
}

func percentSum(l *model.Loan) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range l.Ownership.Allocations {
		sum = sum.Add(a.Percent)
	}
	return sum
}

// --- Constructor ---

func TestNewEngine_Defaults(t *testing.T) {
	e := NewEngine(0, "  ")
	assert.Equal(t, DefaultStep, e.Step())
	assert.Equal(t, DefaultOwner, e.DefaultOwner())

	e = NewEngine(10, "dana")
	assert.Equal(t, 10, e.Step())
	assert.Equal(t, "dana", e.DefaultOwner())
}

// --- Scenarios ---

func TestNormalize_NoOwnership(t *testing.T) {
	e := NewEngine(DefaultStep, DefaultOwner)
	l := newLoan()

	e.Normalize(l)

	require.NotNil(t, l.Ownership)
	assert.Equal(t, UnitPercent, l.Ownership.Unit)
	assert.Equal(t, DefaultStep, l.Ownership.Step)
	require.Len(t, l.Ownership.Allocations, 1)
	assert.Equal(t, MarketUser, l.Ownership.Allocations[0].User)
	assert.True(t, l.Ownership.Allocations[0].Percent.Equal(d(100)))

	require.Len(t, l.OwnershipLots, 1)
	lot := l.OwnershipLots[0]
	assert.Equal(t, "carol", lot.User)
	assert.True(t, lot.Pct.Equal(d(1)))
	assert.True(t, lot.PricePaid.Equal(d(12500)))
	assert.Equal(t, l.PurchaseDate, lot.PurchaseDate)
}

func TestNormalize_PartialAllocation(t *testing.T) {
	e := NewEngine(DefaultStep, DefaultOwner)
	l := newLoan(alloc("alice", 40))

	e.Normalize(l)

	require.Len(t, l.Ownership.Allocations, 2)
	assert.Equal(t, "alice", l.Ownership.Allocations[0].User)
	assert.True(t, l.Ownership.Allocations[0].Percent.Equal(d(40)))
	assert.Equal(t, MarketUser, l.Ownership.Allocations[1].User)
	assert.True(t, l.Ownership.Allocations[1].Percent.Equal(d(60)))

	assert.True(t, UserPct(l, "Alice").Equal(d(0.4)), "got %s", UserPct(l, "Alice"))
	assert.True(t, MarketPct(l).Equal(d(60)))
}

func TestNormalize_OverAllocatedClampsMarket(t *testing.T) {
	e := NewEngine(DefaultStep, DefaultOwner)
	l := newLoan(alloc("alice", 70), alloc("bob", 50))

	assert.NotPanics(t, func() { e.Normalize(l) })

	assert.True(t, MarketPct(l).IsZero())
	assert.True(t, percentSum(l).Equal(d(120)))
	require.Len(t, l.OwnershipLots, 2)
}

func TestNormalize_ExistingLotsAreKept(t *testing.T) {
	e := NewEngine(DefaultStep, DefaultOwner)
	lots := []model.OwnershipLot{{User: "bob", Pct: d(0.3), PricePaid: d(900), PurchaseDate: model.NewDate(2022, time.May, 2)}}
	l := newLoan(alloc("alice", 40), alloc(MarketUser, 10))
	l.OwnershipLots = append([]model.OwnershipLot(nil), lots...)

	e.Normalize(l)
	e.Normalize(l)

	assert.Equal(t, lots, l.OwnershipLots)
	// Allocation conservation still ran.
	assert.True(t, MarketPct(l).Equal(d(60)))
	assert.True(t, UserPct(l, "bob").Equal(d(0.3)))
	// Lots are authoritative: alice's allocation no longer counts.
	assert.True(t, UserPct(l, "alice").IsZero())
}

// --- Stage A details ---

func TestNormalize_ReplacesDuplicateMarketEntries(t *testing.T) {
	e := NewEngine(DefaultStep, DefaultOwner)
	l := newLoan(alloc(MarketUser, 5), alloc("alice", 25), alloc(MarketUser, 90), alloc("bob", 15))

	e.Normalize(l)

	users := make([]string, 0, len(l.Ownership.Allocations))
	for _, a := range l.Ownership.Allocations {
		users = append(users, a.User)
	}
	assert.Equal(t, []string{"alice", "bob", MarketUser}, users)
	assert.True(t, MarketPct(l).Equal(d(60)))
}

func TestNormalize_EmptyAllocationList(t *testing.T) {
	e := NewEngine(DefaultStep, DefaultOwner)
	l := newLoan()
	l.Ownership = &model.Ownership{}

	e.Normalize(l)

	require.Len(t, l.Ownership.Allocations, 1)
	assert.True(t, MarketPct(l).Equal(d(100)))
	require.Len(t, l.OwnershipLots, 1)
	assert.Equal(t, "carol", l.OwnershipLots[0].User)
}

// --- Stage B details ---

func TestNormalize_BootstrapFallsBackToDefaultOwner(t *testing.T) {
	e := NewEngine(DefaultStep, "house")
	l := newLoan(alloc(MarketUser, 100))
	l.User = ""

	e.Normalize(l)

	require.Len(t, l.OwnershipLots, 1)
	assert.Equal(t, "house", l.OwnershipLots[0].User)
	assert.True(t, l.OwnershipLots[0].Pct.Equal(d(1)))
}

func TestNormalize_LotsMirrorAllocations(t *testing.T) {
	e := NewEngine(DefaultStep, DefaultOwner)
	l := newLoan(alloc("alice", 25), alloc("bob", 35), alloc("erin", 0))

	e.Normalize(l)

	require.Len(t, l.OwnershipLots, 3)
	want := []struct {
		user string
		pct  float64
	}{{"alice", 0.25}, {"bob", 0.35}, {"erin", 0}}
	for i, w := range want {
		lot := l.OwnershipLots[i]
		assert.Equal(t, w.user, lot.User)
		assert.True(t, lot.Pct.Equal(d(w.pct)), "lot %d pct %s", i, lot.Pct)
		assert.True(t, lot.PricePaid.Equal(l.PurchasePrice))
		assert.Equal(t, l.PurchaseDate, lot.PurchaseDate)
	}
}

func TestNormalize_EmptyLotListIsNormalized(t *testing.T) {
	e := NewEngine(DefaultStep, DefaultOwner)
	l := newLoan(alloc("alice", 40))
	l.OwnershipLots = []model.OwnershipLot{}

	e.Normalize(l)

	assert.NotNil(t, l.OwnershipLots)
	assert.Empty(t, l.OwnershipLots)
	assert.Equal(t, StateNormalized, Classify(l).State())
}

// --- Properties ---

func propertyLoans() map[string]func() *model.Loan {
	return map[string]func() *model.Loan{
		"absent":       func() *model.Loan { return newLoan() },
		"market only":  func() *model.Loan { return newLoan(alloc(MarketUser, 100)) },
		"single":       func() *model.Loan { return newLoan(alloc("alice", 40)) },
		"exact":        func() *model.Loan { return newLoan(alloc("alice", 55), alloc("bob", 45)) },
		"fractional":   func() *model.Loan { return newLoan(alloc("alice", 33.3), alloc("Bob ", 12.7)) },
		"stale market": func() *model.Loan { return newLoan(alloc("alice", 20), alloc(MarketUser, 3)) },
		"repeat owner": func() *model.Loan { return newLoan(alloc("alice", 20), alloc("ALICE", 15)) },
		"market user":  func() *model.Loan { return withUser(newLoan(), "Market") },
		"market user, lower case": func() *model.Loan {
			return withUser(newLoan(alloc(MarketUser, 100)), "market")
		},
	}
}

func withUser(l *model.Loan, user string) *model.Loan {
	l.User = user
	return l
}

func TestProperty_Conservation(t *testing.T) {
	e := NewEngine(DefaultStep, DefaultOwner)
	for name, mk := range propertyLoans() {
		t.Run(name, func(t *testing.T) {
			l := mk()
			e.Normalize(l)
			assert.True(t, percentSum(l).Equal(d(100)), "sum %s", percentSum(l))
		})
	}
}

func TestProperty_Idempotence(t *testing.T) {
	e := NewEngine(DefaultStep, DefaultOwner)
	for name, mk := range propertyLoans() {
		t.Run(name, func(t *testing.T) {
			l := mk()
			e.Normalize(l)
			once, err := json.Marshal(l)
			require.NoError(t, err)

			e.Normalize(l)
			twice, err := json.Marshal(l)
			require.NoError(t, err)

			assert.Equal(t, string(once), string(twice))
		})
	}
}

func TestProperty_MarketNeverInLots(t *testing.T) {
	e := NewEngine(DefaultStep, DefaultOwner)
	for name, mk := range propertyLoans() {
		t.Run(name, func(t *testing.T) {
			l := mk()
			e.Normalize(l)
			for _, lot := range l.OwnershipLots {
				assert.False(t, IsMarket(lot.User), "lot owned by %q", lot.User)
			}
		})
	}
}

func TestProperty_QueryConsistency(t *testing.T) {
	e := NewEngine(DefaultStep, DefaultOwner)
	for name, mk := range propertyLoans() {
		if l := mk(); l.Ownership == nil || len(heldAllocations(l.Ownership.Allocations)) == 0 {
			// The bootstrap lot owns the whole loan while Market still
			// reports 100%, so the two add up to 2.
			continue
		}
		t.Run(name, func(t *testing.T) {
			l := mk()
			e.Normalize(l)

			total := MarketPct(l).Div(d(100))
			for _, h := range Owners(l) {
				assert.True(t, UserPct(l, h.User).Equal(h.Pct))
				total = total.Add(UserPct(l, h.User))
			}
			assert.True(t, total.Sub(d(1)).Abs().LessThan(d(1e-12)), "total %s", total)
		})
	}
}

func TestProperty_BootstrapDefault(t *testing.T) {
	e := NewEngine(DefaultStep, DefaultOwner)
	l := newLoan(alloc(MarketUser, 40))
	e.Normalize(l)

	require.Len(t, l.OwnershipLots, 1)
	assert.Equal(t, l.User, l.OwnershipLots[0].User)
	assert.True(t, l.OwnershipLots[0].Pct.Equal(d(1)))
	assert.True(t, MarketPct(l).Equal(d(100)))
}

func TestNormalize_MarketUserNeverOwnsBootstrapLot(t *testing.T) {
	for _, user := range []string{"Market", "market", " MARKET "} {
		t.Run(user, func(t *testing.T) {
			l := &model.Loan{ID: "L-1", User: user, PurchasePrice: d(900)}
			NewEngine(DefaultStep, DefaultOwner).Normalize(l)

			require.Len(t, l.OwnershipLots, 1)
			assert.Equal(t, DefaultOwner, l.OwnershipLots[0].User)
			assert.True(t, l.OwnershipLots[0].Pct.Equal(d(1)))
			assert.Empty(t, Validate(l))
		})
	}
}

func TestNewEngine_MarketDefaultOwnerFallsBack(t *testing.T) {
	e := NewEngine(DefaultStep, "market")
	assert.Equal(t, DefaultOwner, e.DefaultOwner())

	l := &model.Loan{ID: "L-2"}
	e.Normalize(l)
	require.Len(t, l.OwnershipLots, 1)
	assert.Equal(t, DefaultOwner, l.OwnershipLots[0].User)
}

func TestNilLoan(t *testing.T) {
	assert.NotPanics(t, func() {
		NewEngine(DefaultStep, DefaultOwner).Normalize(nil)
	})
	assert.True(t, UserPct(nil, "alice").IsZero())
	assert.False(t, IsOwnedBy(nil, "alice"))
	assert.True(t, MarketPct(nil).IsZero())
	assert.Nil(t, Owners(nil))
	assert.True(t, LotTotal(nil).IsZero())
	assert.Nil(t, Validate(nil))
	assert.Equal(t, StateUnnormalized, Classify(nil).State())
}
