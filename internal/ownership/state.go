package ownership

import "github.com/loanreport/ownership-engine/internal/model"

// State names of a Representation.
const (
	StateUnnormalized = "unnormalized"
	StateNormalized   = "normalized"
)

// Representation is the ownership state of a loan: Unnormalized or
// Normalized. The only transition is Unnormalized → Normalized, made by
// Engine.Normalize.
type Representation interface {
	State() string
	isRepresentation()
}

// Unnormalized is a loan that has no lot list yet. Its allocations are the
// only ownership data available.
type Unnormalized struct {
	Allocations []model.OwnershipAllocation
}

// Normalized is a loan whose lot list is authoritative. LegacyAllocations is
// informational and is never re-derived from the lots.
type Normalized struct {
	Lots              []model.OwnershipLot
	LegacyAllocations []model.OwnershipAllocation
}

func (Unnormalized) State() string { return StateUnnormalized }
func (Normalized) State() string   { return StateNormalized }

func (Unnormalized) isRepresentation() {}
func (Normalized) isRepresentation()   {}

// Classify returns the loan's current representation. The slices alias the
// loan's own. A nil loan is Unnormalized.
func Classify(loan *model.Loan) Representation {
	if loan == nil {
		return Unnormalized{}
	}
	var allocs []model.OwnershipAllocation
	if loan.Ownership != nil {
		allocs = loan.Ownership.Allocations
	}
	if loan.OwnershipLots == nil {
		return Unnormalized{Allocations: allocs}
	}
	return Normalized{Lots: loan.OwnershipLots, LegacyAllocations: allocs}
}
