package loan

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loanreport/ownership-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestRecord_Aliases(t *testing.T) {
	n := NewNormalizer("jeff")

	l, err := n.Record(json.RawMessage(`{
		"loanId": 42,
		"rate": "0.065",
		"principal": 18000,
		"termYears": 10,
		"purchaseDate": "2023-02-01",
		"user": "  Alice ",
		"school": "Penn"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "42", l.ID)
	assert.Equal(t, "42", l.LoanID)
	assert.Equal(t, "", l.LoanName)
	assert.True(t, l.NominalRate.Equal(d(0.065)))
	assert.True(t, l.Principal.Equal(d(18000)))
	assert.True(t, l.PurchasePrice.Equal(d(18000)), "purchasePrice falls back to principal")
	assert.True(t, l.TermYears.Equal(d(10)))
	assert.True(t, l.GraceYears.IsZero())
	assert.Equal(t, model.NewDate(2023, time.February, 1), l.PurchaseDate)
	assert.True(t, l.LoanStartDate.IsZero())
	assert.Equal(t, "alice", l.User)
	assert.True(t, l.Visible)

	assert.Equal(t, `"Penn"`, string(l.Extra["school"]))
	assert.Equal(t, `"0.065"`, string(l.Extra["rate"]))
}

func TestRecord_PrefersPrimaryNames(t *testing.T) {
	l, err := NewNormalizer("jeff").Record(json.RawMessage(`{
		"id": "abc", "loanId": "L-7", "nominalRate": 0.05, "rate": 0.09,
		"principal": 100, "purchasePrice": 80, "visible": false, "loanName": "Car"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "L-7", l.ID)
	assert.True(t, l.NominalRate.Equal(d(0.05)))
	assert.True(t, l.Principal.Equal(d(100)))
	assert.True(t, l.PurchasePrice.Equal(d(80)))
	assert.False(t, l.Visible)
	assert.Equal(t, "Car", l.LoanName)
}

func TestRecord_Defaults(t *testing.T) {
	l, err := NewNormalizer("Jeff").Record(json.RawMessage(`{"id":"x","nominalRate":"n/a","purchaseDate":"someday","user":null}`))
	require.NoError(t, err)

	assert.Equal(t, "jeff", l.User)
	assert.True(t, l.NominalRate.IsZero())
	assert.True(t, l.PurchaseDate.IsZero())
	assert.True(t, l.Visible)
	assert.Nil(t, l.Ownership)
	assert.Nil(t, l.OwnershipLots)
}

func TestRecord_KeepsOwnership(t *testing.T) {
	l, err := NewNormalizer("jeff").Record(json.RawMessage(`{
		"id": "x",
		"ownership": {"unit": "percent", "step": 5, "allocations": [{"user": "alice", "percent": 40}]},
		"ownershipLots": [{"user": "bob", "pct": 0.3, "pricePaid": 900, "purchaseDate": "2022-05-02"}]
	}`))
	require.NoError(t, err)

	require.NotNil(t, l.Ownership)
	require.Len(t, l.Ownership.Allocations, 1)
	assert.True(t, l.Ownership.Allocations[0].Percent.Equal(d(40)))
	require.Len(t, l.OwnershipLots, 1)
	assert.Equal(t, "bob", l.OwnershipLots[0].User)
}

func TestRecord_NotAnObject(t *testing.T) {
	n := NewNormalizer("jeff")
	for _, raw := range []string{`[1,2]`, `"loan"`, `null`, `{bad`} {
		_, err := n.Record(json.RawMessage(raw))
		assert.ErrorIs(t, err, ErrNotObject, raw)
	}
}

func TestRecords_ReportsIndex(t *testing.T) {
	_, err := NewNormalizer("jeff").Records([]json.RawMessage{
		json.RawMessage(`{"id":"a"}`),
		json.RawMessage(`7`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 1")
	assert.ErrorIs(t, err, ErrNotObject)
}
