package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoanJSON_PassesThroughUnknownFields(t *testing.T) {
	in := `{"id":"L1","loanName":"Dorm","school":"MIT","fico":{"score":710},"purchasePrice":1000,"ownershipLots":null}`

	var l Loan
	require.NoError(t, json.Unmarshal([]byte(in), &l))
	assert.Equal(t, "L1", l.ID)
	assert.True(t, l.PurchasePrice.Equal(decimal.NewFromInt(1000)))
	require.Contains(t, l.Extra, "school")
	require.Contains(t, l.Extra, "fico")
	assert.NotContains(t, l.Extra, "id")

	out, err := json.Marshal(l)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(out, &generic))
	assert.Equal(t, "MIT", generic["school"])
	assert.Equal(t, map[string]any{"score": float64(710)}, generic["fico"])
	assert.Equal(t, float64(1000), generic["purchasePrice"])
}

func TestLoanJSON_LotsPresenceSurvivesRoundTrip(t *testing.T) {
	var absent, empty Loan
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a"}`), &absent))
	require.NoError(t, json.Unmarshal([]byte(`{"id":"b","ownershipLots":[]}`), &empty))

	assert.Nil(t, absent.OwnershipLots)
	require.NotNil(t, empty.OwnershipLots)
	assert.Len(t, empty.OwnershipLots, 0)

	data, err := json.Marshal(empty)
	require.NoError(t, err)

	var again Loan
	require.NoError(t, json.Unmarshal(data, &again))
	assert.NotNil(t, again.OwnershipLots)
}

func TestLoanClone_IsDeep(t *testing.T) {
	l := Loan{
		ID: "L1",
		Ownership: &Ownership{Allocations: []OwnershipAllocation{
			{User: "alice", Percent: decimal.NewFromInt(40)},
		}},
		OwnershipLots: []OwnershipLot{{User: "alice", Pct: decimal.NewFromFloat(0.4)}},
		Extra:         map[string]json.RawMessage{"note": json.RawMessage(`"x"`)},
	}

	c := l.Clone()
	c.Ownership.Allocations[0].User = "bob"
	c.OwnershipLots[0].User = "bob"
	c.Extra["note"] = json.RawMessage(`"y"`)

	assert.Equal(t, "alice", l.Ownership.Allocations[0].User)
	assert.Equal(t, "alice", l.OwnershipLots[0].User)
	assert.Equal(t, `"x"`, string(l.Extra["note"]))
}

func TestDate_JSON(t *testing.T) {
	var d Date
	require.NoError(t, json.Unmarshal([]byte(`"2024-03-05"`), &d))
	assert.Equal(t, NewDate(2024, time.March, 5), d)

	require.NoError(t, json.Unmarshal([]byte(`"2024-03-05T17:30:00Z"`), &d))
	assert.Equal(t, NewDate(2024, time.March, 5), d)

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2024-03-05"`, string(out))

	require.NoError(t, json.Unmarshal([]byte(`null`), &d))
	assert.True(t, d.IsZero())
	out, _ = json.Marshal(d)
	assert.Equal(t, "null", string(out))

	assert.Error(t, json.Unmarshal([]byte(`"05/03/2024"`), &d))
}

func TestLoanBook_Find(t *testing.T) {
	b := LoanBook{Loans: []Loan{{ID: "a"}, {ID: "b"}}}
	require.NotNil(t, b.Find("b"))
	b.Find("b").LoanName = "changed"
	assert.Equal(t, "changed", b.Loans[1].LoanName)
	assert.Nil(t, b.Find("zzz"))
}
