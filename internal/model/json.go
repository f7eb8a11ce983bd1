package model

import (
	"encoding/json"
	"fmt"
)

// loanFields has Loan's layout without its JSON methods.
type loanFields Loan

// knownLoanFields lists the JSON keys decoded into Loan's typed fields.
var knownLoanFields = []string{
	"id", "loanId", "loanName", "user", "visible",
	"nominalRate", "principal", "purchasePrice", "termYears", "graceYears",
	"loanStartDate", "purchaseDate", "ownership", "ownershipLots",
}

// UnmarshalJSON decodes the typed fields and keeps every other key in Extra.
func (l *Loan) UnmarshalJSON(data []byte) error {
	var fields loanFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range knownLoanFields {
		delete(all, k)
	}

	*l = Loan(fields)
	l.Extra = nil
	if len(all) > 0 {
		l.Extra = all
	}
	return nil
}

// MarshalJSON encodes the typed fields and merges Extra back in. Typed
// fields win over an Extra key of the same name.
func (l Loan) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(loanFields(l))
	if err != nil {
		return nil, err
	}
	if len(l.Extra) == 0 {
		return data, nil
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("merge extra fields of loan %s: %w", l.ID, err)
	}
	for k, v := range l.Extra {
		if _, ok := all[k]; !ok {
			all[k] = v
		}
	}
	return json.Marshal(all)
}
