// Package loan turns raw persisted loan records into model.Loan values:
// legacy field aliases are resolved, numbers coerced and defaults applied.
// Fields it does not know are carried through untouched.
package loan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"

	"github.com/loanreport/ownership-engine/internal/model"
)

// ErrNotObject is returned for a record that is not a JSON object.
var ErrNotObject = errors.New("loan: record is not a JSON object")

// Normalizer applies field aliasing and defaulting to raw loan records.
type Normalizer struct {
	defaultUser string
}

// NewNormalizer creates a normalizer. Records without a user are assigned
// defaultUser.
func NewNormalizer(defaultUser string) *Normalizer {
	return &Normalizer{defaultUser: defaultUser}
}

// Record normalizes one raw record.
func (n *Normalizer) Record(raw json.RawMessage) (model.Loan, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var record map[string]any
	if err := dec.Decode(&record); err != nil || record == nil {
		return model.Loan{}, ErrNotObject
	}

	id := str(first(record, "$.loanId", "$.id"))
	record["id"] = id
	record["loanId"] = id

	name, _ := first(record, "$.loanName").(string)
	record["loanName"] = name

	record["nominalRate"] = num(first(record, "$.nominalRate", "$.rate"))
	record["principal"] = num(first(record, "$.principal", "$.purchasePrice"))
	record["purchasePrice"] = num(first(record, "$.purchasePrice", "$.principal"))
	record["termYears"] = num(first(record, "$.termYears"))
	record["graceYears"] = num(first(record, "$.graceYears"))

	record["loanStartDate"] = date(first(record, "$.loanStartDate"))
	record["purchaseDate"] = date(first(record, "$.purchaseDate"))

	user := n.defaultUser
	if v := first(record, "$.user"); v != nil {
		user = str(v)
	}
	record["user"] = strings.ToLower(strings.TrimSpace(user))

	visible, isBool := first(record, "$.visible").(bool)
	record["visible"] = !isBool || visible

	data, err := json.Marshal(record)
	if err != nil {
		return model.Loan{}, fmt.Errorf("re-encode loan %s: %w", id, err)
	}
	var l model.Loan
	if err := json.Unmarshal(data, &l); err != nil {
		return model.Loan{}, fmt.Errorf("decode loan %s: %w", id, err)
	}
	return l, nil
}

// Records normalizes a batch, stopping at the first bad record.
func (n *Normalizer) Records(raws []json.RawMessage) ([]model.Loan, error) {
	loans := make([]model.Loan, 0, len(raws))
	for i, raw := range raws {
		l, err := n.Record(raw)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		loans = append(loans, l)
	}
	return loans, nil
}

// first returns the value of the first path that resolves to non-null.
func first(record map[string]any, paths ...string) any {
	for _, p := range paths {
		v, err := jsonpath.Get(p, record)
		if err == nil && v != nil {
			return v
		}
	}
	return nil
}

func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// num coerces a value to a JSON number; anything non-numeric becomes 0.
func num(v any) json.Number {
	var d decimal.Decimal
	switch x := v.(type) {
	case json.Number:
		d, _ = decimal.NewFromString(x.String())
	case string:
		d, _ = decimal.NewFromString(strings.TrimSpace(x))
	case bool:
		if x {
			d = decimal.NewFromInt(1)
		}
	}
	return json.Number(d.String())
}

// date keeps parseable date strings and drops everything else.
func date(v any) any {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	parsed, err := model.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return parsed.String()
}
