package loan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrNoLoans is returned for a document holding neither a loan array nor a
// {"loans": [...]} object.
var ErrNoLoans = errors.New("loan: document has no loans array")

// Document is a loans file as written by the admin tools.
type Document struct {
	Loans []json.RawMessage `json:"loans"`
	SHA   string            `json:"sha,omitempty"`
}

// DecodeDocument accepts either {"loans": [...]} or a bare array.
func DecodeDocument(data []byte) (*Document, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var loans []json.RawMessage
		if err := json.Unmarshal(data, &loans); err != nil {
			return nil, fmt.Errorf("decode loans array: %w", err)
		}
		return &Document{Loans: loans}, nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode loans document: %w", err)
	}
	if doc.Loans == nil {
		return nil, ErrNoLoans
	}
	return &doc, nil
}

// ReadFile reads and decodes a loans file.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := DecodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}
