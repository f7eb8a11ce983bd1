// Package store defines the persistence interface for loan books.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// The whole loan collection is saved at once and guarded by an optimistic
// concurrency token (the book's SHA): a save naming a stale token fails with
// ErrVersionConflict instead of overwriting a concurrent edit.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/loanreport/ownership-engine/internal/model"
)

var (
	// ErrLoanNotFound is returned when no loan has the requested id.
	ErrLoanNotFound = errors.New("store: loan not found")

	// ErrVersionConflict is returned when a save names a token other than
	// the current one.
	ErrVersionConflict = errors.New("store: loan book was modified concurrently")

	// ErrDuplicateLoanID is returned when a saved book holds two loans with
	// the same id.
	ErrDuplicateLoanID = errors.New("store: duplicate loan id")

	// ErrConfigNotFound is returned when no platform configuration has been
	// saved yet.
	ErrConfigNotFound = errors.New("store: platform config not found")
)

// Store is the persistence interface. It moves loan records in and out
// verbatim; ownership normalization is the caller's job.
type Store interface {
	// LoadBook returns every loan together with the current token.
	LoadBook(ctx context.Context) (*model.LoanBook, error)

	// GetLoan retrieves a single loan by id.
	GetLoan(ctx context.Context, id string) (*model.Loan, error)

	// SaveBook replaces the whole collection and returns the new token.
	// An empty expectedSHA saves unconditionally.
	SaveBook(ctx context.Context, loans []model.Loan, expectedSHA string) (string, error)

	// LoadPlatformConfig returns the saved platform configuration with its
	// token in SHA.
	LoadPlatformConfig(ctx context.Context) (*model.PlatformConfig, error)

	// SavePlatformConfig replaces the platform configuration and returns
	// the new token. An empty expectedSHA saves unconditionally.
	SavePlatformConfig(ctx context.Context, cfg *model.PlatformConfig, expectedSHA string) (string, error)
}

// checkUniqueIDs rejects a book in which two loans share an id.
func checkUniqueIDs(loans []model.Loan) error {
	seen := make(map[string]bool, len(loans))
	for _, l := range loans {
		if seen[l.ID] {
			return fmt.Errorf("%w: %q", ErrDuplicateLoanID, l.ID)
		}
		seen[l.ID] = true
	}
	return nil
}

// newSHA generates a fresh book token.
func newSHA() string {
	return uuid.NewString()
}
