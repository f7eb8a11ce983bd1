package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/loanreport/ownership-engine/internal/model"
)

// MemoryStore implements Store with an in-memory slice. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu    sync.RWMutex
	loans []model.Loan
	sha   string

	config    *model.PlatformConfig
	configSHA string
}

// NewMemoryStore creates a new in-memory store holding loans.
func NewMemoryStore(loans ...model.Loan) *MemoryStore {
	return &MemoryStore{
		loans: model.CloneLoans(loans),
		sha:   newSHA(),
	}
}

func (s *MemoryStore) LoadBook(_ context.Context) (*model.LoanBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Copies keep callers from mutating stored state.
	loans := model.CloneLoans(s.loans)
	if loans == nil {
		loans = []model.Loan{}
	}
	return &model.LoanBook{Loans: loans, SHA: s.sha}, nil
}

func (s *MemoryStore) GetLoan(_ context.Context, id string) (*model.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.loans {
		if s.loans[i].ID == id {
			l := s.loans[i].Clone()
			return &l, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLoanNotFound, id)
}

func (s *MemoryStore) SaveBook(_ context.Context, loans []model.Loan, expectedSHA string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expectedSHA != "" && expectedSHA != s.sha {
		return "", ErrVersionConflict
	}
	if err := checkUniqueIDs(loans); err != nil {
		return "", err
	}
	s.loans = model.CloneLoans(loans)
	s.sha = newSHA()
	return s.sha, nil
}

func (s *MemoryStore) LoadPlatformConfig(_ context.Context) (*model.PlatformConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config == nil {
		return nil, ErrConfigNotFound
	}
	cfg := s.config.Clone()
	cfg.SHA = s.configSHA
	return cfg, nil
}

func (s *MemoryStore) SavePlatformConfig(_ context.Context, cfg *model.PlatformConfig, expectedSHA string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expectedSHA != "" && expectedSHA != s.configSHA {
		return "", ErrVersionConflict
	}
	s.config = cfg.Clone()
	s.config.SHA = ""
	s.configSHA = newSHA()
	return s.configSHA, nil
}
