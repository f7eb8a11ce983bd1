// Package portfolio provides the HTTP handlers and business logic for
// reading loans, editing their ownership, and reporting each investor's
// positions.
//
// Every loan leaving this package has been through the ownership engine,
// and every ownership edit is normalized again before it is saved.
// Reporting figures come from the lot list only.
package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/loanreport/ownership-engine/internal/loan"
	"github.com/loanreport/ownership-engine/internal/metrics"
	"github.com/loanreport/ownership-engine/internal/model"
	"github.com/loanreport/ownership-engine/internal/ownership"
	"github.com/loanreport/ownership-engine/internal/platform"
	"github.com/loanreport/ownership-engine/internal/store"
)

var (
	// ErrInvalidAllocation is returned for a malformed re-allocation.
	ErrInvalidAllocation = errors.New("portfolio: invalid allocation")

	// ErrOverAllocated is returned when a re-allocation hands out more
	// than 100% of a loan.
	ErrOverAllocated = errors.New("portfolio: allocations exceed 100%")

	// ErrInvalidLot is returned for a malformed lot purchase.
	ErrInvalidLot = errors.New("portfolio: invalid lot")

	// ErrLotExceedsLoan is returned when a lot would push the lot total
	// above the whole loan.
	ErrLotExceedsLoan = errors.New("portfolio: lots would exceed the whole loan")
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Service handles loan ownership operations. Uses a mutex to serialize
// edits within one instance; the store's sha token guards against other
// instances.
type Service struct {
	store    store.Store
	engine   *ownership.Engine
	records  *loan.Normalizer
	platform *platform.Holder
	mu       sync.Mutex
	wsHub    *WSHub // optional WebSocket hub for real-time broadcasts
	now      func() time.Time
}

// NewService creates a new portfolio service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, engine *ownership.Engine, records *loan.Normalizer, cfg *platform.Holder, hub *WSHub) *Service {
	if cfg == nil {
		cfg = platform.NewHolder(nil, nil)
	}
	return &Service{
		store:    st,
		engine:   engine,
		records:  records,
		platform: cfg,
		wsHub:    hub,
		now:      time.Now,
	}
}

// --- Reporting types ---

// LoanPosition is one investor's stake in one loan.
type LoanPosition struct {
	LoanID          string               `json:"loanId"`
	LoanName        string               `json:"loanName"`
	OwnershipPct    decimal.Decimal      `json:"ownershipPct"`
	InvestedCapital decimal.Decimal      `json:"investedCapital"`
	MarketPct       decimal.Decimal      `json:"marketPct"`
	Lots            []model.OwnershipLot `json:"lots"`
}

// Portfolio aggregates an investor's positions across visible loans.
type Portfolio struct {
	UserID        string          `json:"userId"`
	Name          string          `json:"name,omitempty"`
	FeePolicy     string          `json:"feePolicy,omitempty"`
	Positions     []LoanPosition  `json:"positions"`
	TotalInvested decimal.Decimal `json:"totalInvested"`
}

// OwnershipView is the ownership report of one loan.
type OwnershipView struct {
	LoanID      string                      `json:"loanId"`
	PriorState  string                      `json:"priorState"`
	State       string                      `json:"state"`
	Allocations []model.OwnershipAllocation `json:"allocations"`
	Lots        []model.OwnershipLot        `json:"lots"`
	Owners      []ownership.Holding         `json:"owners"`
	MarketPct   decimal.Decimal             `json:"marketPct"`
	Warnings    []ownership.Warning         `json:"warnings"`
}

// --- Reads ---

// normalize runs the engine over one loan.
func (s *Service) normalize(l *model.Loan) {
	metrics.NormalizationsTotal.WithLabelValues(ownership.Classify(l).State()).Inc()
	s.engine.Normalize(l)
}

// Book loads the loan book with every loan normalized.
func (s *Service) Book(ctx context.Context) (*model.LoanBook, error) {
	book, err := s.store.LoadBook(ctx)
	if err != nil {
		return nil, fmt.Errorf("load loan book: %w", err)
	}
	for i := range book.Loans {
		s.normalize(&book.Loans[i])
	}
	metrics.LoansTracked.Set(float64(len(book.Loans)))
	return book, nil
}

// Loan loads one normalized loan.
func (s *Service) Loan(ctx context.Context, id string) (*model.Loan, error) {
	l, err := s.store.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	s.normalize(l)
	return l, nil
}

// Ownership reports a loan's ownership, including the warnings that
// normalization would otherwise hide.
func (s *Service) Ownership(ctx context.Context, id string) (*OwnershipView, error) {
	l, err := s.store.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	prior := ownership.Classify(l).State()
	s.normalize(l)

	warnings := ownership.Validate(l)
	for _, w := range warnings {
		metrics.OwnershipWarnings.WithLabelValues(string(w.Code)).Inc()
	}
	if warnings == nil {
		warnings = []ownership.Warning{}
	}
	owners := ownership.Owners(l)
	if owners == nil {
		owners = []ownership.Holding{}
	}

	return &OwnershipView{
		LoanID:      l.ID,
		PriorState:  prior,
		State:       ownership.Classify(l).State(),
		Allocations: l.Ownership.Allocations,
		Lots:        l.OwnershipLots,
		Owners:      owners,
		MarketPct:   ownership.MarketPct(l),
		Warnings:    warnings,
	}, nil
}

// Portfolio reports every visible loan owned by userID.
func (s *Service) Portfolio(ctx context.Context, userID string) (*Portfolio, error) {
	book, err := s.Book(ctx)
	if err != nil {
		return nil, err
	}

	p := &Portfolio{
		UserID:        userID,
		Positions:     []LoanPosition{},
		TotalInvested: decimal.Zero,
	}
	if u, ok := s.platform.Current().Users[userID]; ok {
		p.Name = u.Name
		p.FeePolicy = u.FeePolicy
	}

	key := ownership.UserKey(userID)
	for i := range book.Loans {
		l := &book.Loans[i]
		if !l.Visible || !ownership.IsOwnedBy(l, userID) {
			continue
		}

		pos := LoanPosition{
			LoanID:          l.ID,
			LoanName:        l.LoanName,
			OwnershipPct:    ownership.UserPct(l, userID),
			InvestedCapital: decimal.Zero,
			MarketPct:       ownership.MarketPct(l),
		}
		for _, lot := range l.OwnershipLots {
			if ownership.UserKey(lot.User) != key {
				continue
			}
			pos.Lots = append(pos.Lots, lot)
			pos.InvestedCapital = pos.InvestedCapital.Add(lot.PricePaid.Mul(lot.Pct))
		}
		p.TotalInvested = p.TotalInvested.Add(pos.InvestedCapital)
		p.Positions = append(p.Positions, pos)
	}
	return p, nil
}

// --- Writes ---

// ReplaceBook replaces the loan book with raw records, normalized by the
// record normalizer and then the ownership engine. An empty sha saves
// unconditionally.
func (s *Service) ReplaceBook(ctx context.Context, raws []json.RawMessage, sha string) (string, error) {
	loans, err := s.records.Records(raws)
	if err != nil {
		return "", err
	}
	for i := range loans {
		s.normalize(&loans[i])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	newSHA, err := s.store.SaveBook(ctx, loans, sha)
	if err != nil {
		return "", err
	}

	slog.Info("loan book saved", "loans", len(loans), "sha", newSHA)
	metrics.LoansTracked.Set(float64(len(loans)))
	s.broadcast(WSMessage{Type: MsgLoansSaved, SHA: newSHA, LoanCount: len(loans)})
	return newSHA, nil
}

// Reallocate replaces a loan's declared allocations and re-normalizes it.
// Market entries in allocs are ignored: Market is always the remainder.
// The lot list is not touched.
func (s *Service) Reallocate(ctx context.Context, loanID string, allocs []model.OwnershipAllocation, sha string) (*model.Loan, string, error) {
	held, err := checkAllocations(allocs)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	book, err := s.Book(ctx)
	if err != nil {
		return nil, "", err
	}
	l := book.Find(loanID)
	if l == nil {
		return nil, "", fmt.Errorf("%w: %s", store.ErrLoanNotFound, loanID)
	}

	l.Ownership.Allocations = held
	s.normalize(l)

	newSHA, err := s.save(ctx, book, sha)
	if err != nil {
		return nil, "", err
	}

	metrics.OwnershipEdits.WithLabelValues("reallocation").Inc()
	slog.Info("loan reallocated",
		"loan_id", l.ID,
		"allocations", len(held),
		"market_pct", ownership.MarketPct(l).String(),
		"sha", newSHA,
	)
	s.broadcast(WSMessage{
		Type:      MsgOwnershipChanged,
		LoanID:    l.ID,
		SHA:       newSHA,
		MarketPct: ownership.MarketPct(l).String(),
		LotCount:  len(l.OwnershipLots),
	})
	return l, newSHA, nil
}

// AddLotTo records a priced tranche bought by lot.User. A zero purchase date
// defaults to today.
func (s *Service) AddLotTo(ctx context.Context, loanID string, lot model.OwnershipLot, sha string) (*model.Loan, string, error) {
	lot.User = strings.TrimSpace(lot.User)
	switch {
	case lot.User == "":
		return nil, "", fmt.Errorf("%w: user is required", ErrInvalidLot)
	case ownership.IsMarket(lot.User):
		return nil, "", fmt.Errorf("%w: %s cannot own a lot", ErrInvalidLot, ownership.MarketUser)
	case !lot.Pct.IsPositive() || lot.Pct.GreaterThan(one):
		return nil, "", fmt.Errorf("%w: pct must be in (0, 1]", ErrInvalidLot)
	case lot.PricePaid.IsNegative():
		return nil, "", fmt.Errorf("%w: pricePaid must not be negative", ErrInvalidLot)
	}
	if lot.PurchaseDate.IsZero() {
		now := s.now().UTC()
		lot.PurchaseDate = model.NewDate(now.Year(), now.Month(), now.Day())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	book, err := s.Book(ctx)
	if err != nil {
		return nil, "", err
	}
	l := book.Find(loanID)
	if l == nil {
		return nil, "", fmt.Errorf("%w: %s", store.ErrLoanNotFound, loanID)
	}

	if total := ownership.LotTotal(l).Add(lot.Pct); total.GreaterThan(one) {
		return nil, "", fmt.Errorf("%w: total would be %s", ErrLotExceedsLoan, total)
	}
	l.OwnershipLots = append(l.OwnershipLots, lot)
	s.normalize(l)

	newSHA, err := s.save(ctx, book, sha)
	if err != nil {
		return nil, "", err
	}

	metrics.OwnershipEdits.WithLabelValues("lot").Inc()
	slog.Info("lot recorded",
		"loan_id", l.ID,
		"user", lot.User,
		"pct", lot.Pct.String(),
		"price_paid", lot.PricePaid.String(),
		"sha", newSHA,
	)
	s.broadcast(WSMessage{
		Type:     MsgOwnershipChanged,
		LoanID:   l.ID,
		SHA:      newSHA,
		User:     lot.User,
		LotCount: len(l.OwnershipLots),
	})
	return l, newSHA, nil
}

// ReloadPlatformConfig swaps in a freshly loaded platform configuration.
func (s *Service) ReloadPlatformConfig(ctx context.Context) (*model.PlatformConfig, error) {
	return s.platform.Reload(ctx)
}

// SavePlatformConfig persists a configuration document and makes it
// current. A "sha" field in the document must match the saved token; an
// absent one saves unconditionally.
func (s *Service) SavePlatformConfig(ctx context.Context, data []byte) (*model.PlatformConfig, error) {
	cfg, err := platform.Parse(data)
	if err != nil {
		return nil, err
	}
	expected := cfg.SHA
	cfg.SHA = ""

	s.mu.Lock()
	defer s.mu.Unlock()

	sha, err := s.store.SavePlatformConfig(ctx, cfg, expected)
	if err != nil {
		return nil, err
	}
	cfg.SHA = sha
	s.platform.Set(cfg)

	slog.Info("platform config saved", "users", len(cfg.Users), "sha", sha)
	return cfg, nil
}

// PlatformConfig returns the configuration in effect.
func (s *Service) PlatformConfig() *model.PlatformConfig {
	return s.platform.Current()
}

// save writes the book back. A caller without a sha is still protected
// against writers that raced this read.
func (s *Service) save(ctx context.Context, book *model.LoanBook, sha string) (string, error) {
	if sha == "" {
		sha = book.SHA
	}
	return s.store.SaveBook(ctx, book.Loans, sha)
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}

// checkAllocations validates a re-allocation and returns its non-market
// entries.
func checkAllocations(allocs []model.OwnershipAllocation) ([]model.OwnershipAllocation, error) {
	held := make([]model.OwnershipAllocation, 0, len(allocs)+1)
	seen := make(map[string]bool)
	total := decimal.Zero

	for _, a := range allocs {
		if ownership.IsMarket(a.User) {
			continue
		}
		a.User = strings.TrimSpace(a.User)
		key := ownership.UserKey(a.User)
		switch {
		case key == "":
			return nil, fmt.Errorf("%w: user is required", ErrInvalidAllocation)
		case seen[key]:
			return nil, fmt.Errorf("%w: %s is listed twice", ErrInvalidAllocation, a.User)
		case a.Percent.IsNegative() || a.Percent.GreaterThan(hundred):
			return nil, fmt.Errorf("%w: percent of %s must be in [0, 100]", ErrInvalidAllocation, a.User)
		}
		seen[key] = true
		total = total.Add(a.Percent)
		held = append(held, a)
	}
	if total.GreaterThan(hundred) {
		return nil, fmt.Errorf("%w: total is %s", ErrOverAllocated, total)
	}
	return held, nil
}
