package portfolio

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/loanreport/ownership-engine/internal/loan"
	"github.com/loanreport/ownership-engine/internal/metrics"
	"github.com/loanreport/ownership-engine/internal/model"
	"github.com/loanreport/ownership-engine/internal/platform"
	"github.com/loanreport/ownership-engine/internal/store"
)

// SaveLoansRequest replaces the whole loan book.
type SaveLoansRequest struct {
	Loans []json.RawMessage `json:"loans"`
	SHA   string            `json:"sha"`
}

// AllocationsRequest replaces a loan's declared allocations.
type AllocationsRequest struct {
	Allocations []model.OwnershipAllocation `json:"allocations"`
	SHA         string                      `json:"sha"`
}

// LotRequest records a priced tranche of a loan.
type LotRequest struct {
	User         string          `json:"user"`
	Pct          decimal.Decimal `json:"pct"`
	PricePaid    decimal.Decimal `json:"pricePaid"`
	PurchaseDate model.Date      `json:"purchaseDate"`
	SHA          string          `json:"sha"`
}

// LoanResponse is a single loan plus the book token after an edit.
type LoanResponse struct {
	Loan *model.Loan `json:"loan"`
	SHA  string      `json:"sha"`
}

// maxConfigBytes caps a platform configuration upload.
const maxConfigBytes = 1 << 20

// Routes mounts the service's handlers on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/loans", s.ListLoans)
	r.Post("/loans", s.SaveLoans)
	r.Get("/loans/{loanID}", s.GetLoan)
	r.Get("/loans/{loanID}/ownership", s.GetOwnership)
	r.Put("/loans/{loanID}/allocations", s.UpdateAllocations)
	r.Post("/loans/{loanID}/lots", s.AddLot)

	r.Get("/portfolio/{userID}", s.GetPortfolio)

	r.Get("/platform-config", s.GetPlatformConfig)
	r.Post("/platform-config", s.SavePlatform)
	r.Post("/platform-config/reload", s.ReloadPlatform)
}

// ListLoans handles GET /api/v1/loans.
func (s *Service) ListLoans(w http.ResponseWriter, r *http.Request) {
	book, err := s.Book(r.Context())
	if err != nil {
		slog.Error("failed to load loans", "err", err)
		writeError(w, "failed to load loans", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// SaveLoans handles POST /api/v1/loans.
func (s *Service) SaveLoans(w http.ResponseWriter, r *http.Request) {
	var req SaveLoansRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Loans == nil {
		writeError(w, "loans is required", http.StatusBadRequest)
		return
	}

	sha, err := s.ReplaceBook(r.Context(), req.Loans, req.SHA)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sha": sha})
}

// GetLoan handles GET /api/v1/loans/{loanID}.
func (s *Service) GetLoan(w http.ResponseWriter, r *http.Request) {
	l, err := s.Loan(r.Context(), chi.URLParam(r, "loanID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// GetOwnership handles GET /api/v1/loans/{loanID}/ownership.
func (s *Service) GetOwnership(w http.ResponseWriter, r *http.Request) {
	view, err := s.Ownership(r.Context(), chi.URLParam(r, "loanID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// UpdateAllocations handles PUT /api/v1/loans/{loanID}/allocations.
func (s *Service) UpdateAllocations(w http.ResponseWriter, r *http.Request) {
	var req AllocationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	l, sha, err := s.Reallocate(r.Context(), chi.URLParam(r, "loanID"), req.Allocations, req.SHA)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LoanResponse{Loan: l, SHA: sha})
}

// AddLot handles POST /api/v1/loans/{loanID}/lots.
func (s *Service) AddLot(w http.ResponseWriter, r *http.Request) {
	var req LotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	lot := model.OwnershipLot{
		User:         req.User,
		Pct:          req.Pct,
		PricePaid:    req.PricePaid,
		PurchaseDate: req.PurchaseDate,
	}
	l, sha, err := s.AddLotTo(r.Context(), chi.URLParam(r, "loanID"), lot, req.SHA)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, LoanResponse{Loan: l, SHA: sha})
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.Portfolio(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		slog.Error("failed to build portfolio", "err", err)
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetPlatformConfig handles GET /api/v1/platform-config.
func (s *Service) GetPlatformConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.PlatformConfig())
}

// SavePlatform handles POST /api/v1/platform-config.
func (s *Service) SavePlatform(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBytes))
	if err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cfg, err := s.SavePlatformConfig(r.Context(), data)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// ReloadPlatform handles POST /api/v1/platform-config/reload.
func (s *Service) ReloadPlatform(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.ReloadPlatformConfig(r.Context())
	switch {
	case errors.Is(err, platform.ErrNoSource):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case errors.Is(err, store.ErrConfigNotFound):
		writeError(w, "no platform config has been saved", http.StatusNotFound)
		return
	case err != nil:
		slog.Error("platform config reload failed", "err", err)
		writeError(w, "platform config reload failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// writeServiceError maps service and store errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrLoanNotFound):
		writeError(w, "loan not found", http.StatusNotFound)
	case errors.Is(err, store.ErrVersionConflict):
		metrics.VersionConflicts.Inc()
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrLotExceedsLoan):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrInvalidAllocation),
		errors.Is(err, ErrOverAllocated),
		errors.Is(err, ErrInvalidLot),
		errors.Is(err, loan.ErrNotObject),
		errors.Is(err, store.ErrDuplicateLoanID),
		errors.Is(err, platform.ErrInvalidConfig):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
