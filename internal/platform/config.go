// Package platform loads the platform configuration (fees and investor
// policy). A configuration is an immutable value: Holder.Reload swaps in a
// freshly loaded one instead of editing the current value in place.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/loanreport/ownership-engine/internal/metrics"
	"github.com/loanreport/ownership-engine/internal/model"
)

var (
	// ErrNoSource is returned by a Loader without a URL or file.
	ErrNoSource = errors.New("platform: no configuration source")

	// ErrInvalidConfig is returned for a document Parse cannot read.
	ErrInvalidConfig = errors.New("platform: invalid configuration")
)

// DefaultFees are used when a configuration omits its fees.
func DefaultFees() model.Fees {
	return model.Fees{
		SetupFee:            decimal.NewFromInt(150),
		MonthlyServicingBps: decimal.NewFromInt(25),
	}
}

// Default returns the configuration in effect before anything is loaded.
func Default() *model.PlatformConfig {
	return &model.PlatformConfig{Fees: DefaultFees(), Users: map[string]model.PlatformUser{}}
}

type rawUser struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Role      string  `json:"role"`
	FeePolicy *string `json:"feePolicy"`
	FeeWaiver *string `json:"feeWaiver"`
	Active    *bool   `json:"active"`
}

type rawConfig struct {
	Fees  *model.Fees     `json:"fees"`
	Users json.RawMessage `json:"users"`
	SHA   string          `json:"sha"`
}

// Parse decodes a configuration document. Users may be an object keyed by
// id or, in older documents, an array of users carrying their own id. A
// "sha" field, as returned alongside a saved configuration, is kept in SHA.
func Parse(data []byte) (*model.PlatformConfig, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg := Default()
	cfg.SHA = raw.SHA
	if raw.Fees != nil {
		cfg.Fees = *raw.Fees
	}

	users := strings.TrimSpace(string(raw.Users))
	switch {
	case strings.HasPrefix(users, "["):
		var list []rawUser
		if err := json.Unmarshal(raw.Users, &list); err != nil {
			return nil, fmt.Errorf("%w: users: %v", ErrInvalidConfig, err)
		}
		for _, u := range list {
			policy := "none"
			if u.FeePolicy != nil {
				policy = *u.FeePolicy
			} else if u.FeeWaiver != nil {
				policy = *u.FeeWaiver
			}
			cfg.Users[u.ID] = newUser(u.ID, u, policy)
		}
	case strings.HasPrefix(users, "{"):
		var byID map[string]rawUser
		if err := json.Unmarshal(raw.Users, &byID); err != nil {
			return nil, fmt.Errorf("%w: users: %v", ErrInvalidConfig, err)
		}
		for id, u := range byID {
			policy := "none"
			if u.FeePolicy != nil {
				policy = *u.FeePolicy
			}
			cfg.Users[id] = newUser(id, u, policy)
		}
	}
	return cfg, nil
}

func newUser(id string, u rawUser, policy string) model.PlatformUser {
	return model.PlatformUser{
		ID:        id,
		Name:      u.Name,
		Role:      u.Role,
		FeePolicy: policy,
		Active:    u.Active == nil || *u.Active,
	}
}

// Loader fetches the configuration document from a URL or a local file.
// The URL wins when both are set.
type Loader struct {
	URL    string
	File   string
	Client *http.Client
}

// NewLoader creates a loader with a 10s HTTP timeout.
func NewLoader(url, file string) *Loader {
	return &Loader{URL: url, File: file, Client: &http.Client{Timeout: 10 * time.Second}}
}

// Load reads and parses a fresh configuration.
func (l *Loader) Load(ctx context.Context) (*model.PlatformConfig, error) {
	data, err := l.read(ctx)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func (l *Loader) read(ctx context.Context) ([]byte, error) {
	switch {
	case l.URL != "":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("build platform config request: %w", err)
		}
		req.Header.Set("Cache-Control", "no-store")

		client := l.Client
		if client == nil {
			client = http.DefaultClient
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch platform config: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("failed to load platform config: %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	case l.File != "":
		data, err := os.ReadFile(l.File)
		if err != nil {
			return nil, fmt.Errorf("read platform config: %w", err)
		}
		return data, nil
	default:
		return nil, ErrNoSource
	}
}

// Source produces a fresh configuration on each call.
type Source interface {
	Load(ctx context.Context) (*model.PlatformConfig, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*model.PlatformConfig, error)

func (f SourceFunc) Load(ctx context.Context) (*model.PlatformConfig, error) {
	return f(ctx)
}

// FirstOf tries each source in order and returns the first configuration
// loaded. If every source fails the last error is returned.
func FirstOf(sources ...Source) Source {
	return SourceFunc(func(ctx context.Context) (*model.PlatformConfig, error) {
		err := ErrNoSource
		for _, src := range sources {
			var cfg *model.PlatformConfig
			if cfg, err = src.Load(ctx); err == nil {
				return cfg, nil
			}
		}
		return nil, err
	})
}

// Holder owns the configuration currently in effect. Construct one with
// NewHolder and pass it to whatever needs the configuration.
type Holder struct {
	source  Source
	current atomic.Pointer[model.PlatformConfig]
}

// NewHolder creates a holder serving initial until the first reload. A nil
// initial serves Default().
func NewHolder(source Source, initial *model.PlatformConfig) *Holder {
	if initial == nil {
		initial = Default()
	}
	h := &Holder{source: source}
	h.current.Store(initial)
	return h
}

// Current returns the configuration in effect. Callers must not modify it.
func (h *Holder) Current() *model.PlatformConfig {
	return h.current.Load()
}

// Set makes cfg current, e.g. after it has been saved.
func (h *Holder) Set(cfg *model.PlatformConfig) {
	h.current.Store(cfg)
}

// Reload loads a fresh configuration and makes it current. On error the
// previous configuration stays in effect.
func (h *Holder) Reload(ctx context.Context) (*model.PlatformConfig, error) {
	if h.source == nil {
		return nil, ErrNoSource
	}
	cfg, err := h.source.Load(ctx)
	if err != nil {
		metrics.PlatformConfigReloads.WithLabelValues("error").Inc()
		return nil, err
	}
	h.current.Store(cfg)
	metrics.PlatformConfigReloads.WithLabelValues("ok").Inc()
	slog.Info("platform config reloaded",
		"users", len(cfg.Users),
		"setup_fee", cfg.Fees.SetupFee.String(),
		"servicing_bps", cfg.Fees.MonthlyServicingBps.String(),
	)
	return cfg, nil
}
