package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loanreport/ownership-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Every save bumps a generation counter. A read only fills the cache if the
// counter has not moved since before it hit the primary, so a read that
// overlaps a save cannot put the pre-save book back into Redis.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveBook(ctx context.Context, loans []model.Loan, expectedSHA string) (string, error) {
	// Drop the book before the write so a failed save cannot leave a
	// stale token cached.
	s.rdb.Del(ctx, bookKey)

	sha, err := s.primary.SaveBook(ctx, loans, expectedSHA)
	if err != nil {
		return "", err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Incr(ctx, generationKey)
	pipe.Del(ctx, bookKey, loansKey)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("loan cache invalidation failed", "err", err)
	}
	return sha, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LoadBook(ctx context.Context) (*model.LoanBook, error) {
	data, err := s.rdb.Get(ctx, bookKey).Bytes()
	if err == nil {
		var book model.LoanBook
		if json.Unmarshal(data, &book) == nil {
			return &book, nil
		}
	}

	gen, cacheable := s.generation(ctx)
	book, err := s.primary.LoadBook(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(book); err == nil && cacheable {
		s.fill(ctx, gen, func(pipe redis.Pipeliner) {
			pipe.Set(ctx, bookKey, data, s.ttl)
		})
	}
	return book, nil
}

func (s *CachedStore) GetLoan(ctx context.Context, id string) (*model.Loan, error) {
	data, err := s.rdb.HGet(ctx, loansKey, id).Bytes()
	if err == nil {
		var l model.Loan
		if json.Unmarshal(data, &l) == nil {
			return &l, nil
		}
	}

	gen, cacheable := s.generation(ctx)
	l, err := s.primary.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(l); err == nil && cacheable {
		s.fill(ctx, gen, func(pipe redis.Pipeliner) {
			pipe.HSet(ctx, loansKey, id, data)
			pipe.Expire(ctx, loansKey, s.ttl)
		})
	}
	return l, nil
}

// The platform configuration is small and rarely read; it is not cached.

func (s *CachedStore) LoadPlatformConfig(ctx context.Context) (*model.PlatformConfig, error) {
	return s.primary.LoadPlatformConfig(ctx)
}

func (s *CachedStore) SavePlatformConfig(ctx context.Context, cfg *model.PlatformConfig, expectedSHA string) (string, error) {
	return s.primary.SavePlatformConfig(ctx, cfg, expectedSHA)
}

// --- Cache helpers ---

// Single loans live in one hash so a save can drop them all at once,
// including loans the save removed.
const (
	bookKey       = "loans:book"
	loansKey      = "loans:byid"
	generationKey = "loans:generation"
)

var errSavedMeanwhile = errors.New("store: loan book saved during read")

// generation reads the save counter. A missing counter reads as "".
func (s *CachedStore) generation(ctx context.Context) (string, bool) {
	gen, err := s.rdb.Get(ctx, generationKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", true
	}
	return gen, err == nil
}

// fill runs write in a transaction that only commits while the generation
// is still gen.
func (s *CachedStore) fill(ctx context.Context, gen string, write func(redis.Pipeliner)) {
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, generationKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errSavedMeanwhile
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			write(pipe)
			return nil
		})
		return err
	}, generationKey)

	switch {
	case err == nil, errors.Is(err, errSavedMeanwhile), errors.Is(err, redis.TxFailedErr):
	default:
		slog.Warn("loan cache fill failed", "err", err)
	}
}
