package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loanreport/ownership-engine/internal/model"
)

// Schema is the DDL PostgresStore expects. Loans are kept as JSONB so that
// fields the service does not know survive a save.
const Schema = `
CREATE TABLE IF NOT EXISTS loan_book (
	id         SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	sha        TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS loans (
	id       TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	body     JSONB NOT NULL
);
INSERT INTO loan_book (id, sha) VALUES (1, gen_random_uuid()::TEXT) ON CONFLICT (id) DO NOTHING;
CREATE TABLE IF NOT EXISTS platform_config (
	id         SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	sha        TEXT NOT NULL,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate loan store: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadBook(ctx context.Context) (*model.LoanBook, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly, IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	book := &model.LoanBook{Loans: []model.Loan{}}
	if err := tx.QueryRow(ctx, `SELECT sha FROM loan_book WHERE id = 1`).Scan(&book.SHA); err != nil {
		return nil, fmt.Errorf("load book sha: %w", err)
	}

	rows, err := tx.Query(ctx, `SELECT body FROM loans ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var l model.Loan
		if err := json.Unmarshal(body, &l); err != nil {
			return nil, fmt.Errorf("decode loan: %w", err)
		}
		book.Loans = append(book.Loans, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return book, tx.Commit(ctx)
}

func (s *PostgresStore) GetLoan(ctx context.Context, id string) (*model.Loan, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM loans WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrLoanNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get loan %s: %w", id, err)
	}

	var l model.Loan
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, fmt.Errorf("decode loan %s: %w", id, err)
	}
	return &l, nil
}

func (s *PostgresStore) SaveBook(ctx context.Context, loans []model.Loan, expectedSHA string) (string, error) {
	if err := checkUniqueIDs(loans); err != nil {
		return "", err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	// Row lock serializes concurrent saves.
	var current string
	if err := tx.QueryRow(ctx, `SELECT sha FROM loan_book WHERE id = 1 FOR UPDATE`).Scan(&current); err != nil {
		return "", fmt.Errorf("lock loan book: %w", err)
	}
	if expectedSHA != "" && expectedSHA != current {
		return "", ErrVersionConflict
	}

	if _, err := tx.Exec(ctx, `DELETE FROM loans`); err != nil {
		return "", fmt.Errorf("clear loans: %w", err)
	}

	batch := &pgx.Batch{}
	for i, l := range loans {
		body, err := json.Marshal(l)
		if err != nil {
			return "", fmt.Errorf("encode loan %s: %w", l.ID, err)
		}
		batch.Queue(`INSERT INTO loans (id, position, body) VALUES ($1, $2, $3)`, l.ID, i, body)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return "", fmt.Errorf("insert loans: %w", err)
	}

	sha := newSHA()
	if _, err := tx.Exec(ctx, `UPDATE loan_book SET sha = $1, updated_at = now() WHERE id = 1`, sha); err != nil {
		return "", fmt.Errorf("bump loan book sha: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return sha, nil
}

func (s *PostgresStore) LoadPlatformConfig(ctx context.Context) (*model.PlatformConfig, error) {
	var sha string
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT sha, body FROM platform_config WHERE id = 1`).Scan(&sha, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load platform config: %w", err)
	}

	var cfg model.PlatformConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("decode platform config: %w", err)
	}
	cfg.SHA = sha
	return &cfg, nil
}

func (s *PostgresStore) SavePlatformConfig(ctx context.Context, cfg *model.PlatformConfig, expectedSHA string) (string, error) {
	doc := cfg.Clone()
	doc.SHA = ""
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode platform config: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `SELECT sha FROM platform_config WHERE id = 1 FOR UPDATE`).Scan(&current)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("lock platform config: %w", err)
	}
	if expectedSHA != "" && expectedSHA != current {
		return "", ErrVersionConflict
	}

	sha := newSHA()
	if _, err := tx.Exec(ctx, `
		INSERT INTO platform_config (id, sha, body) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET sha = EXCLUDED.sha, body = EXCLUDED.body, updated_at = now()`,
		sha, body); err != nil {
		return "", fmt.Errorf("save platform config: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return sha, nil
}
