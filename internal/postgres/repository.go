package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drug-speak/internal/config"
	"github.com/drug-speak/internal/domain"
)

// PostgreSQL error codes
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) PRIMARY KEY,
			username VARCHAR(64) NOT NULL,
			email VARCHAR(255) NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			gender VARCHAR(10) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS study_records (
			user_id VARCHAR(64) PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			current_learning INT NOT NULL DEFAULT 0 CHECK (current_learning >= 0),
			finished_learning INT NOT NULL DEFAULT 0 CHECK (finished_learning >= 0),
			total_score INT NOT NULL DEFAULT 0 CHECK (total_score >= 0),
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS study_record_events (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			current_learning INT NOT NULL,
			finished_learning INT NOT NULL,
			total_score INT NOT NULL,
			source VARCHAR(20) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_study_records_rank ON study_records(total_score DESC, finished_learning DESC, current_learning DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_study_record_events_user ON study_record_events(user_id, created_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := r.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// CreateUser inserts a new account
func (r *Repository) CreateUser(ctx context.Context, account domain.Account) error {
	query := `
		INSERT INTO users (id, username, email, password_hash, gender, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		account.ID,
		account.Username,
		account.Email,
		account.PasswordHash,
		account.Gender,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrEmailTaken
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

const accountColumns = `id, username, email, password_hash, gender, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID,
		&a.Username,
		&a.Email,
		&a.PasswordHash,
		&a.Gender,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return &a, nil
}

// GetAccountByEmail retrieves an account for sign-in
func (r *Repository) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM users WHERE email = $1`
	a, err := scanAccount(r.pool.QueryRow(ctx, query, email))
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return a, err
}

// GetAccount retrieves an account by user ID
func (r *Repository) GetAccount(ctx context.Context, userID string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM users WHERE id = $1`
	a, err := scanAccount(r.pool.QueryRow(ctx, query, userID))
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return a, err
}

// UpdateAccount applies the non-nil fields and returns the updated account
func (r *Repository) UpdateAccount(ctx context.Context, userID string, username, gender, passwordHash *string) (*domain.Account, error) {
	query := `
		UPDATE users SET
			username = COALESCE($2, username),
			gender = COALESCE($3, gender),
			password_hash = COALESCE($4, password_hash),
			updated_at = $5
		WHERE id = $1
		RETURNING ` + accountColumns
	a, err := scanAccount(r.pool.QueryRow(ctx, query, userID, username, gender, passwordHash, time.Now()))
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("updating user: %w", err)
	}
	return a, err
}

const recordSelect = `
	SELECT s.user_id, s.current_learning, s.finished_learning, s.total_score, s.updated_at,
	       u.username, u.gender
	FROM study_records s
	JOIN users u ON u.id = s.user_id
`

func scanRecord(row pgx.Row) (*domain.UserStudyRecord, error) {
	var rec domain.UserStudyRecord
	var info domain.UserInfo
	err := row.Scan(
		&rec.UserID,
		&rec.CurrentLearning,
		&rec.FinishedLearning,
		&rec.TotalScore,
		&rec.UpdatedAt,
		&info.Username,
		&info.Gender,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, err
	}
	info.ID = rec.UserID
	rec.User = &info
	return &rec, nil
}

// UpsertStudyRecord replaces a user's study record and returns it
func (r *Repository) UpsertStudyRecord(ctx context.Context, userID string, summary domain.StudyRecordSummary) (*domain.UserStudyRecord, error) {
	query := `
		WITH upserted AS (
			INSERT INTO study_records (user_id, current_learning, finished_learning, total_score, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id)
			DO UPDATE SET current_learning = $2, finished_learning = $3, total_score = $4, updated_at = $5
			RETURNING user_id, current_learning, finished_learning, total_score, updated_at
		)
		SELECT s.user_id, s.current_learning, s.finished_learning, s.total_score, s.updated_at,
		       u.username, u.gender
		FROM upserted s
		JOIN users u ON u.id = s.user_id
	`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query,
		userID,
		summary.CurrentLearning,
		summary.FinishedLearning,
		summary.TotalScore,
		time.Now(),
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("upserting study record: %w", err)
	}
	return rec, nil
}

// BatchUpsertStudyRecords replaces many study records in one round trip
func (r *Repository) BatchUpsertStudyRecords(ctx context.Context, submissions []domain.StudyRecordSubmission) error {
	if len(submissions) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	// unknown users are skipped instead of failing the whole batch
	query := `
		INSERT INTO study_records (user_id, current_learning, finished_learning, total_score, updated_at)
		SELECT u.id, $2::int, $3::int, $4::int, $5::timestamp FROM users u WHERE u.id = $1
		ON CONFLICT (user_id)
		DO UPDATE SET current_learning = EXCLUDED.current_learning,
			finished_learning = EXCLUDED.finished_learning,
			total_score = EXCLUDED.total_score,
			updated_at = EXCLUDED.updated_at
	`
	now := time.Now()

	for _, s := range submissions {
		batch.Queue(query, s.UserID, s.Summary.CurrentLearning, s.Summary.FinishedLearning, s.Summary.TotalScore, now)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range submissions {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch upserting study records: %w", err)
		}
	}
	return nil
}

// RecordEvent records a study-record update for auditing
func (r *Repository) RecordEvent(ctx context.Context, event domain.StudyRecordEvent) error {
	query := `
		INSERT INTO study_record_events (user_id, current_learning, finished_learning, total_score, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		event.UserID,
		event.CurrentLearning,
		event.FinishedLearning,
		event.TotalScore,
		event.Source,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

// GetStudyRecord retrieves one user's study record
func (r *Repository) GetStudyRecord(ctx context.Context, userID string) (*domain.UserStudyRecord, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, recordSelect+` WHERE s.user_id = $1`, userID))
	if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
		return nil, fmt.Errorf("getting study record: %w", err)
	}
	return rec, err
}

// ListStudyRecords retrieves every study record
func (r *Repository) ListStudyRecords(ctx context.Context) ([]domain.UserStudyRecord, error) {
	rows, err := r.pool.Query(ctx, recordSelect)
	if err != nil {
		return nil, fmt.Errorf("listing study records: %w", err)
	}
	return collectRecords(rows)
}

// ListStudyRecordsAfter pages through study records ordered by user ID,
// starting after afterUserID
func (r *Repository) ListStudyRecordsAfter(ctx context.Context, afterUserID string, limit int) ([]domain.UserStudyRecord, error) {
	rows, err := r.pool.Query(ctx, recordSelect+` WHERE s.user_id > $1 ORDER BY s.user_id LIMIT $2`, afterUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("paging study records: %w", err)
	}
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]domain.UserStudyRecord, error) {
	defer rows.Close()

	records := []domain.UserStudyRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning study record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating study records: %w", err)
	}
	return records, nil
}

// CountStudyRecords returns the number of stored study records
func (r *Repository) CountStudyRecords(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM study_records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting study records: %w", err)
	}
	return count, nil
}
