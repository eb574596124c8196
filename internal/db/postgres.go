package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/pressly/goose/v3"

	"astro-bot/internal/config"
	"astro-bot/internal/ledger"
	"astro-bot/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresDB implements ledger.Ledger on top of a pgx pool.
type PostgresDB struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

var _ ledger.Ledger = (*PostgresDB)(nil)

func NewPostgresDB(cfg config.DB) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB connection string: %w", err)
	}

	// Set connection pool parameters
	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnLifetime
	poolConfig.MaxConnIdleTime = 15 * time.Minute

	// Connect with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &PostgresDB{
		pool:   pool,
		delays: []time.Duration{500 * time.Millisecond, 1 * time.Second, 3 * time.Second},
	}

	if err := db.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return db, nil
}

func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

func (db *PostgresDB) migrate(ctx context.Context) error {
	sqlDB := stdlib.OpenDB(*db.pool.Config().ConnConfig)
	defer sqlDB.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// withRetry re-runs fn on serialization failures, deadlocks and dropped
// connections. Context errors are returned immediately.
func (db *PostgresDB) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; ; i++ {
		err = fn()
		if err == nil || !isRetryable(err) || i >= len(db.delays) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(db.delays[i]):
		}
	}
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
			return true
		}
		return pgerrcode.IsConnectionException(pgErr.Code)
	}

	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

func userColumns() string {
	cols := []string{
		"tg_id", "name",
		"birth_date", "birth_time", "birth_country", "birth_city",
		"partner_name", "partner_birth_date", "partner_birth_time", "partner_birth_country", "partner_birth_city",
		"created_at", "updated_at",
	}
	for _, p := range models.Products() {
		cols = append(cols, p.PaidColumn)
	}
	for _, p := range models.Products() {
		cols = append(cols, p.DocColumn)
	}
	return strings.Join(cols, ", ")
}

func scanUser(row pgx.Row) (*models.User, error) {
	products := models.Products()

	var (
		u                       models.User
		birthDate, partnerBirth *time.Time
		paid                    = make([]bool, len(products))
		docs                    = make([]*string, len(products))
	)

	dest := []interface{}{
		&u.TelegramID, &u.Name,
		&birthDate, &u.BirthTime, &u.BirthCountry, &u.BirthCity,
		&u.Partner.Name, &partnerBirth, &u.Partner.BirthTime, &u.Partner.BirthCountry, &u.Partner.BirthCity,
		&u.CreatedAt, &u.UpdatedAt,
	}
	for i := range paid {
		dest = append(dest, &paid[i])
	}
	for i := range docs {
		dest = append(dest, &docs[i])
	}

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrUserNotFound
		}
		return nil, err
	}

	if birthDate != nil {
		u.BirthDate = *birthDate
	}
	if partnerBirth != nil {
		u.Partner.BirthDate = *partnerBirth
	}

	u.Paid = make(map[models.ProductKind]bool, len(products))
	u.Documents = make(map[models.ProductKind]string, len(products))
	for i, p := range products {
		u.Paid[p.Kind] = paid[i]
		if docs[i] != nil {
			u.Documents[p.Kind] = *docs[i]
		}
	}

	return &u, nil
}

func (db *PostgresDB) GetUser(ctx context.Context, telegramID int64) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE tg_id = $1`, userColumns())

	var user *models.User
	err := db.withRetry(ctx, func() error {
		var err error
		user, err = scanUser(db.pool.QueryRow(ctx, query, telegramID))
		return err
	})
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user %d: %w", telegramID, err)
	}

	return user, nil
}

// CreateUser inserts the user if absent. ON CONFLICT makes concurrent calls
// for one id converge on a single row.
func (db *PostgresDB) CreateUser(ctx context.Context, telegramID int64, name string) (*models.User, error) {
	query := `
        INSERT INTO users (tg_id, name)
        VALUES ($1, $2)
        ON CONFLICT (tg_id) DO NOTHING
    `

	err := db.withRetry(ctx, func() error {
		_, err := db.pool.Exec(ctx, query, telegramID, name)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user %d: %w", telegramID, err)
	}

	return db.GetUser(ctx, telegramID)
}

func (db *PostgresDB) UpdateProfile(ctx context.Context, telegramID int64, profile models.Profile) error {
	query := `
        UPDATE users
        SET birth_date = $2, birth_time = $3, birth_country = $4, birth_city = $5, updated_at = NOW()
        WHERE tg_id = $1
    `

	return db.exec(ctx, "update profile", query,
		telegramID, nullDate(profile.BirthDate), profile.BirthTime, profile.BirthCountry, profile.BirthCity,
	)
}

func (db *PostgresDB) UpdatePartner(ctx context.Context, telegramID int64, partner models.Partner) error {
	query := `
        UPDATE users
        SET partner_name = $2, partner_birth_date = $3, partner_birth_time = $4,
            partner_birth_country = $5, partner_birth_city = $6, updated_at = NOW()
        WHERE tg_id = $1
    `

	return db.exec(ctx, "update partner", query,
		telegramID, partner.Name, nullDate(partner.BirthDate), partner.BirthTime, partner.BirthCountry, partner.BirthCity,
	)
}

func (db *PostgresDB) SetPaid(ctx context.Context, telegramID int64, kind models.ProductKind) error {
	p, ok := kind.Lookup()
	if !ok {
		return ledger.ErrUnknownProduct
	}

	// Column names come from the fixed product catalogue, never from input.
	query := fmt.Sprintf(`UPDATE users SET %s = TRUE, updated_at = NOW() WHERE tg_id = $1`, p.PaidColumn)
	return db.exec(ctx, "set paid", query, telegramID)
}

func (db *PostgresDB) SetCachedDocument(ctx context.Context, telegramID int64, kind models.ProductKind, url string) error {
	p, ok := kind.Lookup()
	if !ok {
		return ledger.ErrUnknownProduct
	}

	query := fmt.Sprintf(`UPDATE users SET %s = $2, updated_at = NOW() WHERE tg_id = $1`, p.DocColumn)
	return db.exec(ctx, "set cached document", query, telegramID, url)
}

// exec runs a single-row update and maps "no row" to ErrUserNotFound.
func (db *PostgresDB) exec(ctx context.Context, op, query string, args ...interface{}) error {
	var affected int64
	err := db.withRetry(ctx, func() error {
		tag, err := db.pool.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if affected == 0 {
		return ledger.ErrUserNotFound
	}
	return nil
}

func nullDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
