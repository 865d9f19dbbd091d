package counter

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/iconidentify/vidfetch/internal/domain"
)

const statsTable = "download_stats"

var (
	//go:embed migrations/*.sql
	migrations embed.FS

	// goose keeps its dialect and filesystem in package globals.
	migrateMu sync.Mutex
)

// SQLStore keeps the counter in a SQL table, one row per day.
//
// Increment is a plain read followed by a write without a transaction or
// row lock. Concurrent increments for the same day can be lost, but never
// fail: a racing first insert of the day is dropped by ON CONFLICT.
type SQLStore struct {
	db      *sqlx.DB
	builder sq.StatementBuilderType
	logger  *slog.Logger
}

// OpenSQLite opens (and migrates) a SQLite database at path.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)

	return newSQLStore(ctx, db, "sqlite3", sq.Question, logger)
}

// OpenPostgres opens (and migrates) a PostgreSQL database.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*SQLStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return newSQLStore(ctx, db, "postgres", sq.Dollar, logger)
}

func newSQLStore(ctx context.Context, db *sqlx.DB, dialect string, ph sq.PlaceholderFormat, logger *slog.Logger) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect counter database: %w", err)
	}

	if err := migrate(db.DB, dialect, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(ph),
		logger:  logger,
	}, nil
}

func migrate(db *sql.DB, dialect string, logger *slog.Logger) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{logger})
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("migrate counter database: %w", err)
	}
	return nil
}

// Increment bumps the counter for day.
func (s *SQLStore) Increment(ctx context.Context, day string) error {
	current, err := s.read(ctx, day)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.exec(ctx, s.builder.
			Insert(statsTable).
			Columns("day", "downloads").
			Values(day, 1).
			Suffix("ON CONFLICT (day) DO NOTHING"))
	case err != nil:
		return fmt.Errorf("read counter: %w", err)
	}

	return s.exec(ctx, s.builder.
		Update(statsTable).
		Set("downloads", current+1).
		Set("updated_at", sq.Expr("CURRENT_TIMESTAMP")).
		Where(sq.Eq{"day": day}))
}

// Stats returns the counter for day and the total across all days.
func (s *SQLStore) Stats(ctx context.Context, day string) (*domain.DailyStats, error) {
	stats := &domain.DailyStats{Day: day}

	today, err := s.read(ctx, day)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read counter: %w", err)
	}
	stats.DownloadsToday = today

	query, args, err := s.builder.
		Select("COALESCE(SUM(downloads), 0)").
		From(statsTable).
		ToSql()
	if err != nil {
		return nil, err
	}
	if err := s.db.GetContext(ctx, &stats.TotalDownloads, query, args...); err != nil {
		return nil, fmt.Errorf("sum counter: %w", err)
	}
	return stats, nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) read(ctx context.Context, day string) (int64, error) {
	query, args, err := s.builder.
		Select("downloads").
		From(statsTable).
		Where(sq.Eq{"day": day}).
		ToSql()
	if err != nil {
		return 0, err
	}

	var n int64
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLStore) exec(ctx context.Context, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write counter: %w", err)
	}
	return nil
}

// gooseLogger routes migration output through slog.
type gooseLogger struct {
	logger *slog.Logger
}

func (l gooseLogger) Fatal(v ...interface{}) {
	l.logger.Error("migration failed", "detail", fmt.Sprint(v...))
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error("migration failed", "detail", fmt.Sprintf(format, v...))
}

func (l gooseLogger) Print(v ...interface{}) {
	l.logger.Debug(fmt.Sprint(v...))
}

func (l gooseLogger) Println(v ...interface{}) {
	l.logger.Debug(fmt.Sprint(v...))
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}
