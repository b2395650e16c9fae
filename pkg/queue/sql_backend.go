package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver

	"github.com/nimburion/queuevisor/pkg/observability/logger"
)

const (
	defaultSQLTable            = "queue_jobs"
	defaultSQLOperationTimeout = 5 * time.Second
	defaultSQLLeaseTTL         = 60 * time.Second
)

// Dialect captures the SQL differences between supported databases.
type Dialect struct {
	Driver      string
	PayloadType string
	// numbered placeholders ($1, $2...) instead of ?
	numbered bool
}

var (
	PostgresDialect = Dialect{Driver: "postgres", PayloadType: "BYTEA", numbered: true}
	MySQLDialect    = Dialect{Driver: "mysql", PayloadType: "LONGBLOB"}
)

// rebind rewrites ? placeholders for dialects that number them.
func (d Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// SQLBackendConfig configures the SQL backend.
type SQLBackendConfig struct {
	DSN              string
	Table            string
	OperationTimeout time.Duration
	LeaseTTL         time.Duration
}

func (c *SQLBackendConfig) normalize() {
	if strings.TrimSpace(c.Table) == "" {
		c.Table = defaultSQLTable
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultSQLOperationTimeout
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultSQLLeaseTTL
	}
}

func validTableName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// SQLBackend stores jobs as rows of one table shared by all tubes. Times are
// kept as Unix milliseconds. Pop locks a row with FOR UPDATE SKIP LOCKED so
// concurrent workers never reserve the same job.
type SQLBackend struct {
	db      *sql.DB
	dialect Dialect
	log     logger.Logger
	config  SQLBackendConfig

	mu     sync.RWMutex
	closed bool
}

// NewSQLBackend opens the database with dialect's driver and pings it.
func NewSQLBackend(dialect Dialect, cfg SQLBackendConfig, log logger.Logger) (*SQLBackend, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	db, err := sql.Open(dialect.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	backend, err := newSQLBackendWithDB(db, dialect, cfg, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sql queue backend connected", "driver", dialect.Driver, "table", backend.config.Table)
	return backend, nil
}

func newSQLBackendWithDB(db *sql.DB, dialect Dialect, cfg SQLBackendConfig, log logger.Logger) (*SQLBackend, error) {
	cfg.normalize()
	if !validTableName(cfg.Table) {
		return nil, queueError(ErrValidation, "invalid table name "+cfg.Table)
	}
	return &SQLBackend{db: db, dialect: dialect, log: log, config: cfg}, nil
}

// EnsureSchema creates the jobs table when it does not exist.
func (b *SQLBackend) EnsureSchema(ctx context.Context) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(64) PRIMARY KEY,
	tube VARCHAR(255) NOT NULL,
	name VARCHAR(255) NOT NULL,
	payload %s,
	attempts INTEGER NOT NULL DEFAULT 0,
	available_at BIGINT NOT NULL,
	reserved_at BIGINT NULL,
	buried_at BIGINT NULL,
	created_at BIGINT NOT NULL
)`, b.config.Table, b.dialect.PayloadType)
	if _, err := b.db.ExecContext(opCtx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", b.config.Table, err)
	}
	return nil
}

func (b *SQLBackend) Push(ctx context.Context, tube, name string, payload []byte) (string, error) {
	return b.PushDelayed(ctx, 0, tube, name, payload)
}

func (b *SQLBackend) PushDelayed(ctx context.Context, delay time.Duration, tube, name string, payload []byte) (string, error) {
	if err := b.ensureOpen(); err != nil {
		return "", err
	}
	env, err := newEnvelope(tube, name, payload)
	if err != nil {
		return "", err
	}
	if delay < 0 {
		delay = 0
	}
	now := env.PushedAt.UnixMilli()

	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	_, err = b.db.ExecContext(opCtx, b.query(
		"INSERT INTO %s (id, tube, name, payload, attempts, available_at, created_at) VALUES (?, ?, ?, ?, 0, ?, ?)"),
		env.ID, env.Tube, env.Name, env.Payload, now+delay.Milliseconds(), now,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert job: %w", err)
	}
	recordJobPushed(b.dialect.Driver, env.Tube)
	return env.ID, nil
}

// Size counts the jobs of tube that are not buried.
func (b *SQLBackend) Size(ctx context.Context, tube string) (int64, error) {
	if err := b.ensureOpen(); err != nil {
		return 0, err
	}
	tube, err := validateTube(tube)
	if err != nil {
		return 0, err
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	var count int64
	err = b.db.QueryRowContext(opCtx, b.query("SELECT COUNT(*) FROM %s WHERE tube = ? AND buried_at IS NULL"), tube).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

// Pop reserves the oldest available job. Reservations older than the lease
// TTL count as abandoned and are handed out again.
func (b *SQLBackend) Pop(ctx context.Context, tube string) (Job, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	tube, err := validateTube(tube)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := b.operationContext(ctx)
	defer cancel()

	tx, err := b.db.BeginTx(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	env := Envelope{Tube: tube}
	err = tx.QueryRowContext(opCtx, b.query(
		"SELECT id, name, payload, attempts FROM %s WHERE tube = ? AND buried_at IS NULL AND available_at <= ? "+
			"AND (reserved_at IS NULL OR reserved_at <= ?) ORDER BY available_at, created_at LIMIT 1 FOR UPDATE SKIP LOCKED"),
		tube, now, now-b.config.LeaseTTL.Milliseconds(),
	).Scan(&env.ID, &env.Name, &env.Payload, &env.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select job: %w", err)
	}

	if _, err := tx.ExecContext(opCtx, b.query("UPDATE %s SET reserved_at = ?, attempts = attempts + 1 WHERE id = ?"), now, env.ID); err != nil {
		return nil, fmt.Errorf("failed to reserve job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}
	env.Attempts++

	id := env.ID
	return &buriableJob{
		reservedJob: &reservedJob{
			env:      env,
			deleteFn: func(ctx context.Context) error { return b.exec(ctx, "DELETE FROM %s WHERE id = ?", id) },
			releaseFn: func(ctx context.Context) error {
				return b.exec(ctx, "UPDATE %s SET reserved_at = NULL WHERE id = ?", id)
			},
		},
		buryFn: func(ctx context.Context) error {
			return b.exec(ctx, "UPDATE %s SET reserved_at = NULL, buried_at = ? WHERE id = ?", time.Now().UnixMilli(), id)
		},
	}, nil
}

func (b *SQLBackend) AutoDeletes() bool { return false }

// HealthCheck verifies the database connection is healthy with a timeout
func (b *SQLBackend) HealthCheck(ctx context.Context) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := b.db.PingContext(ctx); err != nil {
		b.log.Error("SQL queue health check failed", "error", err)
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (b *SQLBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.db.Close()
}

func (b *SQLBackend) exec(ctx context.Context, format string, args ...any) error {
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	if _, err := b.db.ExecContext(opCtx, b.query(format), args...); err != nil {
		return fmt.Errorf("sql queue operation failed: %w", err)
	}
	return nil
}

func (b *SQLBackend) query(format string) string {
	return b.dialect.rebind(fmt.Sprintf(format, b.config.Table))
}

func (b *SQLBackend) ensureOpen() error {
	if b == nil || b.db == nil {
		return errors.New("sql backend is not initialized")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return queueError(ErrClosed, "sql backend is closed")
	}
	return nil
}

func (b *SQLBackend) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, b.config.OperationTimeout)
}
