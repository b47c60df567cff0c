package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"mercator-hq/interpose/pkg/inventory"
	"mercator-hq/interpose/pkg/telemetry/logging"
)

// Driver names registered by the two SQLite implementations.
const (
	// DriverModernc is modernc.org/sqlite, a pure Go translation.
	DriverModernc = "sqlite"
	// DriverMattn is github.com/mattn/go-sqlite3, which requires cgo.
	DriverMattn = "sqlite3"
)

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path. ":memory:" opens a private in-memory
	// database.
	Path string

	// Driver is DriverModernc or DriverMattn.
	// Default: DriverModernc
	Driver string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 4
	MaxOpenConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/inventory.db",
		Driver:       DriverModernc,
		MaxOpenConns: 4,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStorage implements inventory.Storage using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStorage opens the database, creating its directory and schema
// as needed.
func NewSQLiteStorage(config *SQLiteConfig, logger *slog.Logger) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("component", "inventory.storage.sqlite")

	driver := config.Driver
	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverMattn {
		return nil, inventory.NewStorageError("sqlite", "open", fmt.Errorf("unknown driver %q", driver))
	}

	memory := config.Path == ":memory:"
	if !memory {
		if dir := filepath.Dir(config.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, inventory.NewStorageError("sqlite", "mkdir", err)
			}
		}
	}

	db, err := sql.Open(driver, dsn(driver, config.Path, config.BusyTimeout, memory))
	if err != nil {
		return nil, inventory.NewStorageError("sqlite", "open", err)
	}

	// Every connection to ":memory:" would be a separate database.
	if memory {
		db.SetMaxOpenConns(1)
	} else if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}

	s := &SQLiteStorage{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.initialize(memory); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite storage initialized",
		"path", config.Path,
		"driver", driver,
		"wal_mode", config.WALMode && !memory,
	)

	return s, nil
}

// initialize sets pragmas and creates the schema.
func (s *SQLiteStorage) initialize(memory bool) error {
	if s.config.WALMode && !memory {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return inventory.NewStorageError("sqlite", "enable_wal", err)
		}
		s.logger.Debug("WAL mode enabled")
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return inventory.NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return inventory.NewStorageError("sqlite", "create_schema", err)
	}

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return inventory.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return inventory.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return inventory.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	s.logger.Debug("schema version verified", "version", version)
	return nil
}

// StoreCertificate persists a certificate record.
func (s *SQLiteStorage) StoreCertificate(ctx context.Context, record *inventory.CertificateRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO certificates (id, domain, serial, fingerprint, not_before, not_after, issued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.Domain, record.Serial, record.Fingerprint,
		toNanos(record.NotBefore), toNanos(record.NotAfter), toNanos(record.IssuedAt),
	)
	if err != nil {
		return inventory.NewStorageError("sqlite", "store_certificate", err)
	}
	return nil
}

// StoreTunnel persists a tunnel record.
func (s *SQLiteStorage) StoreTunnel(ctx context.Context, record *inventory.TunnelRecord) error {
	var errorVal any
	if record.Error != "" {
		errorVal = record.Error
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tunnels (
			id, domain, port, mode, client_addr, started_at, ended_at,
			bytes_up, bytes_down, requests, outcome, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.Domain, record.Port, record.Mode, record.ClientAddr,
		toNanos(record.StartedAt), toNanos(record.EndedAt),
		record.BytesUp, record.BytesDown, record.Requests, record.Outcome, errorVal,
	)
	if err != nil {
		return inventory.NewStorageError("sqlite", "store_tunnel", err)
	}
	return nil
}

// QueryCertificates returns matching certificates, newest first.
func (s *SQLiteStorage) QueryCertificates(ctx context.Context, query *inventory.CertificateQuery) ([]*inventory.CertificateRecord, error) {
	if query == nil {
		query = &inventory.CertificateQuery{}
	}

	var conditions []string
	var args []any
	if query.Domain != "" {
		conditions = append(conditions, "domain = ?")
		args = append(args, query.Domain)
	}
	if query.Serial != "" {
		conditions = append(conditions, "serial = ?")
		args = append(args, query.Serial)
	}
	if !query.IssuedAfter.IsZero() {
		conditions = append(conditions, "issued_at >= ?")
		args = append(args, toNanos(query.IssuedAfter))
	}
	if !query.IssuedBefore.IsZero() {
		conditions = append(conditions, "issued_at < ?")
		args = append(args, toNanos(query.IssuedBefore))
	}

	sqlQuery := "SELECT id, domain, serial, fingerprint, not_before, not_after, issued_at FROM certificates"
	if len(conditions) > 0 {
		sqlQuery += " WHERE " + strings.Join(conditions, " AND ")
	}
	sqlQuery += " ORDER BY issued_at DESC, id"
	if query.Limit > 0 {
		sqlQuery += fmt.Sprintf(" LIMIT %d", query.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, inventory.NewStorageError("sqlite", "query_certificates", err)
	}
	defer rows.Close()

	records := []*inventory.CertificateRecord{}
	for rows.Next() {
		var r inventory.CertificateRecord
		var notBefore, notAfter, issuedAt int64
		if err := rows.Scan(&r.ID, &r.Domain, &r.Serial, &r.Fingerprint, &notBefore, &notAfter, &issuedAt); err != nil {
			return nil, inventory.NewStorageError("sqlite", "scan", err)
		}
		r.NotBefore, r.NotAfter, r.IssuedAt = fromNanos(notBefore), fromNanos(notAfter), fromNanos(issuedAt)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, inventory.NewStorageError("sqlite", "query_certificates", err)
	}
	return records, nil
}

// QueryTunnels returns matching tunnels, newest first.
func (s *SQLiteStorage) QueryTunnels(ctx context.Context, query *inventory.TunnelQuery) ([]*inventory.TunnelRecord, error) {
	if query == nil {
		query = &inventory.TunnelQuery{}
	}
	whereClause, args := buildTunnelWhere(query)

	sqlQuery := `SELECT id, domain, port, mode, client_addr, started_at, ended_at,
		bytes_up, bytes_down, requests, outcome, error FROM tunnels`
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}
	sqlQuery += " ORDER BY started_at DESC, id"

	limit := query.Limit
	if limit <= 0 && query.Offset > 0 {
		limit = -1
	}
	if limit != 0 {
		sqlQuery += fmt.Sprintf(" LIMIT %d", limit)
	}
	if query.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", query.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, inventory.NewStorageError("sqlite", "query_tunnels", err)
	}
	defer rows.Close()

	records := []*inventory.TunnelRecord{}
	for rows.Next() {
		record, err := scanTunnel(rows)
		if err != nil {
			return nil, inventory.NewStorageError("sqlite", "scan", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, inventory.NewStorageError("sqlite", "query_tunnels", err)
	}
	return records, nil
}

// CountTunnels returns the number of matching tunnels.
func (s *SQLiteStorage) CountTunnels(ctx context.Context, query *inventory.TunnelQuery) (int64, error) {
	if query == nil {
		query = &inventory.TunnelQuery{}
	}
	whereClause, args := buildTunnelWhere(query)

	sqlQuery := "SELECT COUNT(*) FROM tunnels"
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, inventory.NewStorageError("sqlite", "count_tunnels", err)
	}
	return count, nil
}

// DeleteTunnels removes matching tunnels and returns how many were removed.
func (s *SQLiteStorage) DeleteTunnels(ctx context.Context, query *inventory.TunnelQuery) (int64, error) {
	if query == nil {
		query = &inventory.TunnelQuery{}
	}
	whereClause, args := buildTunnelWhere(query)

	sqlQuery := "DELETE FROM tunnels"
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}

	result, err := s.db.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		return 0, inventory.NewStorageError("sqlite", "delete_tunnels", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, inventory.NewStorageError("sqlite", "delete_tunnels", err)
	}
	return count, nil
}

// Ping checks the database connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return inventory.NewStorageError("sqlite", "ping", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return inventory.NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("SQLite storage closed")
	return nil
}

// buildTunnelWhere builds a WHERE clause (without the keyword) and its
// arguments from query.
func buildTunnelWhere(query *inventory.TunnelQuery) (string, []any) {
	var conditions []string
	var args []any

	if query.Domain != "" {
		conditions = append(conditions, "domain = ?")
		args = append(args, query.Domain)
	}
	if query.Mode != "" {
		conditions = append(conditions, "mode = ?")
		args = append(args, query.Mode)
	}
	if query.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, query.Outcome)
	}
	if !query.StartTime.IsZero() {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, toNanos(query.StartTime))
	}
	if !query.EndTime.IsZero() {
		conditions = append(conditions, "started_at < ?")
		args = append(args, toNanos(query.EndTime))
	}

	return strings.Join(conditions, " AND "), args
}

func scanTunnel(rows *sql.Rows) (*inventory.TunnelRecord, error) {
	var r inventory.TunnelRecord
	var startedAt, endedAt int64
	var clientAddr, errorVal sql.NullString

	err := rows.Scan(
		&r.ID, &r.Domain, &r.Port, &r.Mode, &clientAddr, &startedAt, &endedAt,
		&r.BytesUp, &r.BytesDown, &r.Requests, &r.Outcome, &errorVal,
	)
	if err != nil {
		return nil, err
	}
	r.ClientAddr = clientAddr.String
	r.Error = errorVal.String
	r.StartedAt, r.EndedAt = fromNanos(startedAt), fromNanos(endedAt)
	return &r, nil
}

// dsn carries the busy timeout in the connection string so every pooled
// connection gets it, not only the one the pragma runs on.
func dsn(driver, path string, busyTimeout time.Duration, memory bool) string {
	if memory {
		return path
	}
	ms := busyTimeout.Milliseconds()
	if driver == DriverMattn {
		return fmt.Sprintf("file:%s?_busy_timeout=%d", path, ms)
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, ms)
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
