package store

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/revolutionized-iot2/riot2-orchestrator/config"
	"github.com/revolutionized-iot2/riot2-orchestrator/model"
)

// SQLBackend keeps one row per object in the stored_objects table.
type SQLBackend struct {
	db      *sql.DB
	dialect Dialect
	driver  string
}

// Open returns the backend selected by cfg.Backend.
func Open(cfg *config.StoreConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileBackend(cfg.Path), nil
	case "sqlite":
		return OpenSQLite(cfg.SQLite.Path)
	case "postgres":
		return OpenPostgres(&cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

func OpenSQLite(path string) (*SQLBackend, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	b := &SQLBackend{db: db, dialect: sqliteDialect{}, driver: "sqlite"}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return b, nil
}

func OpenPostgres(cfg *config.PostgresConfig) (*SQLBackend, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	b := &SQLBackend{db: db, dialect: postgresDialect{}, driver: "postgres"}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return b, nil
}

// Q rewrites ? placeholders for PostgreSQL, passes through for SQLite.
func (b *SQLBackend) Q(query string) string {
	if b.driver == "postgres" {
		return Rebind(query)
	}
	return query
}

func (b *SQLBackend) migrate() error {
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS stored_objects (
	kind       TEXT NOT NULL,
	id         TEXT NOT NULL,
	document   %s NOT NULL,
	updated_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (kind, id)
)`, b.dialect.JSONType(), b.dialect.TimestampType())
	_, err := b.db.Exec(schema)
	return err
}

func (b *SQLBackend) Load(kind model.Kind) ([]Record, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	rows, err := b.db.Query(b.Q(`SELECT id, document FROM stored_objects WHERE kind=? ORDER BY id`), string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		out = append(out, Record{ID: id, Data: []byte(doc)})
	}
	return out, rows.Err()
}

func (b *SQLBackend) Put(kind model.Kind, id string, data []byte) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	query := fmt.Sprintf(`INSERT INTO stored_objects (kind, id, document, updated_at) VALUES (?, ?, ?, %s)
ON CONFLICT (kind, id) DO UPDATE SET document=excluded.document, updated_at=excluded.updated_at`, b.dialect.Now())
	_, err := b.db.Exec(b.Q(query), string(kind), id, string(data))
	return err
}

func (b *SQLBackend) Remove(kind model.Kind, id string) error {
	_, err := b.db.Exec(b.Q(`DELETE FROM stored_objects WHERE kind=? AND id=?`), string(kind), id)
	return err
}

func (b *SQLBackend) Close() error { return b.db.Close() }
