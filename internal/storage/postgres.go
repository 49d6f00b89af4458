package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// PostgresStorage backs both store kinds with one database. Schema
// initialization is idempotent, so concurrent opens cannot race to create
// duplicate tables.
type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(config DatabaseConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db}

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	_, err = s.db.Exec(string(migrationSQL))
	if err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

// Metadata returns the metadata store view of the database.
func (s *PostgresStorage) Metadata() MetadataStore {
	return &postgresMetadata{db: s.db}
}

// Blobs returns the blob store view of the database.
func (s *PostgresStorage) Blobs() BlobStore {
	return &postgresBlobs{db: s.db}
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

type postgresMetadata struct {
	db *sql.DB
}

func (s *postgresMetadata) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM metadata WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("error querying metadata: %w", err)
	}
	return value, nil
}

func (s *postgresMetadata) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("error saving metadata: %w", err)
	}
	return nil
}

func (s *postgresMetadata) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM metadata WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("error deleting metadata: %w", err)
	}
	return nil
}

// Close is a no-op; the connection is owned by PostgresStorage.
func (s *postgresMetadata) Close() error {
	return nil
}

type postgresBlobs struct {
	db *sql.DB
}

func (s *postgresBlobs) Put(ctx context.Context, id, payload string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (id, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET payload = $2, updated_at = now()`,
		id, payload)
	if err != nil {
		return fmt.Errorf("error saving blob: %w", err)
	}
	return nil
}

func (s *postgresBlobs) Get(ctx context.Context, id string) (string, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM blobs WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("error querying blob: %w", err)
	}
	return payload, nil
}

func (s *postgresBlobs) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting blob: %w", err)
	}
	return nil
}

// Close is a no-op; the connection is owned by PostgresStorage.
func (s *postgresBlobs) Close() error {
	return nil
}
