package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements WorkflowStore on PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains connection settings for the PostgreSQL store
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewPostgresStore connects to PostgreSQL and returns a workflow store
func NewPostgresStore(config PostgresConfig) (*PostgresStore, error) {
	if config.Port == 0 {
		config.Port = 5432
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Initialize creates the workflows table if it doesn't exist
func (s *PostgresStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflows (
			workflow_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			category TEXT,
			version TEXT,
			definition BYTEA NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS workflows_category_idx ON workflows (category);
	`)

	if err != nil {
		return fmt.Errorf("failed to create workflows table: %w", err)
	}

	return nil
}

// Close cleans up resources
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Save persists a serialized definition under the given id
func (s *PostgresStore) Save(id string, definition []byte) error {
	meta := extractMetadata(id, definition)

	var exists bool
	err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM workflows WHERE workflow_id = $1)", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if workflow exists: %w", err)
	}

	now := time.Now()

	if exists {
		_, err = s.db.Exec(
			"UPDATE workflows SET name = $1, description = $2, category = $3, version = $4, definition = $5, updated_at = $6 WHERE workflow_id = $7",
			meta.Name, meta.Description, meta.Category, meta.Version, definition, now, id,
		)
		if err != nil {
			return fmt.Errorf("failed to update workflow: %w", err)
		}
	} else {
		_, err = s.db.Exec(
			"INSERT INTO workflows (workflow_id, name, description, category, version, definition, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
			id, meta.Name, meta.Description, meta.Category, meta.Version, definition, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert workflow: %w", err)
		}
	}

	return nil
}

// Get retrieves a serialized definition
func (s *PostgresStore) Get(id string) ([]byte, error) {
	var definition []byte
	err := s.db.QueryRow(
		"SELECT definition FROM workflows WHERE workflow_id = $1", id,
	).Scan(&definition)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	return definition, nil
}

// GetMetadata retrieves the stored metadata for one workflow
func (s *PostgresStore) GetMetadata(id string) (Metadata, error) {
	var meta Metadata
	var createdAt, updatedAt time.Time
	err := s.db.QueryRow(
		"SELECT workflow_id, name, description, category, version, created_at, updated_at FROM workflows WHERE workflow_id = $1", id,
	).Scan(&meta.ID, &meta.Name, &meta.Description, &meta.Category, &meta.Version, &createdAt, &updatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return Metadata{}, ErrWorkflowNotFound
		}
		return Metadata{}, fmt.Errorf("failed to get workflow metadata: %w", err)
	}

	meta.CreatedAt = createdAt.Unix()
	meta.UpdatedAt = updatedAt.Unix()
	return meta, nil
}

// List returns metadata for every stored workflow
func (s *PostgresStore) List() ([]Metadata, error) {
	rows, err := s.db.Query(
		"SELECT workflow_id, name, description, category, version, created_at, updated_at FROM workflows ORDER BY updated_at DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	list := make([]Metadata, 0)
	for rows.Next() {
		var meta Metadata
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&meta.ID, &meta.Name, &meta.Description, &meta.Category, &meta.Version, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow row: %w", err)
		}
		meta.CreatedAt = createdAt.Unix()
		meta.UpdatedAt = updatedAt.Unix()
		list = append(list, meta)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read workflow rows: %w", err)
	}

	return list, nil
}

// Delete removes a workflow
func (s *PostgresStore) Delete(id string) error {
	result, err := s.db.Exec("DELETE FROM workflows WHERE workflow_id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if affected == 0 {
		return ErrWorkflowNotFound
	}

	return nil
}
