// Package profile persists the local user profile: the stored session
// key and the last connected server.
package profile

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS profile (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	session_key BLOB,
	connected_server TEXT
);
INSERT OR IGNORE INTO profile (id) VALUES (1);
`

// Record is the single profile row. SessionKey is the MessagePack
// encoding of an auth.SessionKey, nil when never logged in.
type Record struct {
	SessionKey      []byte
	ConnectedServer string
}

// Store is a SQLite-backed profile store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates or opens the profile database under dataDir.
func Open(dataDir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("profile: creating data directory: %w", err)
	}

	path := filepath.Join(dataDir, "profile.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("profile: opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("profile: pinging database: %w", err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("profile: creating schema: %w", err)
	}

	logger.Info("profile store opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Load returns the profile record.
func (s *Store) Load(ctx context.Context) (Record, error) {
	var (
		key    []byte
		server sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_key, connected_server FROM profile WHERE id = 1`,
	).Scan(&key, &server)
	if err != nil {
		return Record{}, fmt.Errorf("profile: load: %w", err)
	}
	return Record{SessionKey: key, ConnectedServer: server.String}, nil
}

// SaveSessionKey stores the serialized session key.
func (s *Store) SaveSessionKey(ctx context.Context, key []byte) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE profile SET session_key = ? WHERE id = 1`, key,
	); err != nil {
		return fmt.Errorf("profile: save session key: %w", err)
	}
	return nil
}

// SaveServer stores the last successfully connected server address.
func (s *Store) SaveServer(ctx context.Context, addr string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE profile SET connected_server = ? WHERE id = 1`, addr,
	); err != nil {
		return fmt.Errorf("profile: save server: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
