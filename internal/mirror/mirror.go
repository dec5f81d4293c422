// Package mirror persists the engine's state to a local SQLite key/value
// table so the application can boot offline-first. One key per watch
// collection plus the session token, current user and the incremental sync
// cursor.
package mirror

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Mirror keys. Conceptually one entry per watch-entity kind plus session
// data.
const (
	KeySessionToken     = "session-token"
	KeyCurrentUser      = "current-user"
	KeyWatchMovies      = "watch-movies"
	KeyWatchTVShows     = "watch-tv-shows"
	KeyWatchTVSeasons   = "watch-tv-seasons"
	KeyWatchTVSeasonReq = "watch-tv-season-requests"
	KeyWatchTVEpisodes  = "watch-tv-episodes"
	KeySyncCursor       = "sync-cursor"
)

// Mirror is the durable key/value store.
type Mirror struct {
	conn *sql.DB
	path string
}

// Open opens (creating if necessary) the mirror database and brings its
// schema up to date.
func Open(path string) (*Mirror, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror database: %w", err)
	}

	// SQLite only supports one writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping mirror database: %w", err)
	}

	m := &Mirror{conn: conn, path: path}
	if err := m.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}

func (m *Mirror) migrate() error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(m.conn, "migrations"); err != nil {
		return fmt.Errorf("failed to run mirror migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (m *Mirror) Close() error {
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}

// Get reads one key. A missing key resolves to (nil, nil), never an error:
// first boot starts from empty collections.
func (m *Mirror) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := m.conn.QueryRowContext(ctx, "SELECT value FROM mirror WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mirror read %q: %w", key, err)
	}
	return value, nil
}

// Put writes one key, replacing any previous value.
func (m *Mirror) Put(ctx context.Context, key string, value []byte) error {
	_, err := m.conn.ExecContext(ctx,
		"INSERT INTO mirror (key, value, updated_at) VALUES (?, ?, datetime('now')) "+
			"ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at",
		key, value)
	if err != nil {
		return fmt.Errorf("mirror write %q: %w", key, err)
	}
	return nil
}

// Delete removes one key. Deleting an absent key is not an error.
func (m *Mirror) Delete(ctx context.Context, key string) error {
	if _, err := m.conn.ExecContext(ctx, "DELETE FROM mirror WHERE key = ?", key); err != nil {
		return fmt.Errorf("mirror delete %q: %w", key, err)
	}
	return nil
}
