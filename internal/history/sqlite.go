package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/fetchkit/fetchd/internal/domain"
)

// Store persists task snapshots in a SQLite database so the task list
// survives process restarts.
type Store struct {
	db *sql.DB
}

// Open opens a connection to the SQLite history database
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history dir: %w", err)
		}
	}

	// Open database with WAL mode and busy timeout
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks database connectivity
func (s *Store) Ping() error {
	return s.db.Ping()
}

// migrate creates or updates the database schema
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			filename TEXT NOT NULL,
			total_size INTEGER NOT NULL DEFAULT 0,
			downloaded_bytes INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error_reason TEXT,
			save_path TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}

	return nil
}

// Save replaces the stored snapshot with the given tasks in one
// transaction, so a crash mid-save never leaves a half-written list.
func (s *Store) Save(tasks []domain.Task) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM tasks"); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO tasks (
			id, url, filename, total_size, downloaded_bytes,
			status, error_reason, save_path, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range tasks {
		var errorReason, savePath sql.NullString
		if t.ErrorReason != "" {
			errorReason = sql.NullString{String: t.ErrorReason, Valid: true}
		}
		if t.SavePath != "" {
			savePath = sql.NullString{String: t.SavePath, Valid: true}
		}

		if _, err := stmt.Exec(
			t.ID, t.URL, t.Filename, t.TotalSize, t.DownloadedBytes,
			t.Status, errorReason, savePath, t.CreatedAt, t.UpdatedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Load returns the stored snapshot in submission order. Tasks saved
// mid-flight (pending or downloading) come back paused, since their
// runs did not survive the restart.
func (s *Store) Load() ([]domain.Task, error) {
	rows, err := s.db.Query(`
		SELECT id, url, filename, total_size, downloaded_bytes,
			   status, error_reason, save_path, created_at, updated_at
		FROM tasks
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		var t domain.Task
		var errorReason, savePath sql.NullString

		if err := rows.Scan(
			&t.ID, &t.URL, &t.Filename, &t.TotalSize, &t.DownloadedBytes,
			&t.Status, &errorReason, &savePath, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, err
		}

		if errorReason.Valid {
			t.ErrorReason = errorReason.String
		}
		if savePath.Valid {
			t.SavePath = savePath.String
		}

		if t.Status == domain.StatusPending || t.Status == domain.StatusDownloading {
			t.Status = domain.StatusPaused
		}

		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}
