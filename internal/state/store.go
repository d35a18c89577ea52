// Package state persists agent progress in SQLite so interrupted work
// can be resumed after a process restart: a typed key/value table, one
// record per long-running job search, and named recovery checkpoints.
package state

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding application state, job search
// progress, and recovery checkpoints.
//
// Write failures are returned to the caller; read and delete failures
// are logged and degrade to the caller's default, so a broken database
// looks like absence on the read path. Callers that must distinguish
// the two should check the write path first.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (or creates) the state database in dataDir and runs
// pending migrations. Pass ":memory:" as dataDir for an in-memory
// database (used by tests). A nil logger disables logging.
func Open(dataDir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "seekd.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Value codec ---

// encodeValue serializes v with a type tag sufficient to restore its
// original shape. Scalars keep their own tags; everything else is
// stored as self-describing JSON.
func encodeValue(v any) (text, tag string, err error) {
	switch x := v.(type) {
	case string:
		return x, "string", nil
	case bool:
		return strconv.FormatBool(x), "bool", nil
	case int:
		return strconv.FormatInt(int64(x), 10), "int", nil
	case int32:
		return strconv.FormatInt(int64(x), 10), "int", nil
	case int64:
		return strconv.FormatInt(x, 10), "int", nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 64), "float", nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), "float", nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", "", fmt.Errorf("marshaling value: %w", err)
		}
		return string(b), "json", nil
	}
}

// decodeValue restores a stored value to its tagged shape. Integers
// come back as int64 and floats as float64.
func decodeValue(text, tag string) (any, error) {
	switch tag {
	case "json":
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, fmt.Errorf("unmarshaling value: %w", err)
		}
		return v, nil
	case "int":
		return strconv.ParseInt(text, 10, 64)
	case "float":
		return strconv.ParseFloat(text, 64)
	case "bool":
		return strconv.ParseBool(text)
	default:
		return text, nil
	}
}

// --- Application state (typed key/value) ---

// Save upserts a key/value pair, recording the type tag needed to
// restore the value's shape on load.
func (s *Store) Save(key string, value any) error {
	text, tag, err := encodeValue(value)
	if err != nil {
		s.logger.Error("failed to save state", zap.String("key", key), zap.Error(err))
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.Exec(`
		INSERT INTO application_state (key, value, data_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			data_type = excluded.data_type,
			updated_at = excluded.updated_at`,
		key, text, tag, now, now,
	)
	if err != nil {
		s.logger.Error("failed to save state", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("saving state %q: %w", key, err)
	}
	s.logger.Debug("saved state", zap.String("key", key), zap.String("type", tag))
	return nil
}

// Load returns the stored value for key restored to its original
// shape, or def when the key is absent. Read failures are logged and
// also return def; Load never fails for a missing key.
func (s *Store) Load(key string, def any) any {
	var text, tag string
	err := s.db.QueryRow(
		"SELECT value, data_type FROM application_state WHERE key = ?", key,
	).Scan(&text, &tag)
	if err == sql.ErrNoRows {
		return def
	}
	if err != nil {
		s.logger.Error("failed to load state", zap.String("key", key), zap.Error(err))
		return def
	}

	v, err := decodeValue(text, tag)
	if err != nil {
		s.logger.Error("failed to decode state", zap.String("key", key), zap.Error(err))
		return def
	}
	return v
}

// Delete removes a key and reports whether a row was actually removed.
// Failures are logged and reported as false.
func (s *Store) Delete(key string) bool {
	res, err := s.db.Exec("DELETE FROM application_state WHERE key = ?", key)
	if err != nil {
		s.logger.Error("failed to delete state", zap.String("key", key), zap.Error(err))
		return false
	}
	n, err := res.RowsAffected()
	if err != nil {
		s.logger.Error("failed to delete state", zap.String("key", key), zap.Error(err))
		return false
	}
	if n > 0 {
		s.logger.Debug("deleted state", zap.String("key", key))
	}
	return n > 0
}

// GetAll returns a type-restored snapshot of every key/value pair.
// Failures are logged; the snapshot contains whatever rows decoded
// cleanly.
func (s *Store) GetAll() map[string]any {
	states := make(map[string]any)

	rows, err := s.db.Query("SELECT key, value, data_type FROM application_state")
	if err != nil {
		s.logger.Error("failed to list states", zap.Error(err))
		return states
	}
	defer rows.Close()

	for rows.Next() {
		var key, text, tag string
		if err := rows.Scan(&key, &text, &tag); err != nil {
			s.logger.Error("failed to scan state row", zap.Error(err))
			return states
		}
		v, err := decodeValue(text, tag)
		if err != nil {
			s.logger.Error("failed to decode state", zap.String("key", key), zap.Error(err))
			continue
		}
		states[key] = v
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("failed to list states", zap.Error(err))
	}
	return states
}

// ClearAll deletes every row from all three state tables under one
// transaction. Used for full reset and by tests.
func (s *Store) ClearAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning clear transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"application_state", "job_search_state", "recovery_checkpoints"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			s.logger.Error("failed to clear states", zap.String("table", table), zap.Error(err))
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing clear: %w", err)
	}
	s.logger.Info("cleared all states")
	return nil
}

// --- Job search state ---

// SaveSearchState upserts the progress record for one search, keyed by
// SearchID. Zero timestamps are filled with the current time.
func (s *Store) SaveSearchState(st SearchState) error {
	var results any
	if st.Results != nil {
		b, err := json.Marshal(st.Results)
		if err != nil {
			s.logger.Error("failed to save search state",
				zap.String("search_id", st.SearchID), zap.Error(err))
			return fmt.Errorf("marshaling results: %w", err)
		}
		results = string(b)
	}

	status := st.Status
	if status == "" {
		status = SearchPending
	}

	var lastError any
	if st.LastError != "" {
		lastError = st.LastError
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO job_search_state (search_id, query, results, status, error_count, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(search_id) DO UPDATE SET
			query = excluded.query,
			results = excluded.results,
			status = excluded.status,
			error_count = excluded.error_count,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		st.SearchID, st.Query, results, status, st.ErrorCount, lastError, now, now,
	)
	if err != nil {
		s.logger.Error("failed to save search state",
			zap.String("search_id", st.SearchID), zap.Error(err))
		return fmt.Errorf("saving search state %q: %w", st.SearchID, err)
	}
	s.logger.Debug("saved search state",
		zap.String("search_id", st.SearchID), zap.String("status", status))
	return nil
}

// LoadSearchState returns the progress record for searchID, or nil when
// it does not exist. Read failures are logged and also return nil.
func (s *Store) LoadSearchState(searchID string) *SearchState {
	row := s.db.QueryRow(`
		SELECT search_id, query, results, status, error_count, last_error, created_at, updated_at
		FROM job_search_state WHERE search_id = ?`, searchID)

	st, err := scanSearchState(row)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		s.logger.Error("failed to load search state",
			zap.String("search_id", searchID), zap.Error(err))
		return nil
	}
	return st
}

// PendingSearches returns up to limit searches still waiting to run,
// oldest first. Used by the recovery runner to resume interrupted work.
func (s *Store) PendingSearches(limit int) ([]SearchState, error) {
	rows, err := s.db.Query(`
		SELECT search_id, query, results, status, error_count, last_error, created_at, updated_at
		FROM job_search_state WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		SearchPending, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending searches: %w", err)
	}
	defer rows.Close()

	var pending []SearchState
	for rows.Next() {
		st, err := scanSearchState(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, *st)
	}
	return pending, rows.Err()
}

// rowScanner lets scanSearchState work for both QueryRow and Query.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSearchState(row rowScanner) (*SearchState, error) {
	var st SearchState
	var results, lastError sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&st.SearchID, &st.Query, &results, &st.Status,
		&st.ErrorCount, &lastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if results.Valid {
		if err := json.Unmarshal([]byte(results.String), &st.Results); err != nil {
			return nil, fmt.Errorf("unmarshaling results: %w", err)
		}
	}
	st.LastError = lastError.String

	if st.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if st.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &st, nil
}

// --- Recovery checkpoints ---

// CreateCheckpoint upserts a named checkpoint. Re-using an id replaces
// the prior snapshot; only the latest checkpoint per id survives.
func (s *Store) CreateCheckpoint(checkpointID, operation string, stateData map[string]any) error {
	b, err := json.Marshal(stateData)
	if err != nil {
		s.logger.Error("failed to create checkpoint",
			zap.String("checkpoint_id", checkpointID), zap.Error(err))
		return fmt.Errorf("marshaling checkpoint state: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.Exec(`
		INSERT INTO recovery_checkpoints (checkpoint_id, operation, state_data, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(checkpoint_id) DO UPDATE SET
			operation = excluded.operation,
			state_data = excluded.state_data,
			created_at = excluded.created_at`,
		checkpointID, operation, string(b), now,
	)
	if err != nil {
		s.logger.Error("failed to create checkpoint",
			zap.String("checkpoint_id", checkpointID), zap.Error(err))
		return fmt.Errorf("creating checkpoint %q: %w", checkpointID, err)
	}
	s.logger.Info("created checkpoint",
		zap.String("checkpoint_id", checkpointID), zap.String("operation", operation))
	return nil
}

// LoadCheckpoint returns the checkpoint for checkpointID, or nil when
// it does not exist. Read failures are logged and also return nil.
func (s *Store) LoadCheckpoint(checkpointID string) *Checkpoint {
	var cp Checkpoint
	var stateData, createdAt string

	err := s.db.QueryRow(`
		SELECT checkpoint_id, operation, state_data, created_at
		FROM recovery_checkpoints WHERE checkpoint_id = ?`, checkpointID,
	).Scan(&cp.CheckpointID, &cp.Operation, &stateData, &createdAt)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		s.logger.Error("failed to load checkpoint",
			zap.String("checkpoint_id", checkpointID), zap.Error(err))
		return nil
	}

	if err := json.Unmarshal([]byte(stateData), &cp.StateData); err != nil {
		s.logger.Error("failed to decode checkpoint",
			zap.String("checkpoint_id", checkpointID), zap.Error(err))
		return nil
	}
	if cp.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		s.logger.Error("failed to decode checkpoint",
			zap.String("checkpoint_id", checkpointID), zap.Error(err))
		return nil
	}
	return &cp
}
