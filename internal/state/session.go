package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/explainit/internal/slug"
	"github.com/ShayCichocki/explainit/pkg/models"
)

// ErrSessionNotFound is returned when a session id is not in the registry.
var ErrSessionNotFound = errors.New("session not found")

// SessionStatus represents the lifecycle status of a session.
type SessionStatus string

const (
	SessionRunning     SessionStatus = "running"
	SessionCompleted   SessionStatus = "completed"
	SessionFailed      SessionStatus = "failed"
	SessionInterrupted SessionStatus = "interrupted"
)

// Active reports whether the session can still make progress.
func (s SessionStatus) Active() bool {
	return s == SessionRunning || s == SessionInterrupted
}

// Session is one resumable run of the engine for one topic.
type Session struct {
	ID          string         `json:"id"`
	Topic       string         `json:"topic"`
	FolderName  string         `json:"folderName"`
	FolderPath  string         `json:"folderPath"`
	Status      SessionStatus  `json:"status"`
	Persona     models.Persona `json:"persona"`
	Depth       int            `json:"depth"`
	PID         int            `json:"pid,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// StateFile returns the path of the session's workflow state.
func (s *Session) StateFile() string { return filepath.Join(s.FolderPath, "state.json") }

// DebugLogFile returns the path of the session's debug log.
func (s *Session) DebugLogFile() string { return filepath.Join(s.FolderPath, "debug.log") }

// FailureLogFile returns the path of the session's provider failure log.
func (s *Session) FailureLogFile() string {
	return filepath.Join(s.FolderPath, "logs", "llm-failures.jsonl")
}

// InterruptFile returns the path whose creation asks the run to stop.
func (s *Session) InterruptFile() string {
	return filepath.Join(s.FolderPath, "signals", "interrupt")
}

// SessionUpdate is a partial update; nil fields are left unchanged.
type SessionUpdate struct {
	Status      *SessionStatus
	PID         *int
	CompletedAt *time.Time
	Error       *string
}

// Registry enumerates all sessions and allocates their working folders.
type Registry struct {
	db     *DB
	root   string
	logger *zap.Logger
	now    func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used for registry warnings.
func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithRegistryClock replaces the timestamp source.
func WithRegistryClock(fn func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = fn }
}

// OpenRegistry opens the registry database at dbPath. Session folders are
// created under outputRoot. A registry file that cannot be opened or fails its
// integrity check is moved aside with a warning and a fresh registry is started.
func OpenRegistry(dbPath, outputRoot string, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		root:   outputRoot,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	db, err := openRegistryDB(dbPath)
	if err != nil {
		if _, statErr := os.Stat(dbPath); statErr != nil {
			return nil, err
		}
		aside := fmt.Sprintf("%s.corrupt-%d", dbPath, r.now().Unix())
		r.logger.Warn("session registry unreadable, starting with empty registry",
			zap.String("path", dbPath),
			zap.String("moved_to", aside),
			zap.Error(err))
		if renameErr := os.Rename(dbPath, aside); renameErr != nil {
			return nil, fmt.Errorf("move corrupt registry: %w", renameErr)
		}
		os.Remove(dbPath + "-wal")
		os.Remove(dbPath + "-shm")

		db, err = openRegistryDB(dbPath)
		if err != nil {
			return nil, err
		}
	}
	r.db = db
	return r, nil
}

func openRegistryDB(path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.CheckIntegrity(); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate registry: %w", err)
	}
	return db, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Root returns the directory session folders are created in.
func (r *Registry) Root() string {
	return r.root
}

// Migrate applies pending schema migrations.
func (r *Registry) Migrate() error {
	return r.db.Migrate()
}

// CreateSession registers a new running session and creates its folder.
// The folder name is the snake_case topic, suffixed _2, _3, ... on collision
// with a registered session or an existing directory.
func (r *Registry) CreateSession(topic string, persona models.Persona, depth int) (*Session, error) {
	base := slug.Snake(topic)
	if base == "" {
		base = "session"
	}

	s := &Session{
		ID:        uuid.NewString(),
		Topic:     topic,
		Status:    SessionRunning,
		Persona:   persona,
		Depth:     depth,
		PID:       os.Getpid(),
		CreatedAt: r.now().UTC(),
	}

	created := false
	err := r.db.Transaction(func(tx *sql.Tx) error {
		name, err := r.uniqueFolderName(tx, base)
		if err != nil {
			return err
		}
		s.FolderName = name
		s.FolderPath = filepath.Join(r.root, name)

		if err := os.MkdirAll(r.root, 0755); err != nil {
			return fmt.Errorf("create output root: %w", err)
		}
		if err := os.Mkdir(s.FolderPath, 0755); err != nil {
			return fmt.Errorf("create session folder: %w", err)
		}
		created = true

		_, err = tx.Exec(`
			INSERT INTO sessions (id, topic, folder_name, folder_path, status, persona, depth, pid, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.ID, s.Topic, s.FolderName, s.FolderPath, string(s.Status), string(s.Persona), s.Depth, s.PID, formatTime(s.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		// An orphan folder would push later sessions onto a suffixed name.
		if created {
			if rmErr := os.Remove(s.FolderPath); rmErr != nil {
				r.logger.Warn("remove folder of failed session", zap.String("path", s.FolderPath), zap.Error(rmErr))
			}
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

func (r *Registry) uniqueFolderName(tx *sql.Tx, base string) (string, error) {
	taken := func(name string) (bool, error) {
		var n int
		if err := tx.QueryRow("SELECT COUNT(*) FROM sessions WHERE folder_name = ?", name).Scan(&n); err != nil {
			return false, fmt.Errorf("check folder name: %w", err)
		}
		if n > 0 {
			return true, nil
		}
		_, err := os.Stat(filepath.Join(r.root, name))
		return err == nil, nil
	}

	name := base
	for counter := 2; ; counter++ {
		used, err := taken(name)
		if err != nil {
			return "", err
		}
		if !used {
			return name, nil
		}
		name = fmt.Sprintf("%s_%d", base, counter)
	}
}

const sessionColumns = `id, topic, folder_name, folder_path, status, persona, depth, pid, created_at, completed_at, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var createdAt string
	var completedAt, errText sql.NullString
	if err := row.Scan(&s.ID, &s.Topic, &s.FolderName, &s.FolderPath, &s.Status, &s.Persona, &s.Depth, &s.PID, &createdAt, &completedAt, &errText); err != nil {
		return nil, err
	}
	s.CreatedAt, _ = parseTime(createdAt)
	s.CompletedAt = parseNullableTime(completedAt)
	if errText.Valid {
		s.Error = errText.String
	}
	return &s, nil
}

// GetSession retrieves a session by id. It returns ErrSessionNotFound if absent.
func (r *Registry) GetSession(id string) (*Session, error) {
	row := r.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// UpdateSession applies u to the session and reports whether it existed.
func (r *Registry) UpdateSession(id string, u SessionUpdate) (bool, error) {
	var found bool
	err := r.db.Transaction(func(tx *sql.Tx) error {
		s, err := scanSession(tx.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		found = true

		if u.Status != nil {
			s.Status = *u.Status
		}
		if u.PID != nil {
			s.PID = *u.PID
		}
		if u.CompletedAt != nil {
			t := u.CompletedAt.UTC()
			s.CompletedAt = &t
		}
		if u.Error != nil {
			s.Error = *u.Error
		}

		var completedAt *string
		if s.CompletedAt != nil {
			v := formatTime(*s.CompletedAt)
			completedAt = &v
		}
		_, err = tx.Exec(`
			UPDATE sessions SET status = ?, pid = ?, completed_at = ?, error = ?
			WHERE id = ?
		`, string(s.Status), s.PID, completedAt, s.Error, s.ID)
		if err != nil {
			return fmt.Errorf("write session: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("update session: %w", err)
	}
	return found, nil
}

// SetStatus is a convenience for UpdateSession with only a status change.
// Terminal statuses also stamp CompletedAt.
func (r *Registry) SetStatus(id string, status SessionStatus, errText string) (bool, error) {
	u := SessionUpdate{Status: &status}
	if !status.Active() {
		now := r.now()
		u.CompletedAt = &now
	}
	if errText != "" {
		u.Error = &errText
	}
	return r.UpdateSession(id, u)
}

// DeleteSession removes the session from the registry. Its folder is left untouched.
func (r *Registry) DeleteSession(id string) error {
	_, err := r.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListSessions lists every session, newest first.
func (r *Registry) ListSessions() ([]Session, error) {
	return r.listWhere("")
}

// GetActiveSessions lists running and interrupted sessions.
func (r *Registry) GetActiveSessions() ([]Session, error) {
	return r.listWhere("WHERE status IN (?, ?)", string(SessionRunning), string(SessionInterrupted))
}

// GetArchivedSessions lists completed and failed sessions.
func (r *Registry) GetArchivedSessions() ([]Session, error) {
	return r.listWhere("WHERE status IN (?, ?)", string(SessionCompleted), string(SessionFailed))
}

func (r *Registry) listWhere(where string, args ...any) ([]Session, error) {
	rows, err := r.db.Query(`SELECT `+sessionColumns+` FROM sessions `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}
