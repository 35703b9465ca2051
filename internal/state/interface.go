package state

import (
	"io"

	"github.com/ShayCichocki/explainit/pkg/models"
)

// SessionRegistry handles session persistence.
type SessionRegistry interface {
	io.Closer
	CreateSession(topic string, persona models.Persona, depth int) (*Session, error)
	GetSession(id string) (*Session, error)
	UpdateSession(id string, u SessionUpdate) (bool, error)
	SetStatus(id string, status SessionStatus, errText string) (bool, error)
	DeleteSession(id string) error
	ListSessions() ([]Session, error)
	GetActiveSessions() ([]Session, error)
	GetArchivedSessions() ([]Session, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	Migrate() error
}

// WorkflowStateStore is the durable per-session state the engine writes on
// every transition.
type WorkflowStateStore interface {
	Load() error
	Update(fn func(*WorkflowState)) error
	Reset() error
	Snapshot() WorkflowState
	Explanation(topic string) (models.Explanation, bool)
	ChildrenOf(topic string) ([]models.Concept, bool)
	SetPhase(phase models.Phase) error
	AddExplanation(topic string, e models.Explanation) error
	SetChildren(topic string, children []models.Concept) error
	RecordIteration(topic string) error
	RecordValidation(redecomposed bool) error
	MarkFailed(topic, reason string) error
	AddWarning(msg string) error
}

// Compile-time verification of implementations.
var (
	_ SessionRegistry    = (*Registry)(nil)
	_ Migrator           = (*Registry)(nil)
	_ Migrator           = (*DB)(nil)
	_ WorkflowStateStore = (*WorkflowStore)(nil)
)
