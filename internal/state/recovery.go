package state

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/ShayCichocki/explainit/internal/output"
	"github.com/ShayCichocki/explainit/internal/slug"
	"github.com/ShayCichocki/explainit/pkg/models"
)

// RecoveryManager finds sessions whose process died without recording an outcome.
type RecoveryManager struct {
	registry *Registry
	logger   *zap.Logger
	alive    func(pid int) bool
}

// NewRecoveryManager creates a RecoveryManager over the given registry.
func NewRecoveryManager(registry *Registry, logger *zap.Logger) *RecoveryManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecoveryManager{
		registry: registry,
		logger:   logger,
		alive:    isProcessAlive,
	}
}

// RecoverInterrupted marks running sessions whose recorded process is gone as
// interrupted and returns them.
func (rm *RecoveryManager) RecoverInterrupted() ([]Session, error) {
	active, err := rm.registry.GetActiveSessions()
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}

	var recovered []Session
	for _, s := range active {
		if s.Status != SessionRunning {
			continue
		}
		if s.PID == os.Getpid() || rm.alive(s.PID) {
			continue
		}

		status := SessionInterrupted
		if _, err := rm.registry.UpdateSession(s.ID, SessionUpdate{Status: &status}); err != nil {
			return recovered, fmt.Errorf("mark session %s interrupted: %w", s.ID, err)
		}
		rm.logger.Info("marked orphaned session interrupted",
			zap.String("session", s.ID),
			zap.String("topic", s.Topic),
			zap.Int("pid", s.PID))
		s.Status = status
		recovered = append(recovered, s)
	}
	return recovered, nil
}

// ResumeNode is a flattened node used to hydrate a UI before a resumed run
// publishes fresh events.
type ResumeNode struct {
	ID       string
	Name     string
	Status   models.NodeStatus
	ParentID string
	// Key and ParentKey match the page paths carried by live node events.
	Key       string
	ParentKey string
}

// ResumeData is everything persisted for a session that a UI needs to redraw it.
type ResumeData struct {
	State *WorkflowState
	Nodes []ResumeNode
	Logs  []string
}

// LoadResumeData reads the session's state and debug log. Missing or
// unreadable files yield empty sections rather than an error.
func LoadResumeData(s *Session) ResumeData {
	var data ResumeData

	if ws, err := ReadWorkflowState(s.StateFile()); err == nil && ws != nil {
		data.State = ws
		data.Nodes = resumeNodes(s, ws)
	}

	if f, err := os.Open(s.DebugLogFile()); err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if line := scanner.Text(); strings.TrimSpace(line) != "" {
				data.Logs = append(data.Logs, line)
			}
		}
	}

	return data
}

// resumeNodes rebuilds the tree shape from persisted child lists. Explained
// topics not reachable through a child list hang off the root.
func resumeNodes(s *Session, ws *WorkflowState) []ResumeNode {
	const rootID = "root"
	root := ws.Topic
	if root == "" {
		root = s.Topic
	}

	nodes := []ResumeNode{{ID: rootID, Name: root, Status: statusOf(ws, root), Key: output.IndexPath}}
	seen := map[string]bool{strings.ToLower(root): true}

	var visit func(parentName, parentID, parentDir, parentSection string)
	visit = func(parentName, parentID, parentDir, parentSection string) {
		parentKey := output.PagePath(parentDir)
		for i, child := range ws.Children[parentName] {
			key := strings.ToLower(child.Name)
			if seen[key] {
				continue
			}
			seen[key] = true
			dir, section := output.SectionDir(parentDir, parentSection, i+1, child.Name)
			id := slug.Kebab(child.Name)
			nodes = append(nodes, ResumeNode{
				ID:        id,
				Name:      child.Name,
				Status:    statusOf(ws, child.Name),
				ParentID:  parentID,
				Key:       output.PagePath(dir),
				ParentKey: parentKey,
			})
			visit(child.Name, id, dir, section)
		}
	}
	visit(root, rootID, "", "")

	for _, name := range ws.ExplainedConcepts {
		if seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		nodes = append(nodes, ResumeNode{
			ID:        slug.Kebab(name),
			Name:      name,
			Status:    models.NodeStatusDone,
			ParentID:  rootID,
			Key:       name,
			ParentKey: output.IndexPath,
		})
	}
	return nodes
}

func statusOf(ws *WorkflowState, name string) models.NodeStatus {
	if _, ok := ws.Explanations[name]; ok {
		return models.NodeStatusDone
	}
	for _, f := range ws.FailedConcepts {
		if f == name {
			return models.NodeStatusFailed
		}
	}
	return models.NodeStatusPending
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks existence without delivering anything.
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
