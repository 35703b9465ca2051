package retry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FailureRecord is one failed attempt, stored as a JSON line.
type FailureRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Operation  string    `json:"operation"`
	Subject    string    `json:"subject,omitempty"`
	Attempt    int       `json:"attempt"`
	ErrorKind  ErrorKind `json:"errorKind"`
	Message    string    `json:"errorMessage"`
	RawPreview string    `json:"rawContentPreview,omitempty"`
	BackoffMS  int64     `json:"backoffMs"`
}

// FailureLog appends FailureRecords to a JSONL file.
type FailureLog struct {
	mu   sync.Mutex
	path string
}

// NewFailureLog returns a log writing to path. The file is created lazily.
func NewFailureLog(path string) *FailureLog {
	return &FailureLog{path: path}
}

// Path returns the log file path.
func (l *FailureLog) Path() string {
	return l.path
}

// Append writes rec as a single line.
func (l *FailureLog) Append(rec FailureRecord) error {
	if l == nil || l.path == "" {
		return nil
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal failure record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create failure log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open failure log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append failure record: %w", err)
	}
	return nil
}

// ReadFailureLog loads all records from path. A missing file yields no records.
// Malformed lines are skipped.
func ReadFailureLog(path string) ([]FailureRecord, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open failure log: %w", err)
	}
	defer f.Close()

	var records []FailureRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec FailureRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("read failure log: %w", err)
	}
	return records, nil
}
