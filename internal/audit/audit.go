// Package audit is the append-only import audit trail: one line-delimited
// JSON record per import attempt, success or failure, correlated by the
// bundle's content fingerprint. Records are never mutated or deleted.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusPartial = "partial"
)

type Record struct {
	Fingerprint  string         `json:"fingerprint"`
	Operation    string         `json:"operation"`
	RecordCount  int            `json:"recordCount"`
	Status       string         `json:"status"`
	Details      map[string]any `json:"details,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Log appends records to a local JSONL file and, when configured, mirrors
// each record to the object store. The file is the canonical read path.
type Log struct {
	mu     sync.Mutex
	path   string
	mirror *Mirror
}

// NewLog creates the audit log at path. mirror may be nil.
func NewLog(path string, mirror *Mirror) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &Log{path: path, mirror: mirror}, nil
}

// Append writes one record. It is called for every import attempt, including
// failures, and never rewrites earlier lines.
func (l *Log) Append(ctx context.Context, rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}

	// Mirror to object storage fire-and-forget; the local line is canonical.
	if l.mirror != nil {
		go func(rec Record) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := l.mirror.Put(ctx, rec); err != nil {
				log.Printf("audit: mirror record %s: %v", rec.Fingerprint, err)
			}
		}(rec)
	}
	return nil
}

// Recent returns up to n records, newest first.
func (l *Log) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		n = 20
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	records := make([]Record, 0)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			log.Printf("audit: skipping unreadable line: %v", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}

	// Newest first, bounded at n.
	out := make([]Record, 0, n)
	for i := len(records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, records[i])
	}
	return out, nil
}
