package graphstore

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// Event is an append-only record in the event log (spec §3, §6): timestamp,
// type, nullable issue id, free-form data.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	IssueID   string         `json:"issue_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`

	// Checksum is a content hash of the record (excluding this field) appended
	// for corruption detection on reload; not part of the spec's event schema
	// but additive and ignored by readers that don't check it.
	Checksum string `json:"checksum,omitempty"`
}

// EventLog appends to and reads back <logs-dir>/events.jsonl.
type EventLog struct {
	path string
	mu   sync.Mutex
}

// NewEventLog returns an EventLog writing to logsDir/events.jsonl.
func NewEventLog(logsDir string) *EventLog {
	return &EventLog{path: filepath.Join(logsDir, "events.jsonl")}
}

// Append writes one event record, computing and attaching its checksum.
func (l *EventLog) Append(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("graph I/O error: creating logs dir: %w", err)
	}
	e.Checksum = ""
	unsigned, err := json.Marshal(e)
	if err != nil {
		return err
	}
	sum := blake3.Sum256(unsigned)
	e.Checksum = hex.EncodeToString(sum[:8])
	signed, err := json.Marshal(e)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("graph I/O error: opening event log: %w", err)
	}
	defer f.Close()
	_, err = f.Write(append(signed, '\n'))
	return err
}

// ReadAll reads every well-formed event from the log, skipping (and not
// failing on) any line whose checksum doesn't match its recorded content —
// the tolerant-decode discipline used throughout the graph store.
func (l *EventLog) ReadAll() ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		want := e.Checksum
		e.Checksum = ""
		unsigned, err := json.Marshal(e)
		if err != nil {
			continue
		}
		sum := blake3.Sum256(unsigned)
		got := hex.EncodeToString(sum[:8])
		if want != "" && want != got {
			continue // corrupted/truncated record
		}
		events = append(events, e)
	}
	return events, scanner.Err()
}
