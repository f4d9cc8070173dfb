package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"supplyTrace/internal/model"
)

// Failure describes a ledger operation that finalized but could not be
// written to the mirror. The journal is the operator's reconciliation list.
type Failure struct {
	At       time.Time      `json:"at"`
	Op       string         `json:"op"`
	LedgerID uint64         `json:"ledger_id,omitempty"`
	TxHash   string         `json:"tx_hash,omitempty"`
	Error    string         `json:"error"`
	Product  *model.Product `json:"product,omitempty"`
	Event    *model.Event   `json:"event,omitempty"`
}

// JsonlJournal appends failures to a JSONL file.
type JsonlJournal struct {
	path string
	mu   sync.Mutex
}

func NewJsonlJournal(path string) *JsonlJournal {
	return &JsonlJournal{path: path}
}

// Path returns the journal file location.
func (j *JsonlJournal) Path() string {
	return j.path
}

// Record appends failures as JSON lines.
func (j *JsonlJournal) Record(failures ...Failure) error {
	if len(failures) == 0 {
		return nil
	}

	dir := filepath.Dir(j.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, failure := range failures {
		if failure.At.IsZero() {
			failure.At = time.Now().UTC()
		}
		line, err := json.Marshal(failure)
		if err != nil {
			return fmt.Errorf("marshal failure: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write failure: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	return nil
}

// ReadFailures loads every entry from a journal file. A missing file yields
// no entries.
func ReadFailures(path string) ([]Failure, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var out []Failure
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var failure Failure
		if err := json.Unmarshal(scanner.Bytes(), &failure); err != nil {
			return nil, fmt.Errorf("decode journal line: %w", err)
		}
		out = append(out, failure)
	}
	return out, scanner.Err()
}
