package storage

import (
	"path/filepath"
	"sync"
	"testing"

	"supplyTrace/internal/model"
)

func TestJournalAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "failures.jsonl")
	journal := NewJsonlJournal(path)
	if journal.Path() != path {
		t.Fatalf("path mismatch: %q", journal.Path())
	}

	if err := journal.Record(); err != nil {
		t.Fatalf("empty record: %v", err)
	}
	if err := journal.Record(Failure{Op: "register", LedgerID: 1, TxHash: "0x01", Error: "boom", Product: &model.Product{LedgerID: 1, Name: "Apples"}}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := journal.Record(Failure{Op: "update_status", LedgerID: 1, Error: "boom", Event: &model.Event{ProductID: 1, EventType: model.EventTypeStatusUpdate}}); err != nil {
		t.Fatalf("record: %v", err)
	}

	failures, err := ReadFailures(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(failures))
	}
	if failures[0].Op != "register" || failures[0].Product == nil || failures[1].Event == nil || failures[1].Event.EventType != model.EventTypeStatusUpdate {
		t.Fatalf("unexpected failures: %+v", failures)
	}
	if failures[0].At.IsZero() {
		t.Fatalf("expected time to be set")
	}
}

func TestJournalConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.jsonl")
	journal := NewJsonlJournal(path)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := journal.Record(Failure{Op: "add_event", LedgerID: uint64(i), Error: "x"}); err != nil {
				t.Errorf("record: %v", err)
			}
		}(i)
	}
	wg.Wait()

	failures, err := ReadFailures(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(failures) != 20 {
		t.Fatalf("expected 20 failures, got %d", len(failures))
	}
}

func TestReadFailuresMissingFile(t *testing.T) {
	failures, err := ReadFailures(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil || failures != nil {
		t.Fatalf("expected nil, got %v %v", failures, err)
	}
}
