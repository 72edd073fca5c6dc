package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vjranagit/absorb/pkg/types"
)

func TestJournal(t *testing.T) {
	tmpDir := t.TempDir()

	journal, err := NewJournal(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create journal: %v", err)
	}
	defer journal.Close()

	entries := []types.JournalEntry{
		{RunID: "run-1", Source: "s", Table: "t", Chunk: "2025-03-01", Status: types.StatusStored, Bytes: 42},
		{RunID: "run-1", Source: "s", Table: "t", Chunk: "2025-03-02", Status: types.StatusFailed, Error: "timeout"},
	}
	for _, entry := range entries {
		if err := journal.Append(entry); err != nil {
			t.Fatalf("Failed to append to journal: %v", err)
		}
	}

	if err := journal.Flush(); err != nil {
		t.Fatalf("Failed to flush journal: %v", err)
	}
	journal.Close()

	if err := journal.Append(entries[0]); err == nil {
		t.Error("Expected append after close to fail")
	}

	var replayed []types.JournalEntry
	err = ReplayJournal(tmpDir, func(e types.JournalEntry) error {
		replayed = append(replayed, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Journal replay failed: %v", err)
	}

	if len(replayed) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(replayed))
	}
	if replayed[1].Status != types.StatusFailed || replayed[1].Error != "timeout" {
		t.Errorf("Unexpected entry %+v", replayed[1])
	}
	if replayed[0].Timestamp.IsZero() {
		t.Error("Expected timestamp to be set on append")
	}
}

func TestReplayJournalMissingDir(t *testing.T) {
	called := false
	err := ReplayJournal(filepath.Join(t.TempDir(), "nope"), func(types.JournalEntry) error {
		called = true
		return nil
	})
	if err != nil || called {
		t.Errorf("Expected silent no-op, got err=%v called=%v", err, called)
	}
}

func TestReplayJournalStopsOnHandlerError(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, "journal"), 0755); err != nil {
		t.Fatal(err)
	}
	line := []byte(`{"run_id":"r","source":"s","table":"t","chunk":"c","status":"stored"}` + "\n")
	if err := os.WriteFile(filepath.Join(tmpDir, "journal", "journal-1.log"), line, 0644); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := ReplayJournal(tmpDir, func(types.JournalEntry) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("Expected handler error, got %v", err)
	}
}
