package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vjranagit/absorb/pkg/types"
)

const flushInterval = time.Second

// Journal is an append-only JSON-lines log of collection events
type Journal struct {
	path       string
	file       *os.File
	writer     *bufio.Writer
	mu         sync.Mutex
	flushTimer *time.Timer
	closed     bool
}

// NewJournal opens a new journal file under dataPath/journal
func NewJournal(dataPath string) (*Journal, error) {
	journalPath := filepath.Join(dataPath, "journal")
	if err := os.MkdirAll(journalPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	filename := filepath.Join(journalPath, fmt.Sprintf("journal-%d.log", time.Now().UnixNano()))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	j := &Journal{
		path:   journalPath,
		file:   file,
		writer: bufio.NewWriter(file),
	}
	j.flushTimer = time.AfterFunc(flushInterval, j.autoFlush)

	return j, nil
}

// Append appends an entry; a zero timestamp is set to now
func (j *Journal) Append(entry types.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return fmt.Errorf("journal is closed")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	if _, err := j.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write to journal: %w", err)
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

// Flush flushes the journal to disk
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flushLocked()
}

func (j *Journal) flushLocked() error {
	if j.closed {
		return nil
	}
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush journal: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return nil
}

// autoFlush periodically flushes the journal
func (j *Journal) autoFlush() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	_ = j.flushLocked()
	j.flushTimer.Reset(flushInterval)
}

// Close flushes and closes the journal
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	if j.flushTimer != nil {
		j.flushTimer.Stop()
	}
	if err := j.flushLocked(); err != nil {
		return err
	}
	j.closed = true
	return j.file.Close()
}

// ReplayJournal calls handler for every entry of every journal file under
// dataPath, oldest file first
func ReplayJournal(dataPath string, handler func(types.JournalEntry) error) error {
	journalPath := filepath.Join(dataPath, "journal")

	entries, err := os.ReadDir(journalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read journal directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		filename := filepath.Join(journalPath, entry.Name())
		if err := replayJournalFile(filename, handler); err != nil {
			return fmt.Errorf("failed to replay %s: %w", filename, err)
		}
	}
	return nil
}

// replayJournalFile replays a single journal file
func replayJournalFile(filename string, handler func(types.JournalEntry) error) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry types.JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return fmt.Errorf("failed to unmarshal journal entry: %w", err)
		}
		if err := handler(entry); err != nil {
			return fmt.Errorf("failed to replay entry: %w", err)
		}
	}
	return scanner.Err()
}
