package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Journal is an append-only sink of events.
type Journal interface {
	// Record appends an event, filling in the hash chain.
	Record(ctx context.Context, event Event) error
	// Query returns recorded events matching filter, oldest first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)
	// Close releases any resources.
	Close() error
}

// FileJournal writes events as JSON lines.
type FileJournal struct {
	mu          sync.Mutex
	path        string
	maxSize     int64
	maxRotation int
	file        *os.File
	size        int64
	lastHash    string
	now         func() time.Time
}

// FileJournalConfig configures a FileJournal.
type FileJournalConfig struct {
	// Path of the active journal file.
	Path string
	// MaxSize is the size in bytes that triggers rotation (default: 10MB).
	MaxSize int64
	// MaxRotations is the number of rotated files to keep (default: 5).
	MaxRotations int
}

// JournalPath derives the journal location from the operational log file.
func JournalPath(logFile string) string {
	ext := filepath.Ext(logFile)
	return strings.TrimSuffix(logFile, ext) + ".journal.jsonl"
}

// NewFileJournal opens or creates the journal at config.Path. The hash chain
// continues from the last entry already in the file or its rotations.
func NewFileJournal(config FileJournalConfig) (*FileJournal, error) {
	if config.Path == "" {
		return nil, errors.New("journal path is required")
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 10 * 1024 * 1024
	}
	if config.MaxRotations <= 0 {
		config.MaxRotations = 5
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &FileJournal{
		path:        config.Path,
		maxSize:     config.MaxSize,
		maxRotation: config.MaxRotations,
		now:         time.Now,
	}

	events, err := readJournalFile(config.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	if len(events) == 0 {
		// Active file empty or just rotated; the chain continues from the rotations.
		events, err = ReadJournal(config.Path, QueryFilter{})
		if err != nil {
			return nil, fmt.Errorf("failed to read journal: %w", err)
		}
	}
	if len(events) > 0 {
		j.lastHash = events[len(events)-1].EventHash
	}

	if err := j.open(); err != nil {
		return nil, err
	}
	return j, nil
}

// Record appends an event.
func (j *FileJournal) Record(_ context.Context, event Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return errors.New("journal is closed")
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	if j.size >= j.maxSize {
		if err := j.rotate(); err != nil {
			return fmt.Errorf("failed to rotate journal: %w", err)
		}
	}

	event.PreviousHash = j.lastHash
	event.EventHash = event.ComputeHash()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')

	n, err := j.file.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	j.size += int64(n)
	j.lastHash = event.EventHash
	return nil
}

// Query reads events from rotated files and the active file.
func (j *FileJournal) Query(_ context.Context, filter QueryFilter) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	return ReadJournal(j.path, filter)
}

// ReadJournal reads the journal at path, rotated files first, without
// opening it for writing. Unreadable files and lines are skipped.
func ReadJournal(path string, filter QueryFilter) ([]Event, error) {
	rotated, err := rotatedFiles(path)
	if err != nil {
		return nil, err
	}

	var all []Event
	for _, f := range append(rotated, path) {
		events, err := readJournalFile(f)
		if err != nil {
			continue
		}
		all = append(all, events...)
	}
	return filter.Apply(all), nil
}

// Close releases the file handle.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

func (j *FileJournal) open() error {
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat journal: %w", err)
	}
	j.file = file
	j.size = info.Size()
	return nil
}

func (j *FileJournal) rotate() error {
	if err := j.file.Close(); err != nil {
		return err
	}
	j.file = nil

	target := fmt.Sprintf("%s.%s", j.path, j.now().UTC().Format("20060102T150405.000000000"))
	if err := os.Rename(j.path, target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	rotated, err := rotatedFiles(j.path)
	if err != nil {
		return err
	}
	if len(rotated) > j.maxRotation {
		for _, f := range rotated[:len(rotated)-j.maxRotation] {
			_ = os.Remove(f)
		}
	}

	return j.open()
}

// rotatedFiles returns the rotations of path, oldest first.
func rotatedFiles(path string) ([]string, error) {
	matches, err := filepath.Glob(path + ".*")
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func readJournalFile(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}

// MemoryJournal keeps events in memory (for testing).
type MemoryJournal struct {
	mu       sync.RWMutex
	events   []Event
	lastHash string

	// Err, when set, is returned by Record.
	Err error
}

// NewMemoryJournal creates an empty MemoryJournal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// Record appends an event.
func (m *MemoryJournal) Record(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	event.PreviousHash = m.lastHash
	event.EventHash = event.ComputeHash()
	m.lastHash = event.EventHash
	m.events = append(m.events, event)
	return nil
}

// Query returns matching events.
func (m *MemoryJournal) Query(_ context.Context, filter QueryFilter) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filter.Apply(m.events), nil
}

// Close is a no-op.
func (m *MemoryJournal) Close() error {
	return nil
}

// Events returns all recorded events.
func (m *MemoryJournal) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// NullJournal discards all events.
type NullJournal struct{}

// Record discards the event.
func (NullJournal) Record(context.Context, Event) error { return nil }

// Query returns no events.
func (NullJournal) Query(context.Context, QueryFilter) ([]Event, error) { return nil, nil }

// Close is a no-op.
func (NullJournal) Close() error { return nil }

// VerifyChain checks that every event's hash matches its content and links
// to its predecessor. It returns the index of the first broken event, or -1.
// The first event may link to an entry lost to rotation pruning.
func VerifyChain(events []Event) int {
	if len(events) == 0 {
		return -1
	}
	prev := events[0].PreviousHash
	for i, e := range events {
		if !e.VerifyHash() || e.PreviousHash != prev {
			return i
		}
		prev = e.EventHash
	}
	return -1
}

var (
	_ Journal = (*FileJournal)(nil)
	_ Journal = (*MemoryJournal)(nil)
	_ Journal = NullJournal{}
)
