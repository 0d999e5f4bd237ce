package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// Journal is an append-only log of mutation records, one JSON object per line.
type Journal struct {
	path string
	f    *os.File
}

// OpenJournal opens path for appending, creating it if needed.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{path: path, f: f}, nil
}

// Append writes one record and syncs it to disk.
func (j *Journal) Append(r record) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	line = append(line, '\n')
	if _, err := j.f.Write(line); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return j.f.Sync()
}

// Replay calls fn for every complete record in file order. A torn final line
// from a crash mid-append ends the replay without an error.
func (j *Journal) Replay(fn func(record) error) error {
	f, err := os.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
		var r record
		if err := json.Unmarshal(line, &r); err != nil {
			return fmt.Errorf("decode journal line: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
}

// Truncate discards every record. Called after a snapshot has absorbed them.
func (j *Journal) Truncate() error {
	if err := j.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate journal: %w", err)
	}
	_, err := j.f.Seek(0, io.SeekStart)
	return err
}

// Close releases the journal file. Records already appended stay on disk.
func (j *Journal) Close() error {
	return j.f.Close()
}
