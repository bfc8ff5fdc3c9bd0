package telemetry

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Journal keeps a bounded window of recent ticks on disk as consecutive
// msgpack records, so dashboard subscribers connecting late get a short
// replay. It is best-effort; a journal error never fails the loop.
type Journal struct {
	path string
	max  int

	mu      sync.Mutex
	records []TickEvent
	file    *os.File
}

func NewJournal(path string, max int) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is required")
	}
	if max <= 0 {
		max = 512
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	j := &Journal{path: path, max: max}
	if err := j.load(); err != nil {
		// A torn tail from a crash is expected; start fresh.
		j.records = nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	j.file = file
	return j, nil
}

func (j *Journal) load() error {
	file, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()
	decoder := msgpack.NewDecoder(file)
	for {
		var ev TickEvent
		if err := decoder.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		j.records = append(j.records, ev)
		if len(j.records) > j.max {
			j.records = j.records[len(j.records)-j.max:]
		}
	}
}

func (j *Journal) Append(ev TickEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, ev)
	if len(j.records) > 2*j.max {
		j.records = j.records[len(j.records)-j.max:]
		return j.compactLocked()
	}
	data, err := msgpack.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = j.file.Write(data)
	return err
}

// compactLocked rewrites the file from the in-memory window so the journal
// does not grow without bound.
func (j *Journal) compactLocked() error {
	tmp, err := os.CreateTemp(filepath.Dir(j.path), ".journal-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	encoder := msgpack.NewEncoder(tmp)
	for _, ev := range j.records {
		if err := encoder.Encode(ev); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if j.file != nil {
		_ = j.file.Close()
	}
	file, err := os.OpenFile(j.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	j.file = file
	return nil
}

// Recent returns a copy of the current window, oldest first.
func (j *Journal) Recent() []TickEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]TickEvent, len(j.records))
	copy(out, j.records)
	if len(out) > j.max {
		out = out[len(out)-j.max:]
	}
	return out
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
