package versions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type fileDocument struct {
	FileVersions map[string]Record `json:"fileVersions"`
}

// FileStore keeps records in a JSON document next to the installed toolchain.
// Every Set rewrites the whole file through a temp file and rename.
type FileStore struct {
	mu      sync.Mutex
	path    string
	records map[string]Record
}

func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, records: make(map[string]Record)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read version record: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode version record %s: %w", path, err)
	}
	for key, rec := range doc.FileVersions {
		rec.Key = key
		s.records[key] = rec
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, key string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *FileStore) Set(_ context.Context, key string, major int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.records[key]
	s.records[key] = Record{Key: key, Major: major, UpdatedAt: time.Now().UTC()}
	if err := s.flushLocked(); err != nil {
		if had {
			s.records[key] = prev
		} else {
			delete(s.records, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) All(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedRecords(s.records), nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(fileDocument{FileVersions: s.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode version record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create version record dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp version record: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write version record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close version record: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace version record: %w", err)
	}
	return nil
}
