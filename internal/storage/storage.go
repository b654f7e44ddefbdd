package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/JoeGaudoin/pokeuk-dealscout/internal/pipeline"
)

// Store persists accepted deals. SaveDeals dedups against previously
// seen (venue, external_id) keys across ticks: a re-observed deal
// refreshes its record but does not count as new.
type Store interface {
	SaveDeals(deals []pipeline.Deal) (newCount int, err error)
	RecentDeals(limit int) ([]pipeline.Deal, error)
	Close() error
}

func NewStore(storageType string, path string) (Store, error) {
	switch storageType {
	case "file":
		return NewFileStore(path)
	case "sqlite":
		return NewSQLiteStore(path)
	case "redis":
		return NewRedisStore(path)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", storageType)
	}
}

// FileStore keeps deals in a single JSON file, rewritten atomically.
type FileStore struct {
	mu    sync.Mutex
	path  string
	deals map[string]pipeline.Deal
}

func NewFileStore(path string) (*FileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	s := &FileStore{path: path, deals: make(map[string]pipeline.Deal)}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read file: %w", err)
		}
		return s, nil
	}
	if err := json.Unmarshal(data, &s.deals); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}

	return s, nil
}

func (s *FileStore) SaveDeals(deals []pipeline.Deal) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newCount := 0
	for _, deal := range deals {
		key := deal.Listing.Key()
		if _, seen := s.deals[key]; !seen {
			newCount++
		}
		s.deals[key] = deal
	}

	if err := s.flush(); err != nil {
		return 0, err
	}
	return newCount, nil
}

func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.deals, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	// Atomic write: temp file, then rename.
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

func (s *FileStore) RecentDeals(limit int) ([]pipeline.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]pipeline.Deal, 0, len(s.deals))
	for _, deal := range s.deals {
		all = append(all, deal)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Listing.FoundAt.After(all[j].Listing.FoundAt)
	})

	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *FileStore) Close() error {
	return nil
}
