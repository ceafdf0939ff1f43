package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dictstore/src/models"
)

// DictStore keeps Dict metadata records in memory.
type DictStore struct {
	mu    sync.RWMutex
	dicts map[string]*models.Dict
}

func NewDictStore() *DictStore {
	return &DictStore{dicts: make(map[string]*models.Dict)}
}

func (s *DictStore) Get(_ context.Context, id string) (*models.Dict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dicts[id]
	if !ok {
		return nil, fmt.Errorf("dict '%s': %w", id, models.ErrNotFound)
	}
	return d.Clone(), nil
}

func (s *DictStore) GetAll(_ context.Context) ([]*models.Dict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.dicts))
	for id := range s.dicts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*models.Dict, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.dicts[id].Clone())
	}
	return out, nil
}

func (s *DictStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dicts[id]
	return ok, nil
}

func (s *DictStore) Create(_ context.Context, dict *models.Dict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.dicts[dict.ID]; exists {
		return fmt.Errorf("dict '%s': %w", dict.ID, models.ErrAlreadyExists)
	}
	s.dicts[dict.ID] = dict.Clone()
	return nil
}

func (s *DictStore) Update(_ context.Context, dict *models.Dict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.dicts[dict.ID]; !exists {
		return fmt.Errorf("dict '%s': %w", dict.ID, models.ErrNotFound)
	}
	s.dicts[dict.ID] = dict.Clone()
	return nil
}

func (s *DictStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.dicts[id]; !exists {
		return fmt.Errorf("dict '%s': %w", id, models.ErrNotFound)
	}
	delete(s.dicts, id)
	return nil
}

// VersionStore keeps applied-migration records in memory.
type VersionStore struct {
	mu      sync.RWMutex
	schemes []*models.VersionScheme
}

func NewVersionStore() *VersionStore {
	return &VersionStore{}
}

func (s *VersionStore) GetAll(_ context.Context) ([]*models.VersionScheme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.VersionScheme, len(s.schemes))
	copy(out, s.schemes)
	return out, nil
}

func (s *VersionStore) ExistsChecksum(_ context.Context, checksum string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.schemes {
		if v.Checksum == checksum {
			return true, nil
		}
	}
	return false, nil
}

func (s *VersionStore) Create(_ context.Context, scheme *models.VersionScheme) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.schemes {
		if v.Checksum == scheme.Checksum || v.Version == scheme.Version {
			return fmt.Errorf("migration version %d: %w", scheme.Version, models.ErrAlreadyExists)
		}
	}
	copyScheme := *scheme
	s.schemes = append(s.schemes, &copyScheme)
	return nil
}
