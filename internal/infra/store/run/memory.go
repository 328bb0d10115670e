package runstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/you-humble/apsplot/internal/domain"
)

// memoryRunStore backs the journal when no redis address is configured.
// Entries live as long as the process.
type memoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]domain.Run
	now  func() time.Time
}

func NewMemoryRunStore() *memoryRunStore {
	return &memoryRunStore{
		runs: make(map[string]domain.Run),
		now:  time.Now,
	}
}

func (s *memoryRunStore) Create(_ context.Context, p domain.CreateRunParams) (domain.Run, error) {
	now := s.now()
	r := domain.Run{
		ID:         uuid.NewString(),
		Kind:       p.Kind,
		Status:     domain.RunPending,
		SourceName: p.SourceName,
		OutputName: p.OutputName,
		Bucket:     p.Bucket,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(p.TTL),
	}

	s.mu.Lock()
	s.runs[r.ID] = r
	s.mu.Unlock()
	return r, nil
}

func (s *memoryRunStore) Update(_ context.Context, id string, u domain.RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("update run %s: %w", id, domain.ErrRunNotFound)
	}
	apply(&r, u)
	r.UpdatedAt = s.now()
	s.runs[id] = r
	return nil
}

func (s *memoryRunStore) Run(_ context.Context, id string) (domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return domain.Run{}, domain.ErrRunNotFound
	}
	return r, nil
}

func (s *memoryRunStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, r := range s.runs {
		if !r.ExpiresAt.After(now) {
			delete(s.runs, id)
			deleted++
		}
	}
	return deleted, nil
}

func apply(r *domain.Run, u domain.RunUpdate) {
	if u.Status != "" {
		r.Status = u.Status
	}
	if u.URN != "" {
		r.URN = u.URN
	}
	if u.WorkItemID != "" {
		r.WorkItemID = u.WorkItemID
	}
	if u.TranslationStatus != "" {
		r.TranslationStatus = u.TranslationStatus
	}
	if u.WorkItemStatus != "" {
		r.WorkItemStatus = u.WorkItemStatus
	}
	if u.OutputPath != "" {
		r.OutputPath = u.OutputPath
	}
	if u.OutputSize > 0 {
		r.OutputSize = u.OutputSize
	}
	if u.PageCount > 0 {
		r.PageCount = u.PageCount
	}
	if u.Error != "" {
		r.Error = u.Error
	}
}
