package delivery

import (
	"fmt"
	"sync"
	"time"

	hberrors "github.com/dungeonforge/messagehub/internal/hub/errors"
)

// statusStore retains delivery state for status queries. Records live until
// the message TTL plus a grace window, then the sweeper purges them; queries
// for purged ids report not-found, same as unknown ids.
type statusStore struct {
	mu      sync.RWMutex
	records map[string]*statusRecord
	grace   time.Duration
}

type statusRecord struct {
	info      StatusInfo
	createdAt time.Time
	ttl       time.Duration
}

func newStatusStore(grace time.Duration) *statusStore {
	return &statusStore{
		records: make(map[string]*statusRecord),
		grace:   grace,
	}
}

func (s *statusStore) create(m *Message, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[m.ID] = &statusRecord{
		info:      StatusInfo{ID: m.ID, Status: status},
		createdAt: m.CreatedAt,
		ttl:       m.TTL,
	}
}

func (s *statusStore) setStatus(id string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id]; ok {
		r.info.Status = status
	}
}

// recordAttempt bumps the attempt counter and returns the new count.
func (s *statusStore) recordAttempt(id string, ts time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return 0
	}
	r.info.Attempts++
	r.info.LastAttempt = ts
	r.info.Status = StatusPending
	return r.info.Attempts
}

func (s *statusStore) finish(id string, status Status, reason FailureReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id]; ok {
		r.info.Status = status
		r.info.Reason = reason
	}
}

func (s *statusStore) get(id string) (StatusInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return StatusInfo{}, fmt.Errorf("%w: %s", hberrors.ErrMessageNotFound, id)
	}
	return r.info, nil
}

// purge drops records past TTL + grace. Returns how many were removed.
func (s *statusStore) purge(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, r := range s.records {
		if now.Sub(r.createdAt) > r.ttl+s.grace {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}
