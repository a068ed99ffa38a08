package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"github.com/dmitrijs2005/licensekeeper/internal/server/models"
)

// MemoryRepository keeps sessions in process memory. Expired entries are
// dropped when they are looked up.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[string]*models.Session
	byUser map[string]map[string]struct{}
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*models.Session),
		byUser: make(map[string]map[string]struct{}),
		now:    time.Now,
	}
}

func (r *MemoryRepository) Create(ctx context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *s
	r.byID[s.ID] = &c
	ids, ok := r.byUser[s.Username]
	if !ok {
		ids = make(map[string]struct{})
		r.byUser[s.Username] = ids
	}
	ids[s.ID] = struct{}{}
	return nil
}

func (r *MemoryRepository) Find(ctx context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if s.Expired(r.now()) {
		r.remove(s)
		return nil, common.ErrorNotFound
	}
	c := *s
	return &c, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.byID[id]; ok {
		r.remove(s)
	}
	return nil
}

func (r *MemoryRepository) DeleteByUser(ctx context.Context, username string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.byUser[username]
	for id := range ids {
		delete(r.byID, id)
	}
	delete(r.byUser, username)
	return len(ids), nil
}

func (r *MemoryRepository) Rename(ctx context.Context, from, to string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.byUser[from]
	if len(ids) == 0 {
		return 0, nil
	}
	dst, ok := r.byUser[to]
	if !ok {
		dst = make(map[string]struct{}, len(ids))
		r.byUser[to] = dst
	}
	for id := range ids {
		r.byID[id].Username = to
		dst[id] = struct{}{}
	}
	delete(r.byUser, from)
	return len(ids), nil
}

func (r *MemoryRepository) remove(s *models.Session) {
	delete(r.byID, s.ID)
	if ids, ok := r.byUser[s.Username]; ok {
		delete(ids, s.ID)
		if len(ids) == 0 {
			delete(r.byUser, s.Username)
		}
	}
}
