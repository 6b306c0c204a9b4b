package registry

import (
	"sync"

	"github.com/google/uuid"

	"roomrelay-server/domain"
)

type Registry struct {
	live  map[domain.ConnectionID]struct{}
	newID func() string
	mu    sync.RWMutex
}

func New() *Registry {
	return &Registry{
		live:  make(map[domain.ConnectionID]struct{}),
		newID: uuid.NewString,
	}
}

func (r *Registry) Register() domain.ConnectionID {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		id := domain.ConnectionID(r.newID())
		if _, taken := r.live[id]; taken {
			continue
		}
		r.live[id] = struct{}{}
		return id
	}
}

// Deregister is a no-op for ids that are not live.
func (r *Registry) Deregister(id domain.ConnectionID) {
	r.mu.Lock()
	delete(r.live, id)
	r.mu.Unlock()
}

func (r *Registry) IsLive(id domain.ConnectionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.live[id]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}
