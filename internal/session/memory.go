package session

import (
	"context"
	"sync"
)

// MemoryStore guarda las sesiones en un mapa protegido por un único mutex.
// Resolve extiende el vencimiento y SweepExpired verifica-y-borra bajo el
// mismo lock, así que un registro recién extendido nunca se barre.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Record
	cfg      config
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore crea un Store en memoria.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Record),
		cfg:      applyOptions(opts),
	}
}

func (s *MemoryStore) Resolve(_ context.Context, id string) (*Record, error) {
	if !ValidID(id) {
		return nil, nil
	}
	now := s.cfg.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	if r.expired(now) {
		delete(s.sessions, id)
		return nil, nil
	}
	r.expiresAt.Store(now.Add(s.cfg.timeout).UnixNano())
	return r, nil
}

func (s *MemoryStore) Create(_ context.Context) (*Record, error) {
	for i := 0; i < s.cfg.attempts; i++ {
		id, err := s.cfg.newID()
		if err != nil {
			return nil, err
		}
		now := s.cfg.now()
		s.mu.Lock()
		if old, ok := s.sessions[id]; ok && !old.expired(now) {
			s.mu.Unlock()
			continue
		}
		r := newRecord(id, now.Add(s.cfg.timeout), seed())
		s.sessions[id] = r
		s.mu.Unlock()
		return r, nil
	}
	return nil, ErrIDExhausted
}

// Save no hace nada: el registro ya vive en el mapa.
func (s *MemoryStore) Save(_ context.Context, r *Record) error {
	if r != nil {
		r.takeDirty()
	}
	return nil
}

func (s *MemoryStore) SweepExpired(_ context.Context) (int, error) {
	now := s.cfg.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.sessions {
		if r.expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.sessions = make(map[string]*Record)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions), nil
}
