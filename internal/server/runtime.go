package server

import (
	"context"
	"os"
	"time"

	"so-appserver/internal/sched"
)

// Status es el cuerpo de /status.
type Status struct {
	PID         int         `json:"pid"`
	UptimeMS    int64       `json:"uptime_ms"`
	StartedAt   string      `json:"started_at"`
	Connections uint64      `json:"connections"`
	Sessions    int         `json:"sessions"`
	Running     bool        `json:"running"`
	Pool        sched.Stats `json:"pool"`
}

func (s *Server) Uptime() time.Duration { return time.Since(s.startedAt) }
func (s *Server) StartedAt() time.Time  { return s.startedAt }
func (s *Server) ConnCount() uint64     { return s.connSeen.Load() }

// PoolStats devuelve el estado del pool actual (vacío antes del primer
// Start).
func (s *Server) PoolStats() sched.Stats {
	if p := s.pool.Load(); p != nil {
		return p.Stats()
	}
	return sched.Stats{Name: PoolName}
}

// Snapshot arma el estado del proceso. Un error del almacén deja
// Sessions en -1.
func (s *Server) Snapshot(ctx context.Context) Status {
	n, err := s.store.Len(ctx)
	if err != nil {
		n = -1
	}
	return Status{
		PID:         os.Getpid(),
		UptimeMS:    s.Uptime().Milliseconds(),
		StartedAt:   s.startedAt.UTC().Format(time.RFC3339),
		Connections: s.ConnCount(),
		Sessions:    n,
		Running:     s.Running(),
		Pool:        s.PoolStats(),
	}
}
