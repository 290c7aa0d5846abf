package session

import (
	"context"
	"time"

	"so-appserver/internal/logger"
)

// Reaper barre periódicamente un Store hasta que se cancela su contexto.
type Reaper struct {
	Store    Store
	Interval time.Duration
	Log      logger.Logger
	// OnSweep se invoca con la cantidad barrida en cada pasada (opcional).
	OnSweep func(n int)
}

// Run bloquea hasta ctx.Done(); nunca devuelve error por un barrido fallido.
func (r *Reaper) Run(ctx context.Context) error {
	every := r.Interval
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.Store.SweepExpired(ctx)
			if err != nil {
				if r.Log != nil {
					r.Log.Warn("session sweep failed: %v", err)
				}
				continue
			}
			if n > 0 && r.Log != nil {
				r.Log.Debug("swept %d expired sessions", n)
			}
			if r.OnSweep != nil {
				r.OnSweep(n)
			}
		}
	}
}
