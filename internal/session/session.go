package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

// CounterKey es el parámetro persistente con el que nace toda sesión.
const CounterKey = "counter"

// DefaultTimeout aplica cuando no se configura uno.
const DefaultTimeout = 30 * time.Minute

// ErrIDExhausted: no se pudo generar un id libre tras varios intentos.
var ErrIDExhausted = errors.New("session: could not allocate a free id")

// Record es el estado de servidor asociado a un SID. Los datos se mutan
// desde los handlers; el vencimiento lo maneja el Store.
type Record struct {
	id        string
	expiresAt atomic.Int64 // unix nanos

	mu    sync.RWMutex
	data  map[string]string
	dirty bool
}

func newRecord(id string, expires time.Time, data map[string]string) *Record {
	if data == nil {
		data = map[string]string{}
	}
	r := &Record{id: id, data: data}
	r.expiresAt.Store(expires.UnixNano())
	return r
}

func (r *Record) ID() string { return r.id }

// ExpiresAt devuelve el instante absoluto de vencimiento.
func (r *Record) ExpiresAt() time.Time { return time.Unix(0, r.expiresAt.Load()) }

func (r *Record) expired(now time.Time) bool { return !now.Before(r.ExpiresAt()) }

func (r *Record) Get(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.data[key]
	return v, ok
}

func (r *Record) Set(key, value string) {
	r.mu.Lock()
	r.data[key] = value
	r.dirty = true
	r.mu.Unlock()
}

// Update aplica f sobre el valor actual de key bajo el lock del registro;
// dos actualizaciones concurrentes nunca pisan una a la otra.
func (r *Record) Update(key string, f func(old string, ok bool) string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.data[key]
	v := f(old, ok)
	r.data[key] = v
	r.dirty = true
	return v
}

// Keys devuelve las claves ordenadas.
func (r *Record) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.data))
	for k := range r.data {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Snapshot copia los datos actuales.
func (r *Record) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.data))
	for k, v := range r.data {
		out[k] = v
	}
	return out
}

// takeDirty devuelve los datos si hubo cambios desde la última llamada.
func (r *Record) takeDirty() (map[string]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirty {
		return nil, false
	}
	r.dirty = false
	out := make(map[string]string, len(r.data))
	for k, v := range r.data {
		out[k] = v
	}
	return out, true
}

// Store es el registro concurrente de sesiones.
type Store interface {
	// Resolve devuelve el registro vivo para id extendiendo su vencimiento,
	// o nil si no existe o ya venció.
	Resolve(ctx context.Context, id string) (*Record, error)
	// Create acuña un id nuevo y registra la sesión.
	Create(ctx context.Context) (*Record, error)
	// Save persiste cambios de datos hechos durante la petición.
	Save(ctx context.Context, r *Record) error
	// SweepExpired elimina los registros vencidos y devuelve cuántos.
	SweepExpired(ctx context.Context) (int, error)
	// Clear vacía el almacén (apagado).
	Clear(ctx context.Context) error
	// Len cuenta las sesiones registradas.
	Len(ctx context.Context) (int, error)
}

type config struct {
	timeout  time.Duration
	now      func() time.Time
	newID    func() (string, error)
	attempts int
	prefix   string
}

// Option configura un Store.
type Option func(*config)

// WithTimeout fija cuánto vive una sesión sin peticiones.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock reemplaza time.Now (tests).
func WithClock(now func() time.Time) Option { return func(c *config) { c.now = now } }

// WithIDGenerator reemplaza el generador de SIDs (tests).
func WithIDGenerator(f func() (string, error)) Option { return func(c *config) { c.newID = f } }

// WithPrefix fija el prefijo de claves (sólo Redis).
func WithPrefix(p string) Option { return func(c *config) { c.prefix = p } }

func applyOptions(opts []Option) config {
	cfg := config{
		timeout:  DefaultTimeout,
		now:      time.Now,
		newID:    NewID,
		attempts: 8,
		prefix:   "appserver:session:",
	}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

func seed() map[string]string {
	return map[string]string{CounterKey: "0"}
}
