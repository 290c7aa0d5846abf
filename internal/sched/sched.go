package sched

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrPoolClosed se devuelve al encolar en un pool ya cerrado.
var ErrPoolClosed = errors.New("sched: pool closed")

// Task es una unidad de trabajo; el ctx es el del pool, se cancela
// sólo si quien encola lo pide.
type Task func(ctx context.Context)

// work representa una unidad que viaja por la cola del pool.
type work struct {
	ctx      context.Context
	run      Task
	enqueued time.Time
}

// ---- estadísticos (Welford) ----
type stat struct {
	mu   sync.Mutex
	n    int64
	mean float64
	m2   float64
}

func (s *stat) add(x float64) {
	s.mu.Lock()
	s.n++
	delta := x - s.mean
	s.mean += delta / float64(s.n)
	delta2 := x - s.mean
	s.m2 += delta * delta2
	s.mu.Unlock()
}

func (s *stat) snapshot() (count int64, mean, std float64) {
	s.mu.Lock()
	count = s.n
	mean = s.mean
	if s.n > 1 {
		variance := s.m2 / float64(s.n-1)
		if variance > 0 {
			std = math.Sqrt(variance)
		}
	}
	s.mu.Unlock()
	return
}

// Pool es un conjunto fijo de workers alimentado por una cola acotada.
// Submit bloquea mientras la cola esté llena.
type Pool struct {
	name  string
	queue chan work
	total int

	busy   atomic.Int64
	mu     sync.RWMutex // protege closed frente a envíos en curso
	closed bool
	start  sync.Once
	wg     sync.WaitGroup

	// Métricas acumuladas
	submitted atomic.Uint64
	completed atomic.Uint64
	rejected  atomic.Uint64
	panics    atomic.Uint64
	waitStat  stat // espera (ms)
	runStat   stat // ejecución (ms)
}

// NewPool crea un pool con workers y capacidad de cola.
func NewPool(name string, workers, capacity int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = workers
	}
	return &Pool{
		name:  name,
		queue: make(chan work, capacity),
		total: workers,
	}
}

func (p *Pool) Name() string { return p.name }

// Start lanza los workers una única vez.
func (p *Pool) Start() {
	p.start.Do(func() {
		p.wg.Add(p.total)
		for i := 0; i < p.total; i++ {
			go p.worker()
		}
	})
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for w := range p.queue {
		p.exec(w)
	}
}

func (p *Pool) exec(w work) {
	p.busy.Add(1)
	wait := time.Since(w.enqueued)
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			p.panics.Add(1)
		}
		run := time.Since(start)
		p.busy.Add(-1)
		p.completed.Add(1)

		// métricas en ms
		p.waitStat.add(float64(wait) / 1e6)
		p.runStat.add(float64(run) / 1e6)
	}()
	w.run(w.ctx)
}

// Submit encola t esperando lugar en la cola. Falla con ErrPoolClosed
// tras Close o con el error de ctx si se cancela antes de encolar.
func (p *Pool) Submit(ctx context.Context, t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.rejected.Add(1)
		return ErrPoolClosed
	}
	w := work{ctx: ctx, run: t, enqueued: time.Now()}
	// con hueco en la cola se encola aunque ctx ya esté cancelado
	select {
	case p.queue <- w:
		p.submitted.Add(1)
		return nil
	default:
	}
	select {
	case p.queue <- w:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return errors.Wrap(ctx.Err(), "submit")
	}
}

// Close deja de aceptar trabajo, deja terminar lo encolado y espera a los
// workers. Es idempotente.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Latency resume una serie de tiempos en milisegundos.
type Latency struct {
	Avg float64 `json:"avg"`
	Std float64 `json:"std"`
}

// Workers cuenta los workers por estado.
type Workers struct {
	Total int   `json:"total"`
	Busy  int64 `json:"busy"`
	Idle  int64 `json:"idle"`
}

// Stats es un snapshot serializable para /status y las métricas.
type Stats struct {
	Name      string             `json:"name"`
	Workers   Workers            `json:"workers"`
	QueueLen  int                `json:"queue_len"`
	QueueCap  int                `json:"queue_cap"`
	Submitted uint64             `json:"submitted"`
	Completed uint64             `json:"completed"`
	Rejected  uint64             `json:"rejected"`
	Panics    uint64             `json:"panics"`
	LatencyMS map[string]Latency `json:"latency_ms"`
}

func (p *Pool) Stats() Stats {
	busy := p.busy.Load()
	_, meanWait, stdWait := p.waitStat.snapshot()
	_, meanRun, stdRun := p.runStat.snapshot()
	return Stats{
		Name: p.name,
		Workers: Workers{
			Total: p.total,
			Busy:  busy,
			Idle:  int64(p.total) - busy,
		},
		QueueLen:  len(p.queue),
		QueueCap:  cap(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
		Panics:    p.panics.Load(),
		LatencyMS: map[string]Latency{
			"wait": {Avg: meanWait, Std: stdWait},
			"run":  {Avg: meanRun, Std: stdRun},
		},
	}
}
