package metrics

import (
	"io"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"so-appserver/internal/sched"
)

// ContentType es el tipo de la exposición en texto, sin charset: la
// ResponseContext agrega "; charset=UTF-8" a todo text/* y el resultado es
// el Content-Type de la exposición de Prometheus.
const ContentType = "text/plain; version=" + expfmt.TextVersion

// Config configura los colectores.
type Config struct {
	// Namespace es el prefijo de las métricas (default: "appserver").
	Namespace string

	// Buckets para la duración de peticiones.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry recibe los colectores. Default: uno nuevo y propio.
	Registry *prometheus.Registry
}

// Option configura Metrics.
type Option func(*Config)

func WithNamespace(ns string) Option { return func(c *Config) { c.Namespace = ns } }

func WithBuckets(b []float64) Option { return func(c *Config) { c.Buckets = b } }

func WithRegistry(r *prometheus.Registry) Option { return func(c *Config) { c.Registry = r } }

// Metrics agrupa los colectores del servidor. Un *Metrics nil es válido y
// no registra nada.
type Metrics struct {
	ns  string
	reg *prometheus.Registry

	connections     prometheus.Counter
	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	handlerErrors   prometheus.Counter
	sessionsCreated prometheus.Counter
	sessionsSwept   prometheus.Counter
}

func New(opts ...Option) *Metrics {
	cfg := Config{Namespace: "appserver", Buckets: prometheus.DefBuckets}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		ns:  cfg.Namespace,
		reg: cfg.Registry,

		connections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "connections_accepted_total",
			Help:      "Connections accepted by the listener",
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "requests_total",
			Help:      "Requests served by handler kind and status code",
		}, []string{"kind", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from accept to connection close",
			Buckets:   cfg.Buckets,
		}, []string{"kind"}),
		handlerErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "handler_errors_total",
			Help:      "Errors that escaped routing",
		}),
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions minted",
		}),
		sessionsSwept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "sessions_swept_total",
			Help:      "Expired sessions removed by the reaper",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) ConnAccepted() {
	if m != nil {
		m.connections.Inc()
	}
}

// ObserveRequest registra una petición terminada.
func (m *Metrics) ObserveRequest(kind string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(kind, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) HandlerError() {
	if m != nil {
		m.handlerErrors.Inc()
	}
}

func (m *Metrics) SessionCreated() {
	if m != nil {
		m.sessionsCreated.Inc()
	}
}

func (m *Metrics) SessionsSwept(n int) {
	if m != nil && n > 0 {
		m.sessionsSwept.Add(float64(n))
	}
}

// RegisterPool expone el estado de un pool como gauges calculados al vuelo.
// stats se consulta en cada scrape, así el pool puede reemplazarse.
func (m *Metrics) RegisterPool(name string, stats func() sched.Stats) error {
	if m == nil {
		return nil
	}
	labels := prometheus.Labels{"pool": name}
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: m.ns, Name: "pool_workers_busy", Help: "Workers running a task",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Workers.Busy) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: m.ns, Name: "pool_queue_length", Help: "Tasks waiting for a worker",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().QueueLen) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: m.ns, Name: "pool_rejected_total", Help: "Submissions refused by the pool",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Rejected) }),
	}
	for _, c := range collectors {
		if err := m.reg.Register(c); err != nil {
			return errors.Wrap(err, "register pool metrics")
		}
	}
	return nil
}

// RegisterSessions expone la cantidad de sesiones vivas.
func (m *Metrics) RegisterSessions(count func() float64) error {
	if m == nil {
		return nil
	}
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.ns, Name: "sessions_active", Help: "Sessions currently registered",
	}, count)
	return errors.Wrap(m.reg.Register(g), "register session metrics")
}

// WriteText vuelca todas las métricas en formato de exposición de texto.
func (m *Metrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.reg.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return errors.Wrap(err, "encode metrics")
		}
	}
	return nil
}
