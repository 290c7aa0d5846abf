package config

import (
	"bytes"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix antecede a todas las variables de entorno reconocidas.
const EnvPrefix = "APPSERVER_"

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Duration acepta "30m", "1h30m", "1d" o "2w" en YAML y en entorno.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return str2duration.String(time.Duration(d)) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

// ParseDuration parsea con unidades extendidas (d, w).
func ParseDuration(s string) (time.Duration, error) {
	v, err := str2duration.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", s)
	}
	return v, nil
}

// Redis configura el backend de sesiones compartido.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Config se carga una vez al arrancar y después es de sólo lectura.
type Config struct {
	Addr             string            `yaml:"addr"`
	Workers          int               `yaml:"workers"`
	Queue            int               `yaml:"queue"`
	SessionTimeout   Duration          `yaml:"session_timeout"`
	SweepInterval    Duration          `yaml:"sweep_interval"`
	AcceptPoll       Duration          `yaml:"accept_poll"`
	ConnTimeout      Duration          `yaml:"conn_timeout"`
	DocumentRoot     string            `yaml:"document_root"`
	ReservedPrefixes []string          `yaml:"reserved_prefixes"`
	MIME             map[string]string `yaml:"mime"`
	Handlers         map[string]string `yaml:"handlers"`
	Ext              map[string]string `yaml:"ext"`
	SessionBackend   string            `yaml:"session_backend"`
	Redis            Redis             `yaml:"redis"`
	LogLevel         string            `yaml:"log_level"`
	Metrics          bool              `yaml:"metrics"`
}

// Default devuelve la configuración base.
func Default() Config {
	return Config{
		Addr:             ":8080",
		Workers:          8,
		Queue:            64,
		SessionTimeout:   Duration(30 * time.Minute),
		SweepInterval:    Duration(time.Minute),
		AcceptPoll:       Duration(time.Second),
		ConnTimeout:      Duration(30 * time.Second),
		DocumentRoot:     "./www",
		ReservedPrefixes: []string{"/private"},
		SessionBackend:   BackendMemory,
		Redis:            Redis{Addr: "127.0.0.1:6379", Prefix: "appserver:session:"},
		LogLevel:         "info",
		Metrics:          true,
	}
}

// Load aplica en orden: defaults, archivo YAML (si path no es vacío) y
// variables de entorno. No valida: eso lo hace Validate después de los
// flags.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "read config")
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv sobreescribe campos con APPSERVER_*. Un entero inválido se
// ignora; una duración inválida es error.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(k string) (string, bool) {
		v, ok := lookup(EnvPrefix + k)
		if !ok || v == "" {
			return "", false
		}
		return v, true
	}
	if v, ok := get("ADDR"); ok {
		c.Addr = v
	}
	c.Workers = getenvInt(get, "WORKERS", c.Workers)
	c.Queue = getenvInt(get, "QUEUE", c.Queue)
	for key, dst := range map[string]*Duration{
		"SESSION_TIMEOUT": &c.SessionTimeout,
		"SWEEP_INTERVAL":  &c.SweepInterval,
		"ACCEPT_POLL":     &c.AcceptPoll,
		"CONN_TIMEOUT":    &c.ConnTimeout,
	} {
		if v, ok := get(key); ok {
			d, err := ParseDuration(v)
			if err != nil {
				return errors.Wrapf(err, "%s%s", EnvPrefix, key)
			}
			*dst = Duration(d)
		}
	}
	if v, ok := get("DOCUMENT_ROOT"); ok {
		c.DocumentRoot = v
	}
	if v, ok := get("RESERVED_PREFIXES"); ok {
		c.ReservedPrefixes = splitList(v)
	}
	if v, ok := get("SESSION_BACKEND"); ok {
		c.SessionBackend = v
	}
	if v, ok := get("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := get("REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	c.Redis.DB = getenvInt(get, "REDIS_DB", c.Redis.DB)
	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := get("METRICS"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Metrics = b
		}
	}
	return nil
}

func getenvInt(get func(string) (string, bool), key string, def int) int {
	if v, ok := get(key); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rechaza configuraciones con las que el servidor no puede
// arrancar.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("config: addr is required")
	}
	if c.Workers <= 0 {
		return errors.Newf("config: workers must be > 0, got %d", c.Workers)
	}
	if c.Queue < 0 {
		return errors.Newf("config: queue must be >= 0, got %d", c.Queue)
	}
	if c.SessionTimeout <= 0 || c.SweepInterval <= 0 || c.AcceptPoll <= 0 || c.ConnTimeout <= 0 {
		return errors.New("config: durations must be positive")
	}
	fi, err := os.Stat(c.DocumentRoot)
	if err != nil {
		return errors.Wrap(err, "config: document_root")
	}
	if !fi.IsDir() {
		return errors.Newf("config: document_root %s is not a directory", c.DocumentRoot)
	}
	for _, p := range c.ReservedPrefixes {
		if !strings.HasPrefix(p, "/") {
			return errors.Newf("config: reserved prefix %q must start with /", p)
		}
	}
	switch c.SessionBackend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("config: redis.addr is required for the redis backend")
		}
	default:
		return errors.Newf("config: unknown session_backend %q", c.SessionBackend)
	}
	return nil
}
