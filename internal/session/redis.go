package session

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisStore guarda cada sesión como una clave con TTL. Redis vence las
// claves por sí mismo; GETEX lee y extiende en un solo comando atómico.
type RedisStore struct {
	client *redis.Client
	cfg    config
}

var _ Store = (*RedisStore)(nil)

type redisRecord struct {
	Data map[string]string `msgpack:"data"`
}

// NewRedisStore crea un Store sobre un cliente existente.
// El ciclo de vida del cliente es del llamador.
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{client: client, cfg: applyOptions(opts)}
}

func (s *RedisStore) key(id string) string { return s.cfg.prefix + id }

func (s *RedisStore) Resolve(ctx context.Context, id string) (*Record, error) {
	if !ValidID(id) {
		return nil, nil
	}
	val, err := s.client.GetEx(ctx, s.key(id), s.cfg.timeout).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "session: redis getex")
	}
	var rr redisRecord
	if err := msgpack.Unmarshal(val, &rr); err != nil {
		return nil, errors.Wrap(err, "session: failed to unmarshal")
	}
	return newRecord(id, s.cfg.now().Add(s.cfg.timeout), rr.Data), nil
}

func (s *RedisStore) Create(ctx context.Context) (*Record, error) {
	data := seed()
	buf, err := msgpack.Marshal(redisRecord{Data: data})
	if err != nil {
		return nil, errors.Wrap(err, "session: failed to marshal")
	}
	for i := 0; i < s.cfg.attempts; i++ {
		id, err := s.cfg.newID()
		if err != nil {
			return nil, err
		}
		// SETNX: un id vivo nunca se pisa
		ok, err := s.client.SetNX(ctx, s.key(id), buf, s.cfg.timeout).Result()
		if err != nil {
			return nil, errors.Wrap(err, "session: redis setnx")
		}
		if ok {
			return newRecord(id, s.cfg.now().Add(s.cfg.timeout), data), nil
		}
	}
	return nil, ErrIDExhausted
}

// Save escribe los datos sólo si cambiaron, conservando el TTL y sin
// resucitar una clave que Redis ya venció.
func (s *RedisStore) Save(ctx context.Context, r *Record) error {
	if r == nil {
		return nil
	}
	data, dirty := r.takeDirty()
	if !dirty {
		return nil
	}
	buf, err := msgpack.Marshal(redisRecord{Data: data})
	if err != nil {
		return errors.Wrap(err, "session: failed to marshal")
	}
	err = s.client.SetArgs(ctx, s.key(r.ID()), buf, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if err != nil && err != redis.Nil {
		return errors.Wrap(err, "session: redis save")
	}
	return nil
}

// SweepExpired no tiene trabajo que hacer: Redis vence las claves con TTL.
func (s *RedisStore) SweepExpired(_ context.Context) (int, error) { return 0, nil }

func (s *RedisStore) Clear(ctx context.Context) error {
	keys, err := s.keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return errors.Wrap(s.client.Del(ctx, keys...).Err(), "session: redis del")
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	keys, err := s.keys(ctx)
	return len(keys), err
}

func (s *RedisStore) keys(ctx context.Context) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, s.cfg.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "session: redis scan")
	}
	return out, nil
}

// Ping verifica la conexión con un timeout corto.
func Ping(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return errors.Wrap(client.Ping(ctx).Err(), "session: redis ping")
}
