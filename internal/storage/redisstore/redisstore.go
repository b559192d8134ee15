// Package redisstore provides a Redis-backed implementation of storage.Store.
//
// Each record type lives in one hash, "<prefix>:<table>", with the primary
// key as the hash field and the msgpack-encoded record as the value. Integer
// keys are allocated from a counter stored next to the hash.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aanand-mishra/records-api/internal/config"
	"github.com/aanand-mishra/records-api/internal/schema"
	"github.com/aanand-mishra/records-api/internal/storage"
)

// Redis holds the client shared by every Hash.
type Redis struct {
	Rdb    *redis.Client
	prefix string
}

// New connects to the server described by cfg.Redis.
func New(ctx context.Context, cfg *config.Config) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisstore.New: ping %s: %w", cfg.Redis.Addr, err)
	}

	return &Redis{Rdb: rdb, prefix: cfg.Redis.Prefix}, nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.Rdb.Close()
}

// Hash stores the records of one type.
type Hash[T any] struct {
	rdb    *redis.Client
	schema *schema.Schema[T]
	key    string
	seq    string
}

var _ storage.Store[struct{}] = (*Hash[struct{}])(nil)

// NewHash returns a store for sch's records.
func NewHash[T any](r *Redis, sch *schema.Schema[T]) *Hash[T] {
	key := sch.Table()
	if r.prefix != "" {
		key = r.prefix + ":" + key
	}
	return &Hash[T]{
		rdb:    r.Rdb,
		schema: sch,
		key:    key,
		seq:    key + ":seq",
	}
}

// Key returns the name of the hash holding the records.
func (h *Hash[T]) Key() string { return h.key }

// GetAll returns the records matching where, ordered by primary key.
func (h *Hash[T]) GetAll(ctx context.Context, where storage.Filter) ([]T, error) {
	if err := h.check(where); err != nil {
		return nil, storage.Wrap("GetAll", err)
	}

	if key, ok := where[h.schema.PrimaryKey().Name]; ok {
		rec, err := h.get(ctx, key)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && !h.schema.Match(&rec, where)) {
			return []T{}, nil
		}
		if err != nil {
			return nil, err
		}
		return []T{rec}, nil
	}

	values, err := h.rdb.HGetAll(ctx, h.key).Result()
	if err != nil {
		return nil, storage.Wrap("GetAll: hgetall", err)
	}

	recs := make([]T, 0, len(values))
	for _, v := range values {
		var rec T
		if err := msgpack.Unmarshal([]byte(v), &rec); err != nil {
			return nil, storage.Wrap("GetAll: decode", err)
		}
		if h.schema.Match(&rec, where) {
			recs = append(recs, rec)
		}
	}

	slices.SortFunc(recs, func(a, b T) int { return h.schema.CompareKeys(&a, &b) })
	return recs, nil
}

// GetOne returns the first record matching where, or storage.ErrNotFound.
func (h *Hash[T]) GetOne(ctx context.Context, where storage.Filter) (T, error) {
	var zero T

	recs, err := h.GetAll(ctx, where)
	if err != nil {
		return zero, err
	}
	if len(recs) == 0 {
		return zero, storage.ErrNotFound
	}
	return recs[0], nil
}

// Save writes rec, assigning a key first when it has none.
func (h *Hash[T]) Save(ctx context.Context, rec *T) error {
	if !h.schema.HasKey(rec) {
		return h.insert(ctx, rec)
	}

	data, err := msgpack.Marshal(rec)
	if err != nil {
		return storage.Wrap("Save: encode", err)
	}
	if err := h.rdb.HSet(ctx, h.key, field(h.schema.Key(rec)), data).Err(); err != nil {
		return storage.Wrap("Save: hset", err)
	}
	return nil
}

// Delete removes rec by key.
func (h *Hash[T]) Delete(ctx context.Context, rec *T) error {
	n, err := h.rdb.HDel(ctx, h.key, field(h.schema.Key(rec))).Result()
	if err != nil {
		return storage.Wrap("Delete: hdel", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// insert allocates a key and writes rec only if that key is still free, so
// a counter value already taken by an explicit key is skipped.
func (h *Hash[T]) insert(ctx context.Context, rec *T) error {
	stringKey := h.schema.PrimaryKey().Kind() == reflect.String

	for {
		var key any
		if stringKey {
			key = storage.NewStringKey()
		} else {
			n, err := h.rdb.Incr(ctx, h.seq).Result()
			if err != nil {
				return storage.Wrap("Save: incr", err)
			}
			key = n
		}
		if err := h.schema.SetKey(rec, key); err != nil {
			return storage.Wrap("Save: assign key", err)
		}

		data, err := msgpack.Marshal(rec)
		if err != nil {
			return storage.Wrap("Save: encode", err)
		}
		ok, err := h.rdb.HSetNX(ctx, h.key, field(h.schema.Key(rec)), data).Result()
		if err != nil {
			return storage.Wrap("Save: hsetnx", err)
		}
		if ok {
			return nil
		}
	}
}

func (h *Hash[T]) get(ctx context.Context, key any) (T, error) {
	var rec T

	data, err := h.rdb.HGet(ctx, h.key, field(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return rec, storage.ErrNotFound
	}
	if err != nil {
		return rec, storage.Wrap("GetAll: hget", err)
	}
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return rec, storage.Wrap("GetAll: decode", err)
	}
	return rec, nil
}

func (h *Hash[T]) check(where storage.Filter) error {
	for _, name := range where.Keys() {
		if _, ok := h.schema.Field(name); !ok {
			return fmt.Errorf("unknown field %q", name)
		}
	}
	return nil
}

func field(key any) string {
	return fmt.Sprint(key)
}
