package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aanand-mishra/records-api/internal/config"
	"github.com/aanand-mishra/records-api/internal/http/handlers/record"
	"github.com/aanand-mishra/records-api/internal/http/middleware"
	"github.com/aanand-mishra/records-api/internal/metrics"
	"github.com/aanand-mishra/records-api/internal/openapi"
	"github.com/aanand-mishra/records-api/internal/schema"
	"github.com/aanand-mishra/records-api/internal/storage"
	"github.com/aanand-mishra/records-api/internal/storage/redisstore"
	"github.com/aanand-mishra/records-api/internal/storage/sqlite"
	"github.com/aanand-mishra/records-api/internal/types"
)

// backend is the opened storage; exactly one field is set.
type backend struct {
	sqlite *sqlite.SQLite
	redis  *redisstore.Redis
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.StorageBackend {
	case config.BackendRedis:
		r, err := redisstore.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &backend{redis: r}, nil
	default:
		db, err := sqlite.New(cfg)
		if err != nil {
			return nil, err
		}
		return &backend{sqlite: db}, nil
	}
}

func (b *backend) Close() error {
	if b.redis != nil {
		return b.redis.Close()
	}
	return b.sqlite.Close()
}

// storeFor returns the store of one record type on b.
func storeFor[T any](b *backend, sch *schema.Schema[T]) (storage.Store[T], error) {
	if b.redis != nil {
		return redisstore.NewHash(b.redis, sch), nil
	}
	return sqlite.NewTable(b.sqlite, sch)
}

// mount generates the endpoints of T under <api prefix>/<table> and returns
// its route table.
func mount[T any](mux *http.ServeMux, cfg *config.Config, b *backend, m *metrics.Manager) ([]record.Operation, error) {
	sch, err := schema.Of[T]()
	if err != nil {
		return nil, err
	}

	store, err := storeFor(b, sch)
	if err != nil {
		return nil, fmt.Errorf("store for %s: %w", sch.Name(), err)
	}

	rt := record.New(sch, store, record.WithPrefix(cfg.API.Prefix+"/"+sch.Table()))
	rt.Register(mux, middleware.Metrics(m))
	return rt.Operations(), nil
}

// newHandler builds the full HTTP surface: the generated record endpoints,
// the OpenAPI document and the metrics endpoint, behind the request ID and
// logging middleware.
func newHandler(cfg *config.Config, b *backend, m *metrics.Manager, log *slog.Logger) (http.Handler, error) {
	mux := http.NewServeMux()

	var ops []record.Operation
	for _, mountType := range []func(*http.ServeMux, *config.Config, *backend, *metrics.Manager) ([]record.Operation, error){
		mount[types.Student],
		mount[types.Course],
	} {
		typeOps, err := mountType(mux, cfg, b, m)
		if err != nil {
			return nil, err
		}
		ops = append(ops, typeOps...)
	}

	doc := openapi.Build(openapi.Info{Title: cfg.API.Title, Version: cfg.API.Version}, ops)
	if err := openapi.Register(mux, doc); err != nil {
		return nil, err
	}

	mux.Handle("GET /metrics", m.Handler())

	return middleware.Chain(mux, middleware.RequestID(), middleware.Logger(log)), nil
}
