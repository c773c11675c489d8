package decorators

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"Invoke-Chain/pkg/invoke"
	"Invoke-Chain/pkg/logger"
	"Invoke-Chain/pkg/plugin"
)

const (
	defaultCacheTTL    = 5 * time.Minute
	defaultCachePrefix = "invokechain:cache"
)

var (
	contextType  = reflect.TypeFor[context.Context]()
	metadataType = reflect.TypeFor[*invoke.Metadata]()
)

// Cache memoises successful results in Redis, keyed by the function name and
// the JSON encoding of its arguments. Only functions returning a value are
// cached. Redis failures fall through to the function.
type Cache struct {
	base
	client goredis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewCache returns a cache decorator. A nil client is taken from the redis
// resource on Init; a zero ttl uses five minutes.
func NewCache(client goredis.UniversalClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{client: client, ttl: ttl, prefix: defaultCachePrefix, logger: logger.Named("cache")}
}

func (d *Cache) Info() plugin.Info {
	return info("cache", "Caches function results in Redis.", plugin.PermissionNetwork)
}

func (d *Cache) Configure(cfg map[string]any) error {
	var c struct {
		filter `yaml:",inline"`
		TTL    time.Duration `yaml:"ttl"`
		Prefix string        `yaml:"prefix"`
	}
	if err := plugin.DecodeConfig(cfg, &c); err != nil {
		return err
	}
	d.filter = c.filter
	if c.TTL > 0 {
		d.ttl = c.TTL
	}
	if c.Prefix != "" {
		d.prefix = c.Prefix
	}
	return nil
}

func (d *Cache) Init(ctx *plugin.ExecutionContext) error {
	if d.client != nil {
		return nil
	}
	client, ok := plugin.Resource[*goredis.Client](ctx, plugin.ResourceRedis)
	if !ok {
		return errors.New("redis resource not provided")
	}
	d.client = client
	return nil
}

func (d *Cache) Supports(md *invoke.Metadata) bool {
	return d.client != nil && md.Function != nil && md.Function.ResultType() != nil && d.filter.Supports(md)
}

func (d *Cache) Decorate(next invoke.Action, md *invoke.Metadata) invoke.Action {
	return func(ctx context.Context, args []any) (any, error) {
		key, err := d.key(md, args)
		if err != nil {
			d.logger.Debug("arguments not cacheable", slog.String("function", md.FunctionName()), slog.Any("error", err))
			return next(ctx, args)
		}

		raw, err := d.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			ptr := reflect.New(md.Function.ResultType())
			if jsonErr := json.Unmarshal(raw, ptr.Interface()); jsonErr == nil {
				return ptr.Elem().Interface(), nil
			}
			d.logger.Warn("discarding undecodable cache entry", slog.String("key", key))
		case !errors.Is(err, goredis.Nil):
			d.logger.Warn("cache lookup failed", slog.String("key", key), slog.Any("error", err))
		}

		out, err := next(ctx, args)
		if err != nil {
			return out, err
		}
		encoded, jsonErr := json.Marshal(out)
		if jsonErr != nil {
			return out, nil
		}
		if setErr := d.client.Set(context.WithoutCancel(ctx), key, encoded, d.ttl).Err(); setErr != nil {
			d.logger.Warn("cache store failed", slog.String("key", key), slog.Any("error", setErr))
		}
		return out, nil
	}
}

// key hashes the arguments, leaving out the context and metadata parameters.
func (d *Cache) key(md *invoke.Metadata, args []any) (string, error) {
	values := make([]any, 0, len(args))
	for i, p := range md.Function.Params {
		if p.Type == contextType || p.Type == metadataType || i >= len(args) {
			continue
		}
		values = append(values, args[i])
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%s:%s:%s", d.prefix, md.FunctionName(), hex.EncodeToString(sum[:])), nil
}
