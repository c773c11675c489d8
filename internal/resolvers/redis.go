package resolvers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	goredis "github.com/redis/go-redis/v9"

	"Invoke-Chain/pkg/invoke"
	"Invoke-Chain/pkg/plugin"
)

const defaultRedisPrefix = "invokechain:values"

var (
	contextType  = reflect.TypeFor[context.Context]()
	metadataType = reflect.TypeFor[*invoke.Metadata]()
)

// Redis reads parameter values from JSON documents stored in Redis. It looks
// up <prefix>:<function>:<param> first, then <prefix>:<param>. Missing keys
// and undecodable documents are skipped; connection errors abort the
// invocation.
type Redis struct {
	plugin.NopLifecycle
	filter
	client goredis.UniversalClient
	prefix string
}

// NewRedis returns a Redis resolver. A nil client is taken from the redis
// resource on Init.
func NewRedis(client goredis.UniversalClient) *Redis {
	return &Redis{client: client, prefix: defaultRedisPrefix}
}

func (r *Redis) Info() plugin.Info {
	return info("redis", "Reads parameter values from Redis.", plugin.PermissionNetwork)
}

func (r *Redis) Configure(cfg map[string]any) error {
	var c struct {
		filter `yaml:",inline"`
		Prefix string `yaml:"prefix"`
	}
	if err := plugin.DecodeConfig(cfg, &c); err != nil {
		return err
	}
	r.filter = c.filter
	if c.Prefix != "" {
		r.prefix = c.Prefix
	}
	return nil
}

func (r *Redis) Init(ctx *plugin.ExecutionContext) error {
	if r.client != nil {
		return nil
	}
	client, ok := plugin.Resource[*goredis.Client](ctx, plugin.ResourceRedis)
	if !ok {
		return errors.New("redis resource not provided")
	}
	r.client = client
	return nil
}

func (r *Redis) Supports(p invoke.Param, md *invoke.Metadata) bool {
	return r.client != nil && p.Type != nil && p.Type != contextType && p.Type != metadataType && r.admits(md)
}

func (r *Redis) Resolve(ctx context.Context, p invoke.Param, md *invoke.Metadata) (invoke.Result, error) {
	keys := []string{
		fmt.Sprintf("%s:%s:%s", r.prefix, md.FunctionName(), p.Name),
		fmt.Sprintf("%s:%s", r.prefix, p.Name),
	}
	for _, key := range keys {
		raw, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return invoke.Unsupported(), fmt.Errorf("read %s: %w", key, err)
		}
		ptr := reflect.New(p.Type)
		if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
			continue
		}
		return invoke.Resolved(ptr.Elem().Interface()), nil
	}
	return invoke.Skip(), nil
}
