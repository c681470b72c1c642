package outputs

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/awesant/awesant-go/internal/config"
	"github.com/awesant/awesant-go/internal/event"
	"github.com/awesant/awesant-go/internal/logging"
)

func init() {
	Register("redis", newRedis)
}

// redisOutput pushes each event, JSON-encoded, onto a Redis list via
// RPUSH, the conventional Logstash/awesant redis-output shape.
type redisOutput struct {
	cfg    *config.OutputConfig
	client *goredis.Client
}

func newRedis(cfg *config.OutputConfig, _ *logging.Logger) (adapter, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis output: key is required")
	}
	if len(cfg.Host.Values) == 0 {
		return nil, fmt.Errorf("redis output: host is required")
	}
	return &redisOutput{cfg: cfg}, nil
}

func (o *redisOutput) Connect() error {
	if o.client != nil {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", o.cfg.Host.Values[0], orPort(o.cfg.Port, 6379))
	o.client = goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DB:          o.cfg.Database,
		DialTimeout: durationOr(o.cfg.ConnectTimeout.Duration(), 5*time.Second),
	})
	ctx, cancel := context.WithTimeout(context.Background(), durationOr(o.cfg.ConnectTimeout.Duration(), 5*time.Second))
	defer cancel()
	if err := o.client.Ping(ctx).Err(); err != nil {
		o.client = nil
		return fmt.Errorf("redis output: connecting to %s: %w", addr, err)
	}
	return nil
}

func (o *redisOutput) Close() error {
	if o.client == nil {
		return nil
	}
	err := o.client.Close()
	o.client = nil
	return err
}

func (o *redisOutput) Push(events []*event.Event) error {
	if err := o.Connect(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), durationOr(o.cfg.Timeout.Duration(), 5*time.Second))
	defer cancel()

	values := make([]interface{}, 0, len(events))
	for _, e := range events {
		line, err := encodeJSON(e)
		if err != nil {
			return fmt.Errorf("redis output: encoding event: %w", err)
		}
		values = append(values, line)
	}
	if err := o.client.RPush(ctx, o.cfg.Key, values...).Err(); err != nil {
		return fmt.Errorf("redis output: RPUSH %s: %w", o.cfg.Key, err)
	}
	return nil
}

func orPort(p, def int) int {
	if p == 0 {
		return def
	}
	return p
}

func durationOr(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}
