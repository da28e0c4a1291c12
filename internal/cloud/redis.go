package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/willswire/mcheyne/internal/kvstore"
)

// RedisOptions configures a Redis-backed cloud store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the hash and the change channel. Defaults to "mcheyne".
	Prefix string
}

// Redis is a CloudStore kept in a single Redis hash. Synchronize publishes a
// change notice on a pub/sub channel; every other Redis store sharing the
// prefix receives it as an external change.
type Redis struct {
	rdb     *goredis.Client
	logger  *slog.Logger
	hash    string
	channel string
	origin  string

	listeners listeners
	cancel    context.CancelFunc
	done      chan struct{}
}

var (
	_ kvstore.CloudStore  = (*Redis)(nil)
	_ kvstore.Batcher     = (*Redis)(nil)
	_ kvstore.Snapshotter = (*Redis)(nil)
)

// NewRedis connects to Redis and starts listening for change notices. An
// unreachable server is not an error: go-redis dials lazily, so the store
// starts offline, Available reports false, and the subscriber reconnects in
// the background once the server answers.
//
// The caller is responsible for calling Close() when done.
func NewRedis(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*Redis, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	if opts.Prefix == "" {
		opts.Prefix = "mcheyne"
	}
	if logger == nil {
		logger = slog.Default()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	r := &Redis{
		rdb:     rdb,
		logger:  logger.With(slog.String("store", "redis")),
		hash:    opts.Prefix + ":kv",
		channel: opts.Prefix + ":changes",
		origin:  uuid.NewString(),
		done:    make(chan struct{}),
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	online := rdb.Ping(pingCtx).Err()
	if online != nil {
		r.logger.Warn("redis unreachable, cloud store starts offline",
			slog.String("addr", opts.Addr),
			slog.String("error", online.Error()),
		)
	}

	subCtx, subCancel := context.WithCancel(context.Background())
	sub := rdb.Subscribe(subCtx, r.channel)
	r.cancel = subCancel

	if online == nil {
		// ensures subscription actually started
		if _, err := sub.Receive(pingCtx); err != nil {
			r.logger.Warn("redis subscribe", slog.String("error", err.Error()))
		}
	}

	go r.forward(subCtx, sub)

	if online == nil {
		r.logger.Info("redis cloud store connected",
			slog.String("addr", opts.Addr),
			slog.String("hash", r.hash),
		)
	}

	return r, nil
}

func (r *Redis) forward(ctx context.Context, sub *goredis.PubSub) {
	defer close(r.done)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok || m == nil {
				return
			}
			if m.Payload == r.origin {
				continue
			}
			r.logger.Debug("external change notice", slog.String("from", m.Payload))
			r.listeners.notify()
		}
	}
}

// Close stops the subscriber and closes the client.
func (r *Redis) Close() error {
	r.cancel()
	<-r.done
	return r.rdb.Close()
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := r.rdb.HGet(ctx, r.hash, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, kvstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget %q: %w", key, err)
	}
	return raw, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.rdb.HSet(ctx, r.hash, key, value).Err(); err != nil {
		return fmt.Errorf("redis hset %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.rdb.HDel(ctx, r.hash, key).Err(); err != nil {
		return fmt.Errorf("redis hdel %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Keys(ctx context.Context) ([]string, error) {
	keys, err := r.rdb.HKeys(ctx, r.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	return keys, nil
}

// SetMany writes every entry with a single HSET.
func (r *Redis) SetMany(ctx context.Context, entries map[string][]byte) error {
	values := make(map[string]interface{}, len(entries))
	for k, v := range entries {
		values[k] = v
	}
	if err := r.rdb.HSet(ctx, r.hash, values).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// RemoveMany deletes every key with a single HDEL.
func (r *Redis) RemoveMany(ctx context.Context, keys []string) error {
	if err := r.rdb.HDel(ctx, r.hash, keys...).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

// All reads the whole hash with HGETALL.
func (r *Redis) All(ctx context.Context) (map[string][]byte, error) {
	raw, err := r.rdb.HGetAll(ctx, r.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	out := make(map[string][]byte, len(raw))
	for k, v := range raw {
		out[k] = []byte(v)
	}
	return out, nil
}

// Available pings the server.
func (r *Redis) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.rdb.Ping(ctx).Err() == nil
}

// Synchronize tells the other devices that this one has written.
func (r *Redis) Synchronize(ctx context.Context) error {
	if err := r.rdb.Publish(ctx, r.channel, r.origin).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *Redis) OnExternalChange(fn func()) func() {
	return r.listeners.add(fn)
}
