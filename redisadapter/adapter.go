package redisadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/ramory-l/kissio"
	"github.com/ramory-l/kissio/parser"
)

// Config for the Redis adapter. Defaults can be loaded via envdecode.
type Config struct {
	// Addr like "localhost:6379". ENV: KISSIO_REDIS_ADDR
	Addr string `env:"KISSIO_REDIS_ADDR,default=localhost:6379"`
	// Prefix of the per-namespace channels. ENV: KISSIO_REDIS_PREFIX
	Prefix string `env:"KISSIO_REDIS_PREFIX,default=kissio#"`
}

// ConfigFromEnv loads a Config from the environment. Defaults are provided
// via struct tags.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode redis config: %w", err)
	}
	return cfg, nil
}

// Adapter is a kissio.Adapter that mirrors broadcasts over Redis.
type Adapter struct {
	namespace *kissio.Namespace
	local     *kissio.MemoryAdapter
	client    redis.UniversalClient
	ownClient bool
	pubsub    *redis.PubSub
	channel   string
	node      string
	logger    *slog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New subscribes to the channel of ns and returns the adapter. The caller
// keeps ownership of client.
func New(ctx context.Context, ns *kissio.Namespace, client redis.UniversalClient, cfg Config) (*Adapter, error) {
	return newAdapter(ctx, ns, client, cfg, false)
}

// NewFromEnv connects to Redis using ConfigFromEnv and installs the adapter
// on ns.
func NewFromEnv(ctx context.Context, ns *kissio.Namespace) (*Adapter, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	a, err := newAdapter(ctx, ns, client, cfg, true)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	ns.SetAdapter(a)
	return a, nil
}

func newAdapter(ctx context.Context, ns *kissio.Namespace, client redis.UniversalClient, cfg Config, own bool) (*Adapter, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "kissio#"
	}

	channel := cfg.Prefix + ns.Name()
	pubsub := client.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	node := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())

	a := &Adapter{
		namespace: ns,
		local:     kissio.NewMemoryAdapter(ns),
		client:    client,
		ownClient: own,
		pubsub:    pubsub,
		channel:   channel,
		node:      node,
		logger:    ns.Logger().With("node", node, "channel", channel),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go a.receive(runCtx)

	return a, nil
}

// Node returns the id this adapter publishes under.
func (a *Adapter) Node() string {
	return a.node
}

// Broadcast delivers packet locally, then publishes it for the other nodes.
func (a *Adapter) Broadcast(packet *parser.Packet, opts kissio.BroadcastOptions) error {
	if err := a.local.Broadcast(packet, opts); err != nil {
		return err
	}

	packet.Namespace = a.namespace.Name()
	payload, err := encodeEnvelope(newEnvelope(a.node, packet, opts))
	if err != nil {
		return err
	}

	if err := a.client.Publish(context.Background(), a.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (a *Adapter) receive(ctx context.Context) {
	defer close(a.done)

	ch := a.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			a.onMessage(msg.Payload)
		}
	}
}

func (a *Adapter) onMessage(payload string) {
	e, err := decodeEnvelope(payload)
	if err != nil {
		a.logger.Warn("dropping malformed broadcast", "error", err)
		return
	}
	if e.Node == a.node {
		return
	}
	if e.Namespace != a.namespace.Name() {
		a.logger.Debug("dropping broadcast for another namespace", "namespace", e.Namespace)
		return
	}

	if err := a.local.Broadcast(e.packet(), e.options()); err != nil {
		a.logger.Debug("relayed broadcast failed", "error", err)
	}
}

// Close unsubscribes and, when the adapter created the client, closes it.
func (a *Adapter) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		a.cancel()
		if err := a.pubsub.Close(); err != nil {
			errs = append(errs, err)
		}
		<-a.done
		if a.ownClient {
			if err := a.client.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

var _ kissio.Adapter = (*Adapter)(nil)
