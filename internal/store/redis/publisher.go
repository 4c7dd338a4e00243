// Package redis mirrors monitor events into Redis: every event is published
// on a pub/sub channel and price updates also refresh a latest-price key.
// Writes go through a circuit breaker and are buffered while it is open.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"posmon/internal/marketdata/feed"
	"posmon/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	DefaultChannel  = "pub:positions"
	defaultPriceTTL = 30 * time.Minute
	defaultQueue    = 4096
	defaultMaxBuf   = 10000
)

// Config configures the Redis connection and publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	Channel  string        // pub/sub channel, defaults to DefaultChannel
	PriceTTL time.Duration // TTL of price:latest:<key>
}

// NewClient creates a client and pings the server.
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// PriceKey is the key holding the latest price for a feed key.
func PriceKey(pair string) string {
	return "price:latest:" + feed.Normalize(pair)
}

// Publisher implements monitor.Broadcaster on top of Redis.
type Publisher struct {
	client   *goredis.Client
	cb       *Breaker
	channel  string
	priceTTL time.Duration
	log      *slog.Logger

	in chan model.Event

	mu     sync.Mutex
	buffer []model.Event
	maxBuf int

	// Optional metrics hooks.
	OnBuffer func()
	OnFlush  func(n int)
	OnDrop   func()
}

// NewPublisher wires a Publisher to client. Events are only written while
// Run is active.
func NewPublisher(client *goredis.Client, cb *Breaker, cfg Config, logger *slog.Logger) *Publisher {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.PriceTTL <= 0 {
		cfg.PriceTTL = defaultPriceTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		client:   client,
		cb:       cb,
		channel:  cfg.Channel,
		priceTTL: cfg.PriceTTL,
		log:      logger.With(slog.String("component", "redis")),
		in:       make(chan model.Event, defaultQueue),
		maxBuf:   defaultMaxBuf,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		p.log.Warn("breaker state changed", slog.String("from", from.String()), slog.String("to", to.String()))
	}
	return p
}

// Emit queues ev without blocking. A full queue drops the event.
func (p *Publisher) Emit(_ context.Context, ev model.Event) {
	select {
	case p.in <- ev:
	default:
		if p.OnDrop != nil {
			p.OnDrop()
		}
	}
}

// Run writes queued events until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.in:
			p.write(ctx, ev)
		}
	}
}

// Pending returns the number of events held back by an open breaker.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

func (p *Publisher) write(ctx context.Context, ev model.Event) {
	err := p.cb.Execute(func() error { return p.send(ctx, ev) })
	switch {
	case err == nil:
		p.flush(ctx)
	case errors.Is(err, ErrBreakerOpen):
		p.hold(ev)
	default:
		p.log.Error("publish failed", slog.String("type", string(ev.Type)), slog.Any("error", err))
		p.hold(ev)
	}
}

// send pipelines PUBLISH, plus SET of the latest price for PRICE_UPDATE.
func (p *Publisher) send(ctx context.Context, ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}

	pipe := p.client.Pipeline()
	if upd, ok := ev.Data.(model.PriceUpdate); ok {
		pipe.Set(ctx, PriceKey(upd.Pair), upd.Price, p.priceTTL)
	}
	pipe.Publish(ctx, p.channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: pipeline: %w", err)
	}
	return nil
}

func (p *Publisher) hold(ev model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buffer) >= p.maxBuf {
		p.buffer = p.buffer[1:]
		if p.OnDrop != nil {
			p.OnDrop()
		}
	}
	p.buffer = append(p.buffer, ev)
	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush replays held events after a successful write. Replay stops at the
// first failure and the remainder stays buffered.
func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	pending := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	for i, ev := range pending {
		if err := p.cb.Execute(func() error { return p.send(ctx, ev) }); err != nil {
			p.mu.Lock()
			p.buffer = append(pending[i:len(pending):len(pending)], p.buffer...)
			p.mu.Unlock()
			p.log.Warn("flush interrupted", slog.Int("replayed", i), slog.Any("error", err))
			if p.OnFlush != nil && i > 0 {
				p.OnFlush(i)
			}
			return
		}
	}
	p.log.Info("flushed buffered events", slog.Int("count", len(pending)))
	if p.OnFlush != nil {
		p.OnFlush(len(pending))
	}
}
