package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Bridge fans channel chat out to sibling servers over redis pub/sub.
type Bridge struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *zap.Logger

	mu      sync.Mutex
	sub     *redis.PubSub
	started bool
}

type BridgeConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Channel  string
	Origin   string
}

func NewBridge(cfg BridgeConfig, logger *zap.Logger) (*Bridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Relay bridge connected",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		zap.String("channel", cfg.Channel),
	)

	return &Bridge{
		client:  client,
		channel: cfg.Channel,
		origin:  cfg.Origin,
		logger:  logger,
	}, nil
}

// Publish sends one envelope to every subscribed server, including this one;
// Subscribe filters the echo by origin.
func (b *Bridge) Publish(ctx context.Context, envelope *Envelope) error {
	envelope.Origin = b.origin
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode relay envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish relay envelope: %w", err)
	}
	return nil
}

// Subscribe starts a reader goroutine delivering foreign envelopes to the
// handler until ctx is cancelled or Close is called.
func (b *Bridge) Subscribe(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("relay bridge already subscribed")
	}

	b.sub = b.client.Subscribe(ctx, b.channel)
	if _, err := b.sub.Receive(ctx); err != nil {
		b.sub.Close()
		b.sub = nil
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	b.started = true

	ch := b.sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var envelope Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
					b.logger.Warn("Dropping malformed relay envelope", zap.Error(err))
					continue
				}
				if envelope.Origin == b.origin {
					continue
				}
				handler(&envelope)
			}
		}
	}()

	return nil
}

func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		b.sub.Close()
		b.sub = nil
	}
	b.started = false
	return b.client.Close()
}
