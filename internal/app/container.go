package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hikari-mc/chatcore-go/internal/config"
	"github.com/hikari-mc/chatcore-go/internal/registry"
	"github.com/hikari-mc/chatcore-go/internal/relay"
	"github.com/hikari-mc/chatcore-go/internal/service"
	"github.com/hikari-mc/chatcore-go/internal/store"
)

// Container bundles the assembled engine for the host integration layer.
type Container struct {
	Config     *config.Config
	Logger     *zap.Logger
	Registry   *registry.Registry
	Membership *service.MembershipService
	Relay      *relay.Bridge
	ProxyLink  *relay.ProxyLink

	saver   *store.DebouncedSaver
	closers []func()
}

// Build assembles store, saver, registry, membership service and the
// optional relay, then loads the channel dataset. A failed load logs and
// continues with empty state; channels are a non-critical enhancement and
// must not keep the server from starting.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (container *Container, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	var closers []func()
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	}()

	var channelStore store.Store
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		channelStore, err = store.NewPostgresStore(store.PostgresConfig{
			Host:     cfg.Storage.Postgres.Host,
			Port:     cfg.Storage.Postgres.Port,
			User:     cfg.Storage.Postgres.User,
			Password: cfg.Storage.Postgres.Password,
			Database: cfg.Storage.Postgres.Database,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres store: %w", err)
		}
	default:
		channelStore = store.NewFileStore(cfg.Storage.DataFile, logger)
	}
	closers = append(closers, func() {
		_ = channelStore.Close()
	})

	saver := store.NewDebouncedSaver(channelStore, cfg.Storage.SaveDebounce, logger)
	closers = append(closers, saver.Stop)

	reg := registry.New(channelStore, saver, cfg.Limits, logger)
	if loadErr := reg.Load(ctx); loadErr != nil {
		logger.Error("Failed to load channel data, continuing with empty state",
			zap.Error(loadErr))
	}

	membership := service.NewMembershipService(reg, logger)

	var bridge *relay.Bridge
	var proxyLink *relay.ProxyLink
	if cfg.Relay.Enabled {
		bridge, err = relay.NewBridge(relay.BridgeConfig{
			Host:     cfg.Relay.RedisHost,
			Port:     cfg.Relay.RedisPort,
			Password: cfg.Relay.RedisPassword,
			DB:       cfg.Relay.RedisDB,
			Channel:  cfg.Relay.RedisChannel,
			Origin:   cfg.Relay.ServerName,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create relay bridge: %w", err)
		}
		closers = append(closers, func() {
			_ = bridge.Close()
		})

		if cfg.Relay.ProxyWSURL != "" {
			proxyLink = relay.NewProxyLink(cfg.Relay.ProxyWSURL, 5, 5*time.Second, logger)
			closers = append(closers, func() {
				_ = proxyLink.Close()
			})

			// The build ctx only bounds dialing; the relay goroutines live
			// until Close, so they get their own context.
			runCtx := context.Background()

			// Envelopes arriving from sibling servers go up to the proxy;
			// envelopes from the proxy fan out over the bridge.
			if err = bridge.Subscribe(runCtx, func(envelope *relay.Envelope) {
				if sendErr := proxyLink.Send(envelope); sendErr != nil {
					logger.Warn("Failed to forward relay envelope to proxy",
						zap.Error(sendErr))
				}
			}); err != nil {
				return nil, fmt.Errorf("failed to subscribe relay bridge: %w", err)
			}
			proxyLink.OnEnvelope(func(envelope *relay.Envelope) {
				if pubErr := bridge.Publish(context.Background(), envelope); pubErr != nil {
					logger.Warn("Failed to publish proxy envelope",
						zap.Error(pubErr))
				}
			})
			if err = proxyLink.Connect(runCtx); err != nil {
				// The link keeps reconnecting in the background.
				logger.Warn("Initial proxy connection failed", zap.Error(err))
				err = nil
			}
		}
	}

	return &Container{
		Config:     cfg,
		Logger:     logger,
		Registry:   reg,
		Membership: membership,
		Relay:      bridge,
		ProxyLink:  proxyLink,
		saver:      saver,
		closers:    closers,
	}, nil
}

// Shutdown stops the debounced saver, writes one final synchronous snapshot
// and releases every resource in reverse build order. A failed final save is
// logged but never blocks shutdown.
func (c *Container) Shutdown(ctx context.Context) {
	c.saver.Stop()
	if err := c.Registry.SaveSync(ctx); err != nil {
		c.Logger.Error("Final channel save failed", zap.Error(err))
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}
