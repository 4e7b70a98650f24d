package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ProxyLink is a reconnecting websocket client to the proxy process. Chat
// destined for players on other servers goes up this link; envelopes coming
// down are handed to the registered handler.
type ProxyLink struct {
	url                  string
	maxReconnectAttempts int
	reconnectDelay       time.Duration
	logger               *zap.Logger

	mu                sync.Mutex
	conn              *websocket.Conn
	reconnectAttempts int
	handler           Handler
	stopCh            chan struct{}
	stopOnce          sync.Once
}

func NewProxyLink(url string, maxReconnectAttempts int, reconnectDelay time.Duration, logger *zap.Logger) *ProxyLink {
	return &ProxyLink{
		url:                  url,
		maxReconnectAttempts: maxReconnectAttempts,
		reconnectDelay:       reconnectDelay,
		logger:               logger,
		stopCh:               make(chan struct{}),
	}
}

// OnEnvelope registers the handler for envelopes arriving from the proxy.
// Must be called before Connect.
func (pl *ProxyLink) OnEnvelope(handler Handler) {
	pl.mu.Lock()
	pl.handler = handler
	pl.mu.Unlock()
}

func (pl *ProxyLink) Connect(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, pl.url, nil)
	if err != nil {
		pl.logger.Error("Failed to connect to proxy", zap.Error(err))
		pl.scheduleReconnect(ctx)
		return err
	}

	pl.mu.Lock()
	pl.conn = conn
	pl.reconnectAttempts = 0
	pl.mu.Unlock()

	pl.logger.Info("Proxy link connected", zap.String("url", pl.url))

	go pl.listen(ctx, conn)
	return nil
}

// Send pushes one envelope up to the proxy.
func (pl *ProxyLink) Send(envelope *Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.conn == nil {
		return websocket.ErrCloseSent
	}
	return pl.conn.WriteMessage(websocket.TextMessage, data)
}

func (pl *ProxyLink) listen(ctx context.Context, conn *websocket.Conn) {
	defer pl.logger.Info("Proxy link listener stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-pl.stopCh:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-pl.stopCh:
				return
			default:
			}
			pl.logger.Error("Proxy link read error", zap.Error(err))
			pl.mu.Lock()
			pl.conn = nil
			pl.mu.Unlock()
			pl.scheduleReconnect(ctx)
			return
		}

		var envelope Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			pl.logger.Warn("Dropping malformed proxy envelope", zap.Error(err))
			continue
		}

		pl.mu.Lock()
		handler := pl.handler
		pl.mu.Unlock()
		if handler != nil {
			handler(&envelope)
		}
	}
}

func (pl *ProxyLink) scheduleReconnect(ctx context.Context) {
	pl.mu.Lock()
	pl.reconnectAttempts++
	attempts := pl.reconnectAttempts
	pl.mu.Unlock()

	if attempts > pl.maxReconnectAttempts {
		pl.logger.Error("Giving up on proxy link",
			zap.Int("attempts", attempts-1))
		return
	}

	pl.logger.Info("Scheduling proxy reconnect",
		zap.Int("attempt", attempts),
		zap.Duration("delay", pl.reconnectDelay))

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-pl.stopCh:
			return
		case <-time.After(pl.reconnectDelay):
			_ = pl.Connect(ctx)
		}
	}()
}

func (pl *ProxyLink) Close() error {
	pl.stopOnce.Do(func() {
		close(pl.stopCh)
	})

	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.conn != nil {
		err := pl.conn.Close()
		pl.conn = nil
		return err
	}
	return nil
}
