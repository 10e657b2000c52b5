package hyperliquid

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zono819/hyperliquid-dryrun/internal/domain/entity"
	"github.com/zono819/hyperliquid-dryrun/internal/infrastructure/logger"
)

const (
	mainnetWSURL = "wss://api.hyperliquid.xyz/ws"
	testnetWSURL = "wss://api.hyperliquid-testnet.xyz/ws"

	readTimeout = 60 * time.Second
	minBackoff  = time.Second
	maxBackoff  = 30 * time.Second
)

// FeedConfig contains allMids stream configuration
type FeedConfig struct {
	WSURL   string
	Testnet bool
	Symbols []string // empty streams every coin
}

// TickHandler receives one ordered batch of ticks per allMids message
type TickHandler func(ticks []entity.Tick)

// MidFeed streams allMids snapshots over the Hyperliquid websocket
type MidFeed struct {
	config FeedConfig
	log    *logger.Logger
	dialer *websocket.Dialer
	now    func() time.Time

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewMidFeed creates a new allMids stream
func NewMidFeed(config FeedConfig, log *logger.Logger) *MidFeed {
	if log == nil {
		log = logger.Default()
	}
	if config.WSURL == "" {
		if config.Testnet {
			config.WSURL = testnetWSURL
		} else {
			config.WSURL = mainnetWSURL
		}
	}

	return &MidFeed{
		config: config,
		log:    log.WithField("component", "mid_feed"),
		dialer: websocket.DefaultDialer,
		now:    time.Now,
	}
}

// Run streams until ctx is canceled, reconnecting with backoff
func (f *MidFeed) Run(ctx context.Context, handler TickHandler) error {
	backoff := minBackoff
	for {
		subscribed, err := f.stream(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			backoff = minBackoff
		}
		f.log.Warn("allMids stream dropped: %v, reconnecting in %s", err, backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Close drops the current connection; Run reconnects unless its ctx is done
func (f *MidFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return nil
	}
	err := f.conn.Close()
	f.conn = nil
	return err
}

// stream runs one connection. subscribed reports whether it got far
// enough to count as a healthy session.
func (f *MidFeed) stream(ctx context.Context, handler TickHandler) (subscribed bool, err error) {
	conn, _, err := f.dialer.DialContext(ctx, f.config.WSURL, nil)
	if err != nil {
		return false, errors.Wrap(err, "websocket dial failed")
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer f.Close()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { _ = f.Close() })
	defer stop()

	sub := map[string]interface{}{
		"method":       "subscribe",
		"subscription": map[string]string{"type": "allMids"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return false, errors.Wrap(err, "subscribe allMids")
	}
	f.log.Info("Subscribed to allMids at %s", f.config.WSURL)

	for {
		_ = conn.SetReadDeadline(f.now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, errors.Wrap(err, "websocket read")
		}
		if ticks, ok := f.decode(message); ok && len(ticks) > 0 {
			handler(ticks)
		}
	}
}

// decode turns an allMids push into ticks; other channels are ignored
func (f *MidFeed) decode(data []byte) ([]entity.Tick, bool) {
	var msg struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		f.log.Debug("Ignoring undecodable frame: %v", err)
		return nil, false
	}
	if msg.Channel != "allMids" {
		return nil, false
	}

	var mids struct {
		Mids map[string]string `json:"mids"`
	}
	if err := json.Unmarshal(msg.Data, &mids); err != nil {
		f.log.Warn("Malformed allMids payload: %v", err)
		return nil, false
	}

	return entity.TicksFromMids(parseMids(mids.Mids), f.config.Symbols, f.now()), true
}
