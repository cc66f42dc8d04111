package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/money"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// wsCommand is the subscribe payload sent to the vendor stream.
type wsCommand struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Markets []string `json:"markets"`
}

// wsMessage is the envelope the vendor stream delivers.
type wsMessage struct {
	Channel  string `json:"channel"`
	MarketID string `json:"market_id"`
	Price    string `json:"price,omitempty"`
	Book     *apiBook `json:"book,omitempty"`
	Ts       int64  `json:"ts"`
}

// Feed consumes the vendor's real-time stream and keeps the Redis price and
// book caches warm so evaluations read from cache instead of hammering the
// REST API. It reconnects with exponential backoff.
type Feed struct {
	wsURL     string
	marketIDs []string
	cache     domain.PriceCache
	books     domain.BookCache
	validator *Validator
	logger    *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewFeed creates a feed subscribed to the given market IDs.
func NewFeed(wsURL string, marketIDs []string, cache domain.PriceCache, books domain.BookCache, validator *Validator, logger *slog.Logger) *Feed {
	return &Feed{
		wsURL:     wsURL,
		marketIDs: marketIDs,
		cache:     cache,
		books:     books,
		validator: validator,
		logger:    logger.With(slog.String("component", "marketdata_feed")),
		done:      make(chan struct{}),
	}
}

// Run connects and consumes messages until ctx is cancelled, reconnecting
// with backoff on disconnect.
func (f *Feed) Run(ctx context.Context) error {
	if len(f.marketIDs) == 0 {
		f.logger.Info("no markets to subscribe, feed exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("vendor stream disconnected, reconnecting",
			slog.String("error", fmt.Sprintf("%v", err)),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the feed.
func (f *Feed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *Feed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("marketdata: ws connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for _, ch := range []string{"price", "book"} {
		cmd := wsCommand{Type: "subscribe", Channel: ch, Markets: f.marketIDs}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(cmd); err != nil {
			return fmt.Errorf("marketdata: ws subscribe %s: %w", ch, err)
		}
	}
	f.logger.Info("vendor stream subscribed", slog.Int("markets", len(f.marketIDs)))

	// Ping loop keeps the connection alive; read errors end the connection.
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("marketdata: ws read: %w", domain.ErrWSDisconnect)
		}
		f.handleMessage(ctx, data)
	}
}

func (f *Feed) handleMessage(ctx context.Context, data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Warn("unparseable stream message", slog.String("error", err.Error()))
		return
	}

	switch msg.Channel {
	case "price":
		price, err := money.Parse(msg.Price)
		if err != nil {
			f.logger.Warn("rejected stream price",
				slog.String("market_id", msg.MarketID),
				slog.String("error", err.Error()),
			)
			return
		}
		p := domain.PricePoint{MarketID: msg.MarketID, Price: price, Time: time.UnixMilli(msg.Ts)}
		if err := f.validator.Validate(p, time.Now()); err != nil {
			f.logger.Warn("rejected stream price",
				slog.String("market_id", msg.MarketID),
				slog.String("error", err.Error()),
			)
			return
		}
		if err := f.cache.SetPrice(ctx, p.MarketID, p.Price, p.Time); err != nil {
			f.logger.Warn("price cache write failed", slog.String("error", err.Error()))
		}

	case "book":
		if msg.Book == nil {
			return
		}
		ob, err := msg.Book.toDomain()
		if err != nil {
			f.logger.Warn("rejected stream book",
				slog.String("market_id", msg.MarketID),
				slog.String("error", err.Error()),
			)
			return
		}
		if err := f.books.SetSnapshot(ctx, ob); err != nil {
			f.logger.Warn("book cache write failed", slog.String("error", err.Error()))
		}
	}
}
