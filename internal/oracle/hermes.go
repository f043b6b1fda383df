package oracle

import (
	"PredictLedger/internal/state"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

type subscribeCommand struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

type priceUpdateMessage struct {
	Type      string `json:"type"`
	PriceFeed struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Expo        int32  `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"price_feed"`
}

type quote struct {
	price       int64
	publishTime time.Time
}

// HermesStream keeps the latest price of each subscribed feed from a Pyth
// Hermes websocket. PriceAt reads only the cache, so lock and close never
// wait on the network.
type HermesStream struct {
	wsURL   string
	feedIDs []string
	logger  zerolog.Logger

	mu     sync.RWMutex
	quotes map[string]quote
}

// NewHermesStream subscribes to feedIDs once Run is called. Feed ids are
// normalised to 0x-prefixed lowercase hex.
func NewHermesStream(wsURL string, feedIDs []string, logger zerolog.Logger) (*HermesStream, error) {
	ids := make([]string, 0, len(feedIDs))
	for _, id := range feedIDs {
		norm, err := state.NormalizeFeedID(id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, norm)
	}
	return &HermesStream{
		wsURL:   wsURL,
		feedIDs: ids,
		logger:  logger,
		quotes:  make(map[string]quote),
	}, nil
}

func (h *HermesStream) PriceAt(ctx context.Context, feedID string, now time.Time, maxStaleness time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id, err := state.NormalizeFeedID(feedID)
	if err != nil {
		return 0, fmt.Errorf("%w: Invalid price feed ID: %v", state.ErrOracle, err)
	}

	h.mu.RLock()
	q, ok := h.quotes[id]
	h.mu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("%w: feed %s", ErrUnavailable, id)
	}
	if !fresh(q.publishTime, now, maxStaleness) {
		return 0, fmt.Errorf("%w: feed %s published %s", ErrStale, id, q.publishTime.UTC().Format(time.RFC3339))
	}
	return q.price, nil
}

// Run connects, subscribes and reads until ctx is cancelled, reconnecting
// with exponential backoff.
func (h *HermesStream) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		err := h.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		h.logger.Warn().Err(err).Dur("retry_in", delay).Msg("hermes stream disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (h *HermesStream) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, h.wsURL, nil)
	if err != nil {
		return fmt.Errorf("hermes: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var writeMu sync.Mutex
	write := func(messageType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(messageType, data)
	}

	sub, err := json.Marshal(subscribeCommand{Type: "subscribe", IDs: h.feedIDs})
	if err != nil {
		return fmt.Errorf("hermes: marshal subscribe: %w", err)
	}
	if err := write(websocket.TextMessage, sub); err != nil {
		return fmt.Errorf("hermes: subscribe: %w", err)
	}
	h.logger.Info().Str("url", h.wsURL).Int("feeds", len(h.feedIDs)).Msg("hermes stream subscribed")

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = write(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				conn.Close()
				return
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("hermes: read: %w", err)
		}
		h.handleMessage(message)
	}
}

func (h *HermesStream) handleMessage(raw []byte) {
	var msg priceUpdateMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "price_update" {
		return
	}

	id, err := state.NormalizeFeedID(msg.PriceFeed.ID)
	if err != nil {
		h.logger.Debug().Str("id", msg.PriceFeed.ID).Msg("hermes update with malformed feed id")
		return
	}
	price, err := strconv.ParseInt(msg.PriceFeed.Price.Price, 10, 64)
	if err != nil {
		h.logger.Debug().Str("id", id).Str("price", msg.PriceFeed.Price.Price).Msg("hermes update with malformed price")
		return
	}
	publishTime := time.Unix(msg.PriceFeed.Price.PublishTime, 0)

	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.quotes[id]; ok && prev.publishTime.After(publishTime) {
		return
	}
	h.quotes[id] = quote{price: price, publishTime: publishTime}
}
