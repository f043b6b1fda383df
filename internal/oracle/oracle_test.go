package oracle_test

import (
	"PredictLedger/internal/oracle"
	"PredictLedger/internal/state"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const btcFeed = "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"

func TestStatic(t *testing.T) {
	o := oracle.NewStatic(oracle.DefaultStaticPrice)
	ctx := context.Background()

	price, err := o.PriceAt(ctx, btcFeed, time.Unix(0, 0), state.OracleTimeLimit)
	require.NoError(t, err)
	assert.Equal(t, int64(90000), price)

	o.Set(91000)
	price, err = o.PriceAt(ctx, btcFeed, time.Unix(0, 0), state.OracleTimeLimit)
	require.NoError(t, err)
	assert.Equal(t, int64(91000), price)

	o.Fail(oracle.ErrUnavailable)
	_, err = o.PriceAt(ctx, btcFeed, time.Unix(0, 0), state.OracleTimeLimit)
	assert.ErrorIs(t, err, state.ErrOracle)
	assert.Equal(t, state.ClassOracle, state.ClassOf(err))
}

// hermesServer accepts one subscription and pushes updates published at
// publishTime.
func hermesServer(t *testing.T, publishTime int64, subscribed chan<- []string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var sub struct {
			Type string   `json:"type"`
			IDs  []string `json:"ids"`
		}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		if sub.Type != "subscribe" {
			t.Errorf("got message type %q, want subscribe", sub.Type)
		}
		subscribed <- sub.IDs

		updates := []string{
			`{"type":"response","status":"success"}`,
			`not json`,
			fmt.Sprintf(`{"type":"price_update","price_feed":{"id":"%s","price":{"price":"6513000000000","conf":"1","expo":-8,"publish_time":%d}}}`,
				btcFeed, publishTime),
			// older update must not overwrite the newer one
			fmt.Sprintf(`{"type":"price_update","price_feed":{"id":"%s","price":{"price":"1","conf":"1","expo":-8,"publish_time":%d}}}`,
				btcFeed, publishTime-30),
		}
		for _, u := range updates {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(u)); err != nil {
				return
			}
		}
		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestHermesStream_CachesLatestPrice(t *testing.T) {
	const publishTime = 1_700_000_000
	subscribed := make(chan []string, 1)
	srv := hermesServer(t, publishTime, subscribed)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	stream, err := oracle.NewHermesStream(wsURL, []string{btcFeed}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stream.Run(ctx)

	select {
	case ids := <-subscribed:
		require.Len(t, ids, 1)
		assert.Equal(t, "0x"+btcFeed, ids[0])
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription received")
	}

	now := time.Unix(publishTime+10, 0)
	require.Eventually(t, func() bool {
		_, err := stream.PriceAt(ctx, btcFeed, now, state.OracleTimeLimit)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	price, err := stream.PriceAt(ctx, "0x"+btcFeed, now, state.OracleTimeLimit)
	require.NoError(t, err)
	assert.Equal(t, int64(6513000000000), price)

	_, err = stream.PriceAt(ctx, btcFeed, time.Unix(publishTime+61, 0), state.OracleTimeLimit)
	assert.True(t, errors.Is(err, oracle.ErrStale), "got %v", err)
}

func TestHermesStream_UnknownFeed(t *testing.T) {
	stream, err := oracle.NewHermesStream("ws://127.0.0.1:1", []string{btcFeed}, zerolog.Nop())
	require.NoError(t, err)

	_, err = stream.PriceAt(context.Background(), btcFeed, time.Now(), state.OracleTimeLimit)
	assert.ErrorIs(t, err, oracle.ErrUnavailable)

	_, err = stream.PriceAt(context.Background(), "nothex", time.Now(), state.OracleTimeLimit)
	assert.ErrorIs(t, err, state.ErrOracle)
}

func TestNewHermesStream_RejectsMalformedFeed(t *testing.T) {
	_, err := oracle.NewHermesStream("ws://localhost", []string{"0x1234"}, zerolog.Nop())
	assert.ErrorIs(t, err, state.ErrInvalidFeedID)
}
