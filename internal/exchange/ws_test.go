package exchange

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func TestPriceFreshness(t *testing.T) {
	s := NewPriceStream("ws://unused", []string{"BTCUSDT"}, 0, zerolog.Nop())
	if _, ok := s.Price("BTCUSDT"); ok {
		t.Fatalf("expected no price before any message")
	}
	s.prices["BTCUSDT"] = streamPrice{price: 65000, at: time.Now()}
	price, ok := s.Price("BTCUSDT")
	if !ok || price != 65000 {
		t.Fatalf("expected fresh price, got %v %v", price, ok)
	}
	s.prices["BTCUSDT"] = streamPrice{price: 65000, at: time.Now().Add(-2 * time.Minute)}
	if _, ok := s.Price("BTCUSDT"); ok {
		t.Fatalf("a stale quote must read as absent")
	}
}

func TestSetSymbolsNilReceiver(t *testing.T) {
	var s *PriceStream
	s.SetSymbols([]string{"BTCUSDT"})
}

func TestSetSymbolsForcesResubscribe(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	s := NewPriceStream(url, []string{"BTCUSDT"}, 0, zerolog.Nop())
	s.conn = conn

	// An unchanged set must not disturb the live connection.
	s.SetSymbols([]string{"BTCUSDT"})
	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("connection disturbed by a no-op symbol update: %v", err)
	}

	// A changed set must drop the connection so the run loop reconnects
	// with the new subscription.
	s.SetSymbols([]string{"BTCUSDT", "ETHUSDT"})
	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err == nil {
		t.Fatalf("expected the stale connection to be closed")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.symbols) != 2 || s.symbols[1] != "ETHUSDT" {
		t.Fatalf("subscription set not updated: %+v", s.symbols)
	}
}
