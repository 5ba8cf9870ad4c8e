package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsReadLimit    = 1 << 20
	wsReadTimeout  = 30 * time.Second
	wsPingInterval = 20 * time.Second
	wsMaxBackoff   = 30 * time.Second
)

// PriceStream keeps a live last-price cache for a set of symbols over the
// Bybit public linear websocket. Prices older than maxAge are treated as
// absent so a stalled stream degrades to the REST fallback instead of
// feeding stale data into decisions.
type PriceStream struct {
	url     string
	symbols []string
	maxAge  time.Duration
	log     zerolog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	prices map[string]streamPrice
}

type streamPrice struct {
	price float64
	at    time.Time
}

// NewPriceStream builds a stream for the given websocket URL and symbols.
func NewPriceStream(url string, symbols []string, maxAge time.Duration, logger zerolog.Logger) *PriceStream {
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	return &PriceStream{
		url:     url,
		symbols: append([]string(nil), symbols...),
		maxAge:  maxAge,
		log:     logger,
		prices:  make(map[string]streamPrice),
	}
}

// SetSymbols replaces the subscription set. A changed set closes the live
// connection so Run reconnects and resubscribes; an unchanged set is a
// no-op. Safe on a nil receiver.
func (s *PriceStream) SetSymbols(symbols []string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if slicesEqual(symbols, s.symbols) {
		s.mu.Unlock()
		return
	}
	s.symbols = append([]string(nil), symbols...)
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Price returns the cached last price for symbol, or false when no fresh
// quote is available.
func (s *PriceStream) Price(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	if !ok || time.Since(p.at) > s.maxAge {
		return 0, false
	}
	return p.price, true
}

// Run maintains the connection until ctx is cancelled, reconnecting with
// exponential backoff.
func (s *PriceStream) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn().Err(err).Msg("price stream disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(wsMaxBackoff), float64(backoff)*1.8))
	}
}

type wsCommand struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

type wsTickerMessage struct {
	Topic string `json:"topic"`
	Data  struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"data"`
}

func (s *PriceStream) consume(ctx context.Context) error {
	s.mu.RLock()
	symbols := append([]string(nil), s.symbols...)
	s.mu.RUnlock()
	if len(symbols) == 0 {
		return fmt.Errorf("price stream requires at least one symbol")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

	args := make([]string, len(symbols))
	for i, sym := range symbols {
		args[i] = "tickers." + sym
	}
	if err := conn.WriteJSON(wsCommand{Op: "subscribe", Args: args}); err != nil {
		return err
	}
	s.log.Info().Strs("symbols", symbols).Msg("connected price stream")

	// Bybit expects an application-level ping, not a websocket ping frame.
	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteJSON(wsCommand{Op: "ping"}); err != nil {
					s.log.Warn().Err(err).Msg("price stream ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var msg wsTickerMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.log.Warn().Err(err).Msg("failed to decode stream message")
			continue
		}
		if msg.Data.Symbol == "" || msg.Data.LastPrice == "" {
			continue // pong or subscription ack
		}
		price, err := strconv.ParseFloat(msg.Data.LastPrice, 64)
		if err != nil {
			s.log.Warn().Str("symbol", msg.Data.Symbol).Msg("invalid price on stream")
			continue
		}
		s.mu.Lock()
		s.prices[msg.Data.Symbol] = streamPrice{price: price, at: time.Now()}
		s.mu.Unlock()
	}
}
