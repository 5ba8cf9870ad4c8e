// Package exchange talks to the Bybit V5 API: public market data, signed
// order placement, and a websocket price stream for USDT perpetuals.
package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sebaoww/bybit-futures-bot/internal/market"
)

const (
	categoryLinear    = "linear"
	defaultRecvWindow = "5000"

	// retCodePositionZero is what Bybit returns for a reduce-only order
	// against a position that no longer exists.
	retCodePositionZero = 110017
)

// ErrPositionZero marks a close attempt against an already-flat position.
// Callers treat it as success: the desired state already holds.
var ErrPositionZero = errors.New("position is zero")

// Client is a Bybit V5 REST client. Public endpoints work without
// credentials; CreateOrder and SetTradingStop require key and secret.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	recvWindow string
	http       *http.Client
	log        zerolog.Logger
	now        func() time.Time
}

// New builds a client against the given base URL (mainnet or testnet).
func New(baseURL, apiKey, apiSecret string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		recvWindow: defaultRecvWindow,
		http:       &http.Client{Timeout: 10 * time.Second},
		log:        logger,
		now:        time.Now,
	}
}

// Ticker is one row of the linear tickers endpoint.
type Ticker struct {
	Symbol      string
	LastPrice   float64
	Turnover24h float64
}

type tickersResponse struct {
	apiResponse
	Result struct {
		List []struct {
			Symbol      string `json:"symbol"`
			LastPrice   string `json:"lastPrice"`
			Turnover24h string `json:"turnover24h"`
		} `json:"list"`
	} `json:"result"`
}

// Tickers fetches every linear ticker keyed by symbol.
func (c *Client) Tickers(ctx context.Context) (map[string]Ticker, error) {
	var resp tickersResponse
	if err := c.get(ctx, "/v5/market/tickers", url.Values{"category": {categoryLinear}}, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]Ticker, len(resp.Result.List))
	for _, row := range resp.Result.List {
		price, err := strconv.ParseFloat(row.LastPrice, 64)
		if err != nil {
			c.log.Warn().Str("symbol", row.Symbol).Str("lastPrice", row.LastPrice).Msg("unparseable ticker price")
			continue
		}
		turnover, _ := strconv.ParseFloat(row.Turnover24h, 64)
		out[row.Symbol] = Ticker{Symbol: row.Symbol, LastPrice: price, Turnover24h: turnover}
	}
	return out, nil
}

// LastPrice fetches the last traded price for a single symbol.
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	var resp tickersResponse
	params := url.Values{"category": {categoryLinear}, "symbol": {symbol}}
	if err := c.get(ctx, "/v5/market/tickers", params, &resp); err != nil {
		return 0, err
	}
	if len(resp.Result.List) == 0 {
		return 0, fmt.Errorf("no ticker for %s", symbol)
	}
	price, err := strconv.ParseFloat(resp.Result.List[0].LastPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price for %s: %w", symbol, err)
	}
	return price, nil
}

type klineResponse struct {
	apiResponse
	Result struct {
		List [][]string `json:"list"`
	} `json:"result"`
}

// Klines fetches up to limit candles for the symbol and interval, oldest
// first. Bybit returns them newest first, so the list is reversed here.
func (c *Client) Klines(ctx context.Context, symbol string, interval market.Interval, limit int) ([]market.Candle, error) {
	params := url.Values{
		"category": {categoryLinear},
		"symbol":   {symbol},
		"interval": {string(interval)},
		"limit":    {strconv.Itoa(limit)},
	}
	var resp klineResponse
	if err := c.get(ctx, "/v5/market/kline", params, &resp); err != nil {
		return nil, err
	}
	rows := resp.Result.List
	out := make([]market.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			return nil, fmt.Errorf("kline row for %s has %d fields", symbol, len(row))
		}
		ms, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse kline timestamp for %s: %w", symbol, err)
		}
		vals := make([]float64, 5)
		for j := 1; j <= 5; j++ {
			vals[j-1], err = strconv.ParseFloat(row[j], 64)
			if err != nil {
				return nil, fmt.Errorf("parse kline field %d for %s: %w", j, symbol, err)
			}
		}
		out = append(out, market.Candle{
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
			Ts:     time.UnixMilli(ms),
		})
	}
	return out, nil
}

type instrumentsResponse struct {
	apiResponse
	Result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			LotSizeFilter struct {
				QtyStep string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	} `json:"result"`
}

// InstrumentStep returns the order quantity step for the symbol.
func (c *Client) InstrumentStep(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{"category": {categoryLinear}, "symbol": {symbol}}
	var resp instrumentsResponse
	if err := c.get(ctx, "/v5/market/instruments-info", params, &resp); err != nil {
		return 0, err
	}
	if len(resp.Result.List) == 0 {
		return 0, fmt.Errorf("no instrument info for %s", symbol)
	}
	step, err := strconv.ParseFloat(resp.Result.List[0].LotSizeFilter.QtyStep, 64)
	if err != nil {
		return 0, fmt.Errorf("parse qtyStep for %s: %w", symbol, err)
	}
	return step, nil
}

// OrderRequest describes a market order. TakeProfit and StopLoss are
// absolute prices attached at entry; zero means none. ReduceOnly closes
// exposure without ever opening the opposite side.
type OrderRequest struct {
	Symbol     string
	Side       market.Side
	Qty        float64
	TakeProfit float64
	StopLoss   float64
	ReduceOnly bool
}

// OrderResult is the exchange acknowledgement of a placed order.
type OrderResult struct {
	OrderID     string
	OrderLinkID string
}

type orderResponse struct {
	apiResponse
	Result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	} `json:"result"`
}

// CreateOrder places a signed market order. A rejected close against a
// flat position surfaces as ErrPositionZero.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	side := "Buy"
	if req.Side == market.SideShort {
		side = "Sell"
	}
	if req.ReduceOnly {
		// Closing is always the opposite of the held direction.
		if req.Side == market.SideLong {
			side = "Sell"
		} else {
			side = "Buy"
		}
	}
	body := map[string]any{
		"category":    categoryLinear,
		"symbol":      req.Symbol,
		"side":        side,
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(req.Qty, 'f', -1, 64),
		"orderLinkId": uuid.NewString(),
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}
	if req.TakeProfit > 0 {
		body["takeProfit"] = strconv.FormatFloat(req.TakeProfit, 'f', -1, 64)
	}
	if req.StopLoss > 0 {
		body["stopLoss"] = strconv.FormatFloat(req.StopLoss, 'f', -1, 64)
	}

	var resp orderResponse
	if err := c.postSigned(ctx, "/v5/order/create", body, &resp); err != nil {
		return OrderResult{}, err
	}
	return OrderResult{OrderID: resp.Result.OrderID, OrderLinkID: resp.Result.OrderLinkID}, nil
}

// SetTradingStop attaches a trailing stop, expressed as a price distance,
// to the open position on the symbol. Bybit takes the distance as a
// 4-decimal string.
func (c *Client) SetTradingStop(ctx context.Context, symbol string, trailingDistance float64) error {
	body := map[string]any{
		"category":     categoryLinear,
		"symbol":       symbol,
		"trailingStop": strconv.FormatFloat(trailingDistance, 'f', 4, 64),
		"positionIdx":  0,
	}
	var resp apiResponse
	return c.postSigned(ctx, "/v5/position/trading-stop", body, &resp)
}

// apiResponse is the envelope every V5 endpoint shares.
type apiResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
}

func (r apiResponse) err() error {
	if r.RetCode == 0 {
		return nil
	}
	if r.RetCode == retCodePositionZero || strings.Contains(strings.ToLower(r.RetMsg), "position is zero") {
		return fmt.Errorf("%w: %s", ErrPositionZero, r.RetMsg)
	}
	return fmt.Errorf("bybit retCode %d: %s", r.RetCode, r.RetMsg)
}

type enveloped interface{ err() error }

func (c *Client) get(ctx context.Context, path string, params url.Values, out enveloped) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postSigned(ctx context.Context, path string, body map[string]any, out enveloped) error {
	if c.apiKey == "" || c.apiSecret == "" {
		return errors.New("bybit credentials not configured")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.recvWindow)
	req.Header.Set("X-BAPI-SIGN", c.sign(ts, string(payload)))
	return c.do(req, out)
}

// sign computes the V5 request signature over
// timestamp + apiKey + recvWindow + body.
func (c *Client) sign(timestamp, body string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp + c.apiKey + c.recvWindow + body))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(req *http.Request, out enveloped) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bybit %s: unexpected status %d", req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode bybit response: %w", err)
	}
	return out.err()
}
