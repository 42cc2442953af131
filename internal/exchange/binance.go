package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gridtraderpro/backend/internal/httputil"
	"github.com/gridtraderpro/backend/internal/models"
)

const defaultRecvWindow = 5000 // ms

// BinanceConfig holds Binance spot credentials.
type BinanceConfig struct {
	APIKey         string
	APISecret      string
	Testnet        bool
	RecvWindow     int64 // ms
	TimeoutSeconds int   // HTTP client timeout, 0 = 10s
}

// Binance is a spot trading client over the REST API.
// Reads retry with backoff; order placement is attempted exactly once so a
// timed-out request never turns into a duplicate order.
type Binance struct {
	cfg        BinanceConfig
	baseURL    string
	httpClient *http.Client
}

var _ Client = (*Binance)(nil)

func NewBinance(cfg BinanceConfig) *Binance {
	base := "https://api.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binance.vision"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = defaultRecvWindow
	}
	timeout := 10 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Binance{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (b *Binance) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var out struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	u := b.baseURL + "/api/v3/ticker/price?symbol=" + url.QueryEscape(symbol)
	if err := httputil.GetJSON(ctx, b.httpClient, httputil.DefaultRetry, u, nil, &out); err != nil {
		return 0, fmt.Errorf("get price %s: %w", symbol, err)
	}
	p, err := strconv.ParseFloat(out.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", out.Price, err)
	}
	return p, nil
}

func (b *Binance) GetSymbolRules(ctx context.Context, symbol string) (SymbolRules, error) {
	var out struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType  string `json:"filterType"`
				TickSize    string `json:"tickSize"`
				StepSize    string `json:"stepSize"`
				MinQty      string `json:"minQty"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	u := b.baseURL + "/api/v3/exchangeInfo?symbol=" + url.QueryEscape(symbol)
	if err := httputil.GetJSON(ctx, b.httpClient, httputil.DefaultRetry, u, nil, &out); err != nil {
		return SymbolRules{}, fmt.Errorf("exchange info %s: %w", symbol, err)
	}
	if len(out.Symbols) == 0 {
		return SymbolRules{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	var rules SymbolRules
	for _, f := range out.Symbols[0].Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			rules.TickSize = parseF(f.TickSize)
		case "LOT_SIZE":
			rules.StepSize = parseF(f.StepSize)
			rules.MinQty = parseF(f.MinQty)
		case "NOTIONAL", "MIN_NOTIONAL":
			rules.MinNotional = parseF(f.MinNotional)
		}
	}
	if rules.TickSize == 0 || rules.StepSize == 0 {
		return SymbolRules{}, fmt.Errorf("incomplete filters for %s", symbol)
	}
	return rules, nil
}

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	Price         string `json:"price"`
	Fills         []struct {
		Price string `json:"price"`
		Qty   string `json:"qty"`
	} `json:"fills"`
}

func (b *Binance) PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, quantity, price string) (string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", quantity)
	params.Set("price", price)
	params.Set("newClientOrderId", "gtp-"+uuid.NewString())

	body, err := b.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return "", fmt.Errorf("place limit %s %s: %w", side, symbol, err)
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode order response: %w", err)
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

func (b *Binance) PlaceMarketOrder(ctx context.Context, symbol string, side models.Side, quantity string) (MarketFill, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", quantity)
	params.Set("newClientOrderId", "gtp-"+uuid.NewString())

	body, err := b.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return MarketFill{}, fmt.Errorf("place market %s %s: %w", side, symbol, err)
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return MarketFill{}, fmt.Errorf("decode order response: %w", err)
	}

	fill := MarketFill{ExecutedQty: parseF(resp.ExecutedQty)}
	// Weighted average across partial fills.
	var cost, qty float64
	for _, f := range resp.Fills {
		p, q := parseF(f.Price), parseF(f.Qty)
		cost += p * q
		qty += q
	}
	if qty > 0 {
		fill.ExecutedPrice = cost / qty
	}
	if fill.ExecutedQty == 0 {
		fill.ExecutedQty = qty
	}
	return fill, nil
}

func (b *Binance) GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	body, err := b.doSigned(ctx, http.MethodGet, "/api/v3/order", params)
	if err != nil {
		if strings.Contains(err.Error(), "-2013") { // Order does not exist
			return OrderStatus{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return OrderStatus{}, fmt.Errorf("order status %s: %w", orderID, err)
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return OrderStatus{}, fmt.Errorf("decode order status: %w", err)
	}
	return OrderStatus{
		Status:      resp.Status,
		ExecutedQty: parseF(resp.ExecutedQty),
		Price:       parseF(resp.Price),
	}, nil
}

func (b *Binance) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	_, err := b.doSigned(ctx, http.MethodDelete, "/api/v3/order", params)
	if err != nil {
		if strings.Contains(err.Error(), "-2011") { // Unknown order sent
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return fmt.Errorf("cancel %s: %w", orderID, err)
	}
	return nil
}

func (b *Binance) GetAccountBalances(ctx context.Context) ([]Balance, error) {
	body, err := b.doSigned(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}

	out := make([]Balance, 0, len(resp.Balances))
	for _, bal := range resp.Balances {
		free, locked := parseF(bal.Free), parseF(bal.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		out = append(out, Balance{Asset: bal.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

// doSigned signs the query with HMAC-SHA256 and performs the request.
func (b *Binance) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if b.cfg.APIKey == "" || b.cfg.APISecret == "" {
		return nil, errors.New("binance: API key/secret required")
	}

	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(b.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), b.cfg.APISecret))

	endpoint := b.baseURL + path
	encoded := params.Encode()

	var (
		req *http.Request
		err error
	)
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", b.cfg.APIKey)

	res, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("binance %s %s status %d: %s", method, path, res.StatusCode, string(body))
	}
	return body, nil
}

func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseF(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
