package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// PriceStream maintains a live price cache from the Binance miniTicker
// websocket stream. Engines consult the cache before falling back to the
// REST price endpoint, so a dead stream degrades rather than breaks them.
type PriceStream struct {
	wsBase  string
	symbols []string

	mu     sync.RWMutex
	prices map[string]streamPrice
}

type streamPrice struct {
	price float64
	at    time.Time
}

// maxPriceAge bounds how stale a cached price may be before Price
// reports a miss.
const maxPriceAge = 30 * time.Second

func NewPriceStream(testnet bool, symbols []string) *PriceStream {
	base := "wss://stream.binance.com:9443"
	if testnet {
		base = "wss://stream.testnet.binance.vision"
	}
	return &PriceStream{
		wsBase:  base,
		symbols: symbols,
		prices:  make(map[string]streamPrice),
	}
}

// Price returns the cached price for a symbol and whether it is fresh.
func (s *PriceStream) Price(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	if !ok || time.Since(p.at) > maxPriceAge {
		return 0, false
	}
	return p.price, true
}

// Run connects and consumes ticker events until ctx is cancelled,
// reconnecting with backoff after any failure.
func (s *PriceStream) Run(ctx context.Context) {
	if len(s.symbols) == 0 {
		return
	}

	delay := time.Second
	for {
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		fmt.Printf("[STREAM] Disconnected: %v, reconnecting in %s\n", err, delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
}

func (s *PriceStream) consume(ctx context.Context) error {
	streams := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		streams[i] = strings.ToLower(sym) + "@miniTicker"
	}
	url := s.wsBase + "/stream?streams=" + strings.Join(streams, "/")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	fmt.Printf("[STREAM] Connected, %d symbols\n", len(s.symbols))

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(maxPriceAge * 2))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var frame struct {
			Data struct {
				Symbol string `json:"s"`
				Close  string `json:"c"`
			} `json:"data"`
		}
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue
		}
		price, err := strconv.ParseFloat(frame.Data.Close, 64)
		if err != nil || price <= 0 {
			continue
		}

		s.mu.Lock()
		s.prices[frame.Data.Symbol] = streamPrice{price: price, at: time.Now()}
		s.mu.Unlock()
	}
}
