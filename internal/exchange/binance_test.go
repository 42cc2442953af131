package exchange

import (
	"testing"
	"time"
)

func TestNewBinance_Defaults(t *testing.T) {
	b := NewBinance(BinanceConfig{APIKey: "k", APISecret: "s"})
	if b.baseURL != "https://api.binance.com" {
		t.Fatalf("base URL = %q", b.baseURL)
	}
	if b.cfg.RecvWindow != defaultRecvWindow {
		t.Fatalf("recvWindow = %d, want %d", b.cfg.RecvWindow, defaultRecvWindow)
	}
	if b.httpClient.Timeout != 10*time.Second {
		t.Fatalf("timeout = %s, want 10s", b.httpClient.Timeout)
	}
}

func TestNewBinance_TestnetAndTimeout(t *testing.T) {
	b := NewBinance(BinanceConfig{APIKey: "k", APISecret: "s", Testnet: true, TimeoutSeconds: 30})
	if b.baseURL != "https://testnet.binance.vision" {
		t.Fatalf("base URL = %q", b.baseURL)
	}
	if b.httpClient.Timeout != 30*time.Second {
		t.Fatalf("timeout = %s, want 30s", b.httpClient.Timeout)
	}
}
