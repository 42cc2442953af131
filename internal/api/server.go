package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridtraderpro/backend/internal/bot"
	"github.com/gridtraderpro/backend/internal/fifo"
	"github.com/gridtraderpro/backend/internal/repository"
)

const maxQueryLimit = 1000

type Server struct {
	pool         *pgxpool.Pool
	tradeRepo    *repository.TradeRepo
	ledger       *fifo.Ledger
	orchestrator *bot.Orchestrator
	clientID     int64
	httpServer   *http.Server
	apiKey       string
}

func NewServer(
	pool *pgxpool.Pool,
	tradeRepo *repository.TradeRepo,
	ledger *fifo.Ledger,
	orchestrator *bot.Orchestrator,
	clientID int64,
	port int,
	apiKey, corsOrigin string,
) *Server {
	s := &Server{
		pool:         pool,
		tradeRepo:    tradeRepo,
		ledger:       ledger,
		orchestrator: orchestrator,
		clientID:     clientID,
		apiKey:       apiKey,
	}

	mux := http.NewServeMux()

	// Trade routes
	mux.HandleFunc("GET /v1/trades/recent", s.handleRecentTrades)
	mux.HandleFunc("GET /v1/performance", s.handlePerformance)

	// Grid routes
	mux.HandleFunc("GET /v1/grids", s.handleGridStatus)
	mux.HandleFunc("POST /v1/grids/start", s.handleGridStart)
	mux.HandleFunc("POST /v1/grids/stop", s.handleGridStop)
	mux.HandleFunc("POST /v1/grids/reset", s.handleGridReset)

	// Health check (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	handler := s.authMiddleware(corsMiddleware(mux, corsOrigin))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	fmt.Printf("[API] REST API server started on http://localhost%s\n", s.httpServer.Addr)
	if s.apiKey != "" {
		fmt.Println("[API] Authentication: enabled (Bearer token)")
	} else {
		fmt.Println("[API] Authentication: disabled (no API_KEY configured)")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the configured handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// --- middleware ---

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- helpers ---

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
