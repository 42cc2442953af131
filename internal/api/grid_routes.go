package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type gridStartRequest struct {
	Symbol     string  `json:"symbol"`
	USDTAmount float64 `json:"usdtAmount"`
}

type gridStopRequest struct {
	Symbol string `json:"symbol"`
}

type gridCommandResponse struct {
	Success bool   `json:"success"`
	Symbol  string `json:"symbol"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) handleGridStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"grids": s.orchestrator.Status()})
}

func (s *Server) handleGridStart(w http.ResponseWriter, r *http.Request) {
	var req gridStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	if err := s.orchestrator.StartGrid(r.Context(), req.Symbol, req.USDTAmount); err != nil {
		fmt.Printf("[API] Grid start %s failed: %v\n", req.Symbol, err)
		writeJSON(w, http.StatusOK, gridCommandResponse{
			Success: false, Symbol: req.Symbol, Reason: err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, gridCommandResponse{Success: true, Symbol: req.Symbol})
}

func (s *Server) handleGridReset(w http.ResponseWriter, r *http.Request) {
	var req gridStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	if err := s.orchestrator.ResetGrid(r.Context(), req.Symbol); err != nil {
		fmt.Printf("[API] Grid reset %s failed: %v\n", req.Symbol, err)
		writeJSON(w, http.StatusOK, gridCommandResponse{
			Success: false, Symbol: req.Symbol, Reason: err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, gridCommandResponse{Success: true, Symbol: req.Symbol})
}

func (s *Server) handleGridStop(w http.ResponseWriter, r *http.Request) {
	var req gridStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	if err := s.orchestrator.StopGrid(r.Context(), req.Symbol); err != nil {
		fmt.Printf("[API] Grid stop %s failed: %v\n", req.Symbol, err)
		writeJSON(w, http.StatusOK, gridCommandResponse{
			Success: false, Symbol: req.Symbol, Reason: err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, gridCommandResponse{Success: true, Symbol: req.Symbol})
}
