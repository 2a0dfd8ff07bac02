package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradesentry/plan"
	"github.com/web3guy0/tradesentry/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PLAN INTAKE API
// ═══════════════════════════════════════════════════════════════════════════════
//
// Inbound surface for the upstream recommendation collaborator. Conditions
// arrive as a structured, typed set - no free-text inference happens here.
//
//   POST   /plans        create a plan
//   GET    /plans/{id}   fetch a plan
//   DELETE /plans/{id}   cancel a pending plan
//   GET    /health       liveness
//
// ═══════════════════════════════════════════════════════════════════════════════

// Server exposes plan intake over HTTP
type Server struct {
	store *plan.Store
	http  *http.Server
}

type jsonResponse struct {
	Msg  string `json:"msg"`
	Body string `json:"body,omitempty"`
}

// createPlanRequest is the typed intake payload. Conditions use the same
// wire format the journal persists.
type createPlanRequest struct {
	Symbol     string          `json:"symbol"`
	Direction  string          `json:"direction"`
	Entry      decimal.Decimal `json:"entry"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	Volume     decimal.Decimal `json:"volume"`
	Conditions json.RawMessage `json:"conditions"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// NewServer creates the intake server
func NewServer(addr string, store *plan.Store) *Server {
	s := &Server{store: store}

	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/plans", s.createPlanHandler).Methods(http.MethodPost)
	router.HandleFunc("/plans/{id}", s.getPlanHandler).Methods(http.MethodGet)
	router.HandleFunc("/plans/{id}", s.cancelPlanHandler).Methods(http.MethodDelete)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.http.Addr).Msg("🌐 Plan intake API started")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Intake API failed")
		}
	}()
}

// Shutdown drains the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, jsonResponse{Msg: "ok"})
}

func (s *Server) createPlanHandler(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Msg: "invalid json", Body: err.Error()})
		return
	}

	conds, err := plan.UnmarshalConditions(req.Conditions)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Msg: "invalid conditions", Body: err.Error()})
		return
	}

	p := plan.New(req.Symbol, types.Direction(req.Direction), req.Entry, req.StopLoss, req.TakeProfit, req.Volume, conds, req.ExpiresAt)

	id, err := s.store.Create(p)
	if err != nil {
		var verr *plan.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, jsonResponse{Msg: "validation failed", Body: verr.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Msg: "create failed", Body: err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"plan_id": id})
}

func (s *Server) getPlanHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	p, err := s.store.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, jsonResponse{Msg: "not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"plan_id":         p.ID,
		"symbol":          p.Symbol,
		"direction":       p.Direction,
		"entry":           p.Entry,
		"stop_loss":       p.StopLoss,
		"take_profit":     p.TakeProfit,
		"volume":          p.Volume,
		"status":          p.Status,
		"expires_at":      p.ExpiresAt,
		"last_checked_at": p.LastCheckedAt,
		"check_count":     p.CheckCount,
	})
}

func (s *Server) cancelPlanHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if !s.store.Cancel(id) {
		writeJSON(w, http.StatusConflict, jsonResponse{Msg: "not cancellable"})
		return
	}

	writeJSON(w, http.StatusOK, jsonResponse{Msg: "cancelled"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
