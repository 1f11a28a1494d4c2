// Package dashboard exposes the bot's state over a JSON API and a
// websocket summary stream.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"credit-spread-bot/internal/lifecycle"
	"credit-spread-bot/internal/models"
	"credit-spread-bot/internal/storage"
)

// Config holds dashboard server settings.
type Config struct {
	Addr      string
	AuthToken string
	// SummaryInterval is the websocket broadcast cadence.
	SummaryInterval time.Duration
}

// Server serves the trade API and websocket stream.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	manager  *lifecycle.Manager
	storage  storage.Interface
	logger   *logrus.Logger
	config   Config
	upgrader websocket.Upgrader
}

// NewServer creates a dashboard server.
func NewServer(cfg Config, manager *lifecycle.Manager, store storage.Interface, logger *logrus.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.SummaryInterval <= 0 {
		cfg.SummaryInterval = 5 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	s := &Server{
		router:  chi.NewRouter(),
		manager: manager,
		storage: store,
		logger:  logger,
		config:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.config.AuthToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/trades", s.handleGetTrades)
	s.router.Post("/api/trades", s.handleCreateTrade)
	s.router.Get("/api/trades/closed", s.handleGetClosedTrades)
	s.router.Get("/api/history", s.handleGetHistory)
	s.router.Get("/api/summary", s.handleGetSummary)
	s.router.Get("/api/statistics", s.handleGetStatistics)
	s.router.Get("/api/rules", s.handleGetRules)
	s.router.Put("/api/rules", s.handleUpdateRules)
	s.router.Get("/ws", s.handleWebsocket)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.config.AuthToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the HTTP handler, used directly in tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.WithField("addr", s.config.Addr).Info("Starting dashboard server")
	return s.server.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.manager.ActiveTrades())
}

// createTradeRequest is the manual entry payload. Legs carry the entry
// snapshot; dollar fields are totals, the same convention as the Trade
// model.
type createTradeRequest struct {
	Symbol      string            `json:"symbol"`
	SpreadType  models.SpreadType `json:"spread_type"`
	ShortLeg    models.OptionLeg  `json:"short_leg"`
	LongLeg     models.OptionLeg  `json:"long_leg"`
	Contracts   int               `json:"contracts"`
	EntryCredit float64           `json:"entry_credit"`
	MaxLoss     float64           `json:"max_loss"`
	Rationale   string            `json:"rationale,omitempty"`
}

func (s *Server) handleCreateTrade(w http.ResponseWriter, r *http.Request) {
	var req createTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid trade payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	trade, err := s.manager.AddTrade(lifecycle.TradeTerms{
		Symbol:      req.Symbol,
		Strategy:    "manual_entry",
		SpreadType:  req.SpreadType,
		ShortLeg:    req.ShortLeg,
		LongLeg:     req.LongLeg,
		Contracts:   req.Contracts,
		EntryCredit: req.EntryCredit,
		MaxLoss:     req.MaxLoss,
		Rationale:   req.Rationale,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s.logger.WithField("trade_id", trade.ID).Info("Trade added via API")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(trade); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) handleGetClosedTrades(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.manager.ClosedTrades())
}

func (s *Server) handleGetHistory(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.storage.GetHistory())
}

func (s *Server) handleGetSummary(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.manager.GetSummary())
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.storage.GetStatistics())
}

func (s *Server) handleGetRules(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.manager.Rules())
}

func (s *Server) handleUpdateRules(w http.ResponseWriter, r *http.Request) {
	var rules models.ManagementRules
	if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
		http.Error(w, "invalid rules payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.manager.SetRules(rules); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s.logger.Info("Management rules updated via API")
	s.writeJSON(w, s.manager.Rules())
}

// handleWebsocket streams the portfolio summary to the client on a
// fixed cadence until the connection drops.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Drain client frames so pings and close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.config.SummaryInterval)
	defer ticker.Stop()

	if err := conn.WriteJSON(s.manager.GetSummary()); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(s.manager.GetSummary()); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
