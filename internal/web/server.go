package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vitos/crypto_rebalancer/internal/domain"
	"github.com/vitos/crypto_rebalancer/internal/usecase"
	"go.uber.org/zap"
)

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	bots      domain.BotRepository
	states    domain.StateRepository
	audit     domain.AuditRepository
	scheduler *usecase.BotScheduler
	hub       *Hub
	logger    *zap.Logger
}

func NewServer(
	port int,
	bots domain.BotRepository,
	states domain.StateRepository,
	audit domain.AuditRepository,
	scheduler *usecase.BotScheduler,
	hub *Hub,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		bots:      bots,
		states:    states,
		audit:     audit,
		scheduler: scheduler,
		hub:       hub,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Bots
	s.router.HandleFunc("GET /api/bots", s.handleListBots)
	s.router.HandleFunc("GET /api/bots/{id}/state", s.handleBotState)
	s.router.HandleFunc("POST /api/bots/{id}/toggle", s.handleToggleBot)
	s.router.HandleFunc("POST /api/bots/{id}/reset", s.handleResetBot)
	s.router.HandleFunc("POST /api/bots/{id}/sell", s.handleSellBot)
	s.router.HandleFunc("POST /api/bots/{id}/check", s.handleTriggerCheck)

	// History
	s.router.HandleFunc("GET /api/bots/{id}/decisions", s.handleListDecisions)
	s.router.HandleFunc("GET /api/bots/{id}/trades", s.handleListTrades)
	s.router.HandleFunc("GET /api/bots/{id}/prices", s.handleListPrices)

	// Live updates
	s.router.HandleFunc("GET /ws/updates", s.hub.handleWS)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
