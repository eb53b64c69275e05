package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/vitos/crypto_rebalancer/internal/domain"
	"go.uber.org/zap"
)

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func botID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// parseTime accepts RFC3339 or a bare date.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

type botView struct {
	*domain.Bot
	State *domain.BotState `json:"state,omitempty"`
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.bots.ListBots(r.Context())
	if err != nil {
		s.logger.Error("Failed to list bots", zap.Error(err))
		http.Error(w, "Failed to list bots", http.StatusInternalServerError)
		return
	}

	views := make([]botView, 0, len(bots))
	for _, b := range bots {
		v := botView{Bot: b}
		if st, err := s.states.GetState(r.Context(), b.ID); err == nil {
			v.State = st
		}
		views = append(views, v)
	}
	s.writeJSON(w, views)
}

func (s *Server) handleBotState(w http.ResponseWriter, r *http.Request) {
	id, err := botID(r)
	if err != nil {
		http.Error(w, "Invalid bot id", http.StatusBadRequest)
		return
	}

	state, err := s.states.GetState(r.Context(), id)
	if err != nil {
		http.Error(w, "Bot not found", http.StatusNotFound)
		return
	}
	snapshots, err := s.states.ListSnapshots(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to list snapshots", zap.Int64("bot_id", id), zap.Error(err))
		http.Error(w, "Failed to load state", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, map[string]any{
		"state":     state,
		"snapshots": snapshots,
	})
}

func (s *Server) handleToggleBot(w http.ResponseWriter, r *http.Request) {
	id, err := botID(r)
	if err != nil {
		http.Error(w, "Invalid bot id", http.StatusBadRequest)
		return
	}

	enabled, err := s.scheduler.Toggle(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to toggle bot", zap.Int64("bot_id", id), zap.Error(err))
		http.Error(w, "Failed to toggle bot", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]any{"bot_id": id, "enabled": enabled})
}

func (s *Server) handleResetBot(w http.ResponseWriter, r *http.Request) {
	id, err := botID(r)
	if err != nil {
		http.Error(w, "Invalid bot id", http.StatusBadRequest)
		return
	}

	var body struct {
		Type      string `json:"type"`
		Liquidate bool   `json:"liquidate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	opts := domain.ResetOptions{LiquidateToStablecoin: body.Liquidate}
	switch body.Type {
	case "soft", "":
		opts.Type = domain.ResetSoft
	case "hard":
		opts.Type = domain.ResetHard
	default:
		http.Error(w, "Reset type must be soft or hard", http.StatusBadRequest)
		return
	}

	if err := s.scheduler.Reset(r.Context(), id, opts); err != nil {
		s.logger.Error("Failed to reset bot", zap.Int64("bot_id", id), zap.Error(err))
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	s.writeJSON(w, map[string]any{"bot_id": id, "reset": string(opts.Type)})
}

func (s *Server) handleSellBot(w http.ResponseWriter, r *http.Request) {
	id, err := botID(r)
	if err != nil {
		http.Error(w, "Invalid bot id", http.StatusBadRequest)
		return
	}

	trade, err := s.scheduler.SellHolding(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to sell holding", zap.Int64("bot_id", id), zap.Error(err))
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	s.writeJSON(w, trade)
}

func (s *Server) handleTriggerCheck(w http.ResponseWriter, r *http.Request) {
	id, err := botID(r)
	if err != nil {
		http.Error(w, "Invalid bot id", http.StatusBadRequest)
		return
	}

	if !s.scheduler.TriggerCycle(r.Context(), id) {
		http.Error(w, "Cycle already running", http.StatusConflict)
		return
	}
	s.writeJSON(w, map[string]any{"bot_id": id, "triggered": true})
}

func decisionFilter(r *http.Request) domain.DecisionFilter {
	q := r.URL.Query()
	f := domain.DecisionFilter{
		FromCoin: q.Get("from_coin"),
		ToCoin:   q.Get("to_coin"),
	}
	if v := q.Get("since"); v != "" {
		if t, err := parseTime(v); err == nil {
			f.Since = t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := parseTime(v); err == nil {
			f.Until = t
		}
	}
	if v := q.Get("swap_performed"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			f.SwapPerformed = &b
		}
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	return f
}

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	id, err := botID(r)
	if err != nil {
		http.Error(w, "Invalid bot id", http.StatusBadRequest)
		return
	}

	recs, err := s.audit.ListDecisions(r.Context(), id, decisionFilter(r))
	if err != nil {
		s.logger.Error("Failed to list decisions", zap.Int64("bot_id", id), zap.Error(err))
		http.Error(w, "Failed to list decisions", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, recs)
}

func tradeFilter(r *http.Request) domain.TradeFilter {
	q := r.URL.Query()
	f := domain.TradeFilter{
		FromCoin: q.Get("from_coin"),
		ToCoin:   q.Get("to_coin"),
		Status:   domain.TradeStatus(q.Get("status")),
	}
	if v := q.Get("since"); v != "" {
		if t, err := parseTime(v); err == nil {
			f.Since = t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := parseTime(v); err == nil {
			f.Until = t
		}
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	return f
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	id, err := botID(r)
	if err != nil {
		http.Error(w, "Invalid bot id", http.StatusBadRequest)
		return
	}

	trades, err := s.audit.ListTrades(r.Context(), id, tradeFilter(r))
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Int64("bot_id", id), zap.Error(err))
		http.Error(w, "Failed to list trades", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, trades)
}

func (s *Server) handleListPrices(w http.ResponseWriter, r *http.Request) {
	id, err := botID(r)
	if err != nil {
		http.Error(w, "Invalid bot id", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	var since time.Time
	if v := q.Get("since"); v != "" {
		if t, err := parseTime(v); err == nil {
			since = t
		}
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	points, err := s.audit.ListPricePoints(r.Context(), id, q.Get("coin"), since, limit)
	if err != nil {
		s.logger.Error("Failed to list prices", zap.Int64("bot_id", id), zap.Error(err))
		http.Error(w, "Failed to list prices", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, points)
}
