package arenastub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aristath/arena-agent/internal/domain"
)

const idempotencyHeader = "Idempotency-Key"

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, domain.VersionResponse{
		SchemaVersion:   s.cfg.SchemaVersion,
		ServerTime:      s.cfg.Now().UTC().Format(time.RFC3339),
		IntervalSeconds: s.cfg.IntervalSeconds,
	})
}

func (s *Server) handleClock(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.clock())
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	assets := make([]domain.AssetInfo, 0, len(s.cfg.Assets))
	for _, a := range s.cfg.Assets {
		assets = append(assets, a.Info)
	}
	s.writeJSON(w, http.StatusOK, assets)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	s.writeJSON(w, http.StatusOK, s.portfolio(agentID))
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	var decision domain.Decision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid decision body: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, s.validate(agentID, &decision))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	key := r.Header.Get(idempotencyHeader)
	if key == "" {
		s.writeError(w, http.StatusBadRequest, "missing "+idempotencyHeader+" header")
		return
	}

	var decision domain.Decision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid decision body: %v", err))
		return
	}

	s.mu.Lock()
	if existing, ok := s.submissions[key]; ok {
		s.mu.Unlock()
		s.log.Info().Str("key", key).Msg("Duplicate submission absorbed")
		s.writeJSON(w, http.StatusOK, existing.Result)
		return
	}
	s.mu.Unlock()

	result := s.validate(agentID, &decision)
	if result.Blocking() {
		s.writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}

	clock := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()
	// a concurrent request with the same key may have won the race
	if existing, ok := s.submissions[key]; ok {
		s.writeJSON(w, http.StatusOK, existing.Result)
		return
	}
	s.seq++
	sub := &Submission{
		Key:      key,
		AgentID:  agentID,
		Decision: decision,
		Result: domain.SubmissionResult{
			Accepted:      true,
			SubmissionID:  uuid.New().String(),
			IntervalStart: clock.CurrentInterval.StartTime,
		},
	}
	s.submissions[key] = sub
	s.order = append(s.order, key)

	s.log.Info().
		Str("agent_id", agentID).
		Str("submission_id", sub.Result.SubmissionID).
		Int("trades", len(decision.Trades())).
		Int("seq", s.seq).
		Msg("Submission accepted")

	s.writeJSON(w, http.StatusCreated, sub.Result)
}

func (s *Server) clock() domain.Clock {
	now := s.cfg.Now().UTC()
	length := time.Duration(s.cfg.IntervalSeconds) * time.Second
	start := now.Truncate(length)
	end := start.Add(length)

	return domain.Clock{
		CurrentInterval: domain.Interval{
			ID:        fmt.Sprintf("iv-%d", start.Unix()),
			StartTime: start.Format(time.RFC3339),
			EndTime:   end.Format(time.RFC3339),
		},
		ServerTime:       now.Format(time.RFC3339),
		SecondsRemaining: end.Sub(now).Seconds(),
	}
}

func (s *Server) balances(agentID string) []domain.Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	balances, ok := s.portfolios[agentID]
	if !ok {
		balances = append([]domain.Balance(nil), s.cfg.StartBalances...)
		s.portfolios[agentID] = balances
	}
	return append([]domain.Balance(nil), balances...)
}

func (s *Server) portfolio(agentID string) domain.Portfolio {
	balances := s.balances(agentID)
	nav := 0.0
	for _, b := range balances {
		nav += b.Amount * s.price(b.Asset)
	}
	return domain.Portfolio{
		AgentID:   agentID,
		Balances:  balances,
		NAVUSD:    nav,
		UpdatedAt: s.cfg.Now().UTC().Format(time.RFC3339),
	}
}

func (s *Server) price(asset string) float64 {
	for _, a := range s.cfg.Assets {
		if a.Info.AssetID == asset {
			return a.PriceUSD
		}
	}
	return 0
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
