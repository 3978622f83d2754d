package arenastub

import (
	"fmt"
	"unicode/utf8"

	"github.com/aristath/arena-agent/internal/domain"
)

const (
	maxTrades       = 50
	maxReasoning    = 2000
	largeTradeShare = 0.5
)

// validate applies the hook, if any, then the sandbox rules. Trades are
// simulated in order against the agent's balances at sandbox prices.
func (s *Server) validate(agentID string, decision *domain.Decision) *domain.ValidationResult {
	s.mu.Lock()
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		if result := hook(agentID, decision); result != nil {
			return result
		}
	}

	result := &domain.ValidationResult{Errors: []string{}, Warnings: []string{}}
	fail := func(format string, args ...interface{}) {
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}
	warn := func(format string, args ...interface{}) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(format, args...))
	}

	if decision.SchemaVersion != s.cfg.SchemaVersion {
		fail("schema_version %d is not supported (expected %d)", decision.SchemaVersion, s.cfg.SchemaVersion)
	}
	if n := utf8.RuneCountInString(decision.Reasoning); n > maxReasoning {
		fail("reasoning is %d characters (max %d)", n, maxReasoning)
	}
	trades := decision.Trades()
	if len(trades) > maxTrades {
		fail("%d trades submitted (max %d)", len(trades), maxTrades)
	}

	held := make(map[string]float64)
	for _, b := range s.balances(agentID) {
		held[b.Asset] = b.Amount
	}

	for i, t := range trades {
		from, fromOK := s.asset(t.From)
		to, toOK := s.asset(t.To)
		switch {
		case !fromOK:
			fail("trade %d: unknown asset %s", i, t.From)
			continue
		case !toOK:
			fail("trade %d: unknown asset %s", i, t.To)
			continue
		case !(t.Amount > 0):
			fail("trade %d: amount must be positive", i)
			continue
		case !s.routeAllowed(from, to):
			fail("trade %d: route %s -> %s is not allowed", i, t.From, t.To)
			continue
		}

		available := held[t.From]
		if t.Amount > available {
			fail("trade %d: insufficient %s balance (have %g, need %g)", i, t.From, available, t.Amount)
			continue
		}
		if t.Amount > available*largeTradeShare {
			warn("trade %d uses more than half of the %s balance", i, t.From)
		}

		held[t.From] -= t.Amount
		held[t.To] += t.Amount * s.price(t.From) / s.price(t.To)
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func (s *Server) asset(id string) (domain.AssetInfo, bool) {
	for _, a := range s.cfg.Assets {
		if a.Info.AssetID == id {
			return a.Info, a.PriceUSD > 0
		}
	}
	return domain.AssetInfo{}, false
}

// routeAllowed accepts USD <-> TAO and TAO <-> ALPHA, plus USD <-> ALPHA when relaxed.
func (s *Server) routeAllowed(from, to domain.AssetInfo) bool {
	if from.AssetID == to.AssetID {
		return false
	}
	base := func(a domain.AssetInfo, id string) bool { return !a.IsSubnetToken() && a.AssetID == id }

	switch {
	case base(from, domain.AssetUSD) && base(to, domain.AssetTAO),
		base(from, domain.AssetTAO) && base(to, domain.AssetUSD):
		return true
	case base(from, domain.AssetTAO) && to.IsSubnetToken(),
		from.IsSubnetToken() && base(to, domain.AssetTAO):
		return true
	case base(from, domain.AssetUSD) && to.IsSubnetToken(),
		from.IsSubnetToken() && base(to, domain.AssetUSD):
		return s.cfg.RelaxedRoutes
	}
	return false
}
