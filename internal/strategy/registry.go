package strategy

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/arena-agent/internal/clients/llm"
	"github.com/aristath/arena-agent/internal/tools"
)

// Policy names accepted by NewPolicy
const (
	NameSingleShot = "single-shot"
	NameResearch   = "research"
	NameAgentic    = "agentic"
)

// Dependencies are the collaborators a policy may need
type Dependencies struct {
	Model     llm.Model
	Tools     tools.Provider
	Portfolio PortfolioReader
	AgentID   string
	Log       zerolog.Logger
}

// NewPolicy builds the named policy. relaxed selects the rule set that also
// allows direct USD <-> ALPHA trades.
func NewPolicy(name string, relaxed bool, deps Dependencies) (Policy, error) {
	if deps.Model == nil {
		return nil, fmt.Errorf("policy %s requires a model", name)
	}
	rules := StandardRules
	if relaxed {
		rules = RelaxedRules
	}
	provider := deps.Tools
	if provider == nil {
		provider = tools.NewStaticProvider()
	}

	switch name {
	case NameSingleShot:
		return NewSingleShotPolicy(deps.Model, rules, deps.Log), nil
	case NameResearch:
		return NewResearchPolicy(deps.Model, provider, rules, deps.Log), nil
	case NameAgentic:
		if deps.Portfolio == nil {
			return nil, fmt.Errorf("policy %s requires a portfolio reader", name)
		}
		if deps.AgentID == "" {
			return nil, fmt.Errorf("policy %s requires an agent id", name)
		}
		return NewAgenticPolicy(deps.Model, provider, deps.Portfolio, deps.AgentID, rules, deps.Log), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
