package strategy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aristath/arena-agent/internal/domain"
)

// Rules selects the trading-route instructions given to the model.
type Rules int

const (
	// StandardRules routes every subnet trade through TAO
	StandardRules Rules = iota
	// RelaxedRules also allows direct USD <-> ALPHA trades
	RelaxedRules
)

const standardRoutes = `Trading rules:
- Valid routes: USD <-> TAO, and TAO <-> ALPHA_{subnet_id}
- Direct USD <-> ALPHA and ALPHA <-> ALPHA trades are NOT allowed
- Route through TAO: to buy ALPHA, first buy TAO with USD, then buy ALPHA with TAO
- You can make 0 to 50 trades per interval (every 15 minutes)`

const relaxedRoutes = `Trading rules:
- Valid routes: USD <-> TAO, TAO <-> ALPHA_{subnet_id}, and USD <-> ALPHA_{subnet_id}
- ALPHA <-> ALPHA trades are NOT allowed
- You can make 0 to 50 trades per interval (every 15 minutes)`

const guidelines = `Strategy guidelines:
- Be conservative, don't trade your entire balance at once
- Keep some USD as a safety buffer
- Return an empty trades array if you prefer to hold your current positions
- Consider the time remaining in the interval when deciding trade sizes
- Every trade amount is denominated in the asset you sell and must be positive`

const intro = `You are a trading agent competing in Agent Arena.

Your goal is to maximize your portfolio's NAV (net asset value in USD).`

func (r Rules) routes() string {
	if r == RelaxedRules {
		return relaxedRoutes
	}
	return standardRoutes
}

// decisionSystemPrompt is used by every structured decision call
func decisionSystemPrompt(rules Rules) string {
	return strings.Join([]string{intro, rules.routes(), guidelines}, "\n\n")
}

const researchSystemPrompt = `You are the market research analyst for a trading agent competing in Agent Arena.

Use the available market-data tools to look up the current TAO price and the pool data
(price, liquidity, volume) of the subnets the agent holds or could buy. Call each tool only when
it adds information. When you are done, write a concise summary of your findings (under 300
words) with concrete numbers. Do not decide trades.`

func agenticSystemPrompt(rules Rules, research []string) string {
	researchLine := "3. (no market-data tools are available for this run)"
	if len(research) > 0 {
		researchLine = fmt.Sprintf("3. Call each market-data tool at most once: %s", strings.Join(research, ", "))
	}

	order := strings.Join([]string{
		"Required call order:",
		"1. Call " + toolGetPortfolio + " to fetch your current balances and NAV",
		"2. Review the available assets and time remaining below",
		researchLine,
		"4. Analyse the data and choose your trades",
		"5. Call " + toolSubmitDecision + " exactly once as your final action, with your trades and reasoning",
		"",
		"Your decision only counts if " + toolSubmitDecision + " is called.",
	}, "\n")

	return strings.Join([]string{intro, rules.routes(), guidelines, order}, "\n\n")
}

// formatNumber renders a float the way the arena prints numbers (no trailing zeros)
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func assetIDs(assets []domain.AssetInfo) string {
	ids := make([]string, 0, len(assets))
	for _, a := range assets {
		ids = append(ids, a.AssetID)
	}
	return strings.Join(ids, ", ")
}

// renderSnapshot summarises balances, NAV, assets and time remaining.
func renderSnapshot(snap *domain.Snapshot) string {
	lines := []string{"Current portfolio:"}
	for _, b := range snap.Portfolio.Balances {
		lines = append(lines, fmt.Sprintf("  %s: %s", b.Asset, formatNumber(b.Amount)))
	}
	lines = append(lines,
		"",
		fmt.Sprintf("NAV (USD): $%.2f", snap.Portfolio.NAVUSD),
		"",
		"Available assets: "+assetIDs(snap.Assets),
		"",
		"Seconds remaining in interval: "+formatNumber(snap.Clock.SecondsRemaining),
	)
	return strings.Join(lines, "\n")
}

func singleShotPrompt(snap *domain.Snapshot) string {
	return renderSnapshot(snap) + "\n\nDecide your trades for this interval."
}

func researchPrompt(snap *domain.Snapshot) string {
	return renderSnapshot(snap) + "\n\nResearch current market conditions for these assets using the tools."
}

func decisionPrompt(snap *domain.Snapshot, research string) string {
	if strings.TrimSpace(research) == "" {
		research = "No research data available."
	}
	return strings.Join([]string{
		renderSnapshot(snap),
		"",
		"Market research:",
		research,
		"",
		"Based on the research above, decide your trades.",
	}, "\n")
}

func agenticPrompt(snap *domain.Snapshot) string {
	return strings.Join([]string{
		"Interval: " + snap.Clock.CurrentInterval.ID,
		"Available assets: " + assetIDs(snap.Assets),
		"Seconds remaining in interval: " + formatNumber(snap.Clock.SecondsRemaining),
		"",
		"Follow the required call order and finish by calling " + toolSubmitDecision + ".",
	}, "\n")
}
