// Package domain holds the arena data model shared by the client, strategy and pipeline.
package domain

import "fmt"

// SchemaVersion is the payload schema this agent was built against.
const SchemaVersion = 1

// Base currencies of the arena. Subnet tokens are named ALPHA_{subnet_id}.
const (
	AssetUSD = "USD"
	AssetTAO = "TAO"
)

// VersionResponse is returned by GET /version
type VersionResponse struct {
	SchemaVersion   int    `json:"schema_version"`
	ServerTime      string `json:"server_time"`
	IntervalSeconds int    `json:"interval_seconds"`
}

// Interval is one trading round. StartTime anchors the submission idempotency key.
type Interval struct {
	ID        string `json:"id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Clock is returned by GET /game/clock
type Clock struct {
	CurrentInterval  Interval `json:"current_interval"`
	ServerTime       string   `json:"server_time"`
	SecondsRemaining float64  `json:"seconds_remaining"`
}

// Balance is a single asset holding
type Balance struct {
	Asset  string  `json:"asset"`
	Amount float64 `json:"amount"`
}

// Portfolio is the agent's server-side portfolio. NAVUSD is computed by the arena.
type Portfolio struct {
	AgentID   string    `json:"agent_id"`
	Balances  []Balance `json:"balances"`
	NAVUSD    float64   `json:"nav_usd"`
	UpdatedAt string    `json:"updated_at"`
}

// Validate checks that every asset appears at most once.
func (p *Portfolio) Validate() error {
	seen := make(map[string]bool, len(p.Balances))
	for _, b := range p.Balances {
		if seen[b.Asset] {
			return fmt.Errorf("portfolio has duplicate balance for %s", b.Asset)
		}
		seen[b.Asset] = true
	}
	return nil
}

// AssetInfo describes a tradeable asset. SubnetID is nil for base currencies.
type AssetInfo struct {
	AssetID  string `json:"asset_id"`
	Name     string `json:"name"`
	SubnetID *int   `json:"subnet_id"`
}

// IsSubnetToken reports whether the asset is routed through a subnet pool.
func (a AssetInfo) IsSubnetToken() bool {
	return a.SubnetID != nil
}

// Trade moves Amount of From into To. Amount is denominated in From.
type Trade struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
}

// TradeSet is the "decision" object of the payload
type TradeSet struct {
	Trades []Trade `json:"trades"`
}

// Metadata carries run provenance
type Metadata struct {
	RepoURL        string `json:"repo_url"`
	CommitSHA      string `json:"commit_sha"`
	WorkflowRunURL string `json:"workflow_run_url,omitempty"`
}

// Decision is the payload sent to the validate and submissions endpoints.
type Decision struct {
	SchemaVersion int      `json:"schema_version"`
	Decision      TradeSet `json:"decision"`
	Reasoning     string   `json:"reasoning"`
	Metadata      Metadata `json:"metadata"`
}

// NewDecision builds a payload for the compiled schema version. A nil trade
// list is normalised to an empty one so it encodes as [].
func NewDecision(trades []Trade, reasoning string, meta Metadata) *Decision {
	if trades == nil {
		trades = []Trade{}
	}
	return &Decision{
		SchemaVersion: SchemaVersion,
		Decision:      TradeSet{Trades: trades},
		Reasoning:     reasoning,
		Metadata:      meta,
	}
}

// Trades is a shorthand for d.Decision.Trades
func (d *Decision) Trades() []Trade {
	return d.Decision.Trades
}

// ValidationResult is returned by the arena validator
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Blocking reports whether the result forbids submission.
func (v *ValidationResult) Blocking() bool {
	return !v.Valid || len(v.Errors) > 0
}

// SubmissionResult is returned by POST /agents/{id}/submissions
type SubmissionResult struct {
	Accepted      bool   `json:"accepted"`
	SubmissionID  string `json:"submission_id"`
	IntervalStart string `json:"interval_start"`
}

// Snapshot is one consistent read of the arena for a decision cycle.
type Snapshot struct {
	Version   VersionResponse
	Clock     Clock
	Portfolio Portfolio
	Assets    []AssetInfo
}
