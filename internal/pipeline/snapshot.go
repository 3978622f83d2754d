package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/arena-agent/internal/domain"
)

// MarketAPI is the read side of the arena API
type MarketAPI interface {
	CheckVersion(ctx context.Context) (*domain.VersionResponse, error)
	GetClock(ctx context.Context) (*domain.Clock, error)
	GetPortfolio(ctx context.Context, agentID string) (*domain.Portfolio, error)
	GetAssets(ctx context.Context) ([]domain.AssetInfo, error)
}

// SnapshotReader assembles one consistent view of the arena per cycle.
// Reads are strictly ordered and nothing is cached between cycles.
type SnapshotReader struct {
	api     MarketAPI
	agentID string
	log     zerolog.Logger
}

// NewSnapshotReader creates a reader for one agent
func NewSnapshotReader(api MarketAPI, agentID string, log zerolog.Logger) *SnapshotReader {
	return &SnapshotReader{
		api:     api,
		agentID: agentID,
		log:     log.With().Str("component", "snapshot").Logger(),
	}
}

// CheckVersion must succeed before any other read in the cycle.
func (r *SnapshotReader) CheckVersion(ctx context.Context) (*domain.VersionResponse, error) {
	version, err := r.api.CheckVersion(ctx)
	if err != nil {
		return nil, err
	}
	r.log.Info().Int("schema_version", version.SchemaVersion).Msg("API version OK")
	return version, nil
}

// ReadMarket reads clock, portfolio and assets in that order, failing on the first error.
func (r *SnapshotReader) ReadMarket(ctx context.Context, version *domain.VersionResponse) (*domain.Snapshot, error) {
	clock, err := r.api.GetClock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read clock: %w", err)
	}
	r.log.Info().
		Str("interval", clock.CurrentInterval.ID).
		Float64("seconds_remaining", clock.SecondsRemaining).
		Msg("Current interval")

	portfolio, err := r.api.GetPortfolio(ctx, r.agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to read portfolio: %w", err)
	}
	if err := portfolio.Validate(); err != nil {
		return nil, err
	}
	r.log.Info().
		Str("nav_usd", fmt.Sprintf("%.2f", portfolio.NAVUSD)).
		Int("balances", len(portfolio.Balances)).
		Msg("Portfolio loaded")

	assets, err := r.api.GetAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read assets: %w", err)
	}
	r.log.Info().Int("assets", len(assets)).Msg("Assets loaded")

	return &domain.Snapshot{
		Version:   *version,
		Clock:     *clock,
		Portfolio: *portfolio,
		Assets:    assets,
	}, nil
}

// Read runs CheckVersion followed by ReadMarket.
func (r *SnapshotReader) Read(ctx context.Context) (*domain.Snapshot, error) {
	version, err := r.CheckVersion(ctx)
	if err != nil {
		return nil, err
	}
	return r.ReadMarket(ctx, version)
}
