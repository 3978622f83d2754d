// Package main is the arena trading agent. Each cycle it reads the arena
// state, asks the configured strategy for trades, validates them with the
// arena and submits them once per interval.
//
// Without SCHEDULE it runs a single cycle and exits with 0 on submission and
// 1 on any failure. With SCHEDULE it re-runs the cycle until interrupted,
// either on a cron expression or, with SCHEDULE=interval, once per arena
// interval.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/arena-agent/internal/archive"
	"github.com/aristath/arena-agent/internal/clients/arena"
	"github.com/aristath/arena-agent/internal/clients/llm"
	"github.com/aristath/arena-agent/internal/clients/mcp"
	"github.com/aristath/arena-agent/internal/config"
	"github.com/aristath/arena-agent/internal/database"
	"github.com/aristath/arena-agent/internal/journal"
	"github.com/aristath/arena-agent/internal/pipeline"
	"github.com/aristath/arena-agent/internal/scheduler"
	"github.com/aristath/arena-agent/internal/strategy"
	"github.com/aristath/arena-agent/internal/tools"
	"github.com/aristath/arena-agent/pkg/logger"
)

// journalPruneSchedule runs daily at 03:00
const journalPruneSchedule = "0 0 3 * * *"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: "arena-agent",
	})
	logger.SetGlobalLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("agent_id", cfg.Arena.AgentID).
		Str("strategy", cfg.Strategy).
		Bool("relaxed_routes", cfg.RelaxedRoutes).
		Str("commit", cfg.Provenance.CommitSHA).
		Msg("Starting arena agent")

	arenaClient := arena.NewClient(cfg.Arena, log)

	var toolProvider tools.Provider = mcp.NewProvider(cfg.Tools, log)
	if !cfg.Tools.Enabled {
		log.Warn().Msg("External tools disabled, research runs without market data")
		toolProvider = tools.NewStaticProvider()
	}

	policy, err := strategy.NewPolicy(cfg.Strategy, cfg.RelaxedRoutes, strategy.Dependencies{
		Model:     llm.NewClient(cfg.LLM, log),
		Tools:     toolProvider,
		Portfolio: arenaClient,
		AgentID:   cfg.Arena.AgentID,
		Log:       log,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to build strategy")
		return 1
	}
	engine := strategy.NewEngine(policy, cfg.Provenance, log)

	var sinks []pipeline.Sink
	var runJournal *journal.Journal
	if cfg.Journal.Enabled {
		db, err := database.New(database.Config{
			Path:    cfg.Journal.Path,
			Profile: database.ProfileLedger,
			Name:    "journal",
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to open journal database")
			return 1
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			log.Error().Err(err).Msg("Failed to migrate journal database")
			return 1
		}
		runJournal = journal.New(db, log)
		sinks = append(sinks, runJournal)
		log.Info().Str("path", db.Path()).Msg("Run journal enabled")
	}

	if cfg.Archive.Enabled() {
		uploader, err := archive.NewUploader(ctx, cfg.Archive)
		if err != nil {
			log.Error().Err(err).Msg("Failed to configure report archive")
			return 1
		}
		sinks = append(sinks, archive.New(uploader, cfg.Archive.Bucket, cfg.Archive.Prefix, log))
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("Report archive enabled")
	}

	orchestrator := pipeline.NewOrchestrator(arenaClient, engine, cfg.Arena.AgentID, log, sinks...)

	if cfg.Schedule == "" {
		_, err := orchestrator.Run(ctx)
		return pipeline.ExitCode(err)
	}

	return runScheduled(ctx, cfg, arenaClient, orchestrator, runJournal, log)
}

func runScheduled(ctx context.Context, cfg *config.Config, arenaClient *arena.Client, orchestrator *pipeline.Orchestrator, runJournal *journal.Journal, log zerolog.Logger) int {
	sched := scheduler.New(log)
	cycle := scheduler.NewCycleJob(ctx, orchestrator)

	if cfg.Schedule == config.ScheduleInterval {
		version, err := arenaClient.CheckVersion(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Failed to read arena interval length")
			return 1
		}
		schedule := scheduler.IntervalSchedule{
			Interval: time.Duration(version.IntervalSeconds) * time.Second,
			Delay:    cfg.ScheduleDelay,
		}
		if err := sched.AddIntervalJob(schedule, cycle); err != nil {
			log.Error().Err(err).Msg("Invalid arena interval")
			return 1
		}
	} else if err := sched.AddJob(cfg.Schedule, cycle); err != nil {
		log.Error().Err(err).Str("schedule", cfg.Schedule).Msg("Invalid SCHEDULE")
		return 1
	}
	if runJournal != nil {
		if err := sched.AddJob(journalPruneSchedule, journal.NewPruneJob(runJournal, cfg.Journal.Retention, log)); err != nil {
			log.Error().Err(err).Msg("Failed to schedule journal pruning")
			return 1
		}
	}

	sched.Start()
	<-ctx.Done()

	log.Info().Msg("Shutting down")
	sched.Stop()
	return 0
}
