// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/duet/internal/api/connect"
	"github.com/osa030/duet/internal/app/filter"
	"github.com/osa030/duet/internal/app/firstpick"
	"github.com/osa030/duet/internal/app/match"
	"github.com/osa030/duet/internal/app/notification"
	"github.com/osa030/duet/internal/app/recommend"
	"github.com/osa030/duet/internal/app/selection"
	"github.com/osa030/duet/internal/app/session"
	"github.com/osa030/duet/internal/app/validate"
	"github.com/osa030/duet/internal/domain/persona"
	"github.com/osa030/duet/internal/infra/config"
	"github.com/osa030/duet/internal/infra/llm"
	"github.com/osa030/duet/internal/infra/logger"
	"github.com/osa030/duet/internal/infra/spotify"
	"github.com/osa030/duet/internal/infra/store"
)

var (
	app        = kingpin.New("duet-server", "duet collaborative DJ server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (overrides config)").String()

	listFiltersCmd  = app.Command("list-filters", "List available filters and exit")
	listPersonasCmd = app.Command("list-personas", "List stored personas and their cached opening picks")
)

// recencyPruneSchedule is when expired recency entries are deleted.
const recencyPruneSchedule = "@daily"

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.Config{Output: cfg.Log.Output, Level: cfg.Log.Level, File: cfg.Log.File}
	if *verbose {
		logCfg.Level = "debug"
	}
	if *logfile != "" {
		logCfg.Output = "file"
		logCfg.File = *logfile
	}
	closeLog, err := logger.Init(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if command == listPersonasCmd.FullCommand() {
		if err := printPersonas(cfg); err != nil {
			zlog.Error().Msgf("Failed to list personas: %v", err)
			os.Exit(1)
		}
		return
	}

	// Run server (defer ensures cleanup is called)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %+v", err)
		closeLog()
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	if err := validateFilterConfig(cfg); err != nil {
		return errors.Wrap(err, "invalid filter config")
	}

	// Storage
	db, err := store.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(db); err != nil {
			zlog.Warn().Msgf("Failed to close database: %v", err)
		}
	}()

	personas := store.NewPersonaStore(db)
	if err := personas.SeedPersonas(ctx, configuredPersonas(cfg)); err != nil {
		return err
	}
	recency := store.NewRecencyCache(db, cfg.Storage.RecencyWindow, cfg.Storage.RecencyLimit)
	telemetry := store.NewTelemetry(db)
	defer telemetry.Close()

	// External clients
	spotifyClient, err := spotify.New(ctx, spotify.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		RefreshToken: cfg.Spotify.RefreshToken,
		Market:       cfg.Spotify.Market,
		DeviceID:     cfg.Spotify.DeviceID,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create Spotify client")
	}

	var llmClient *llm.Client
	if cfg.LLM.Enabled() {
		llmClient, err = llm.New(llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create LLM client")
		}
		zlog.Info().Msgf("LLM endpoint configured: model=%s", llmClient.Model())
	}

	// Selection pipeline
	recDeps := recommend.Dependencies{Playlist: spotifyClient}
	if llmClient != nil {
		recDeps.LLM = llmClient
	}
	recommender, err := recommend.NewChainFromConfig(cfg, recDeps)
	if err != nil {
		return errors.Wrap(err, "failed to create recommenders")
	}

	notices := notification.NewManager()
	defer notices.Close()

	selector, err := selection.New(selection.Dependencies{
		Recommender: recommender,
		Catalog:     spotifyClient,
		Matcher:     newMatcher(cfg, llmClient),
		Validator:   newValidator(cfg, llmClient),
		Recency:     recency,
		Telemetry:   telemetry,
		Notifier:    notices,
	}, selection.Config{
		SearchPageSize:          cfg.Spotify.SearchPageSize,
		SearchMaxResults:        cfg.Spotify.SearchMaxResults,
		SelectionFailedMessage:  cfg.GetMessage("selection_failed"),
		ValidationRejectMessage: cfg.GetMessage("validation_rejected"),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create selector")
	}

	firstPicks := firstpick.New(personas, selector, spotifyClient, firstpick.Config{
		MaxConcurrent:   cfg.FirstPick.MaxConcurrent,
		RefreshSchedule: cfg.FirstPick.RefreshSchedule,
	})
	defer firstPicks.Close()
	if err := firstPicks.StartSchedule(); err != nil {
		return err
	}

	maintenance := cron.New()
	if _, err := maintenance.AddFunc(recencyPruneSchedule, func() { pruneRecency(recency) }); err != nil {
		return errors.Wrap(err, "failed to schedule recency pruning")
	}
	maintenance.Start()
	defer func() { <-maintenance.Stop().Done() }()
	pruneRecency(recency)

	// Session
	deps := session.Dependencies{
		Device:     spotifyClient,
		Catalog:    spotifyClient,
		Selector:   selector,
		FirstPick:  firstPicks,
		Directions: recommender,
		Notifier:   notices,
	}
	if cfg.Session.RecordPlaylist {
		deps.Playlists = spotifyClient
	}
	sessionMgr, err := session.NewManager(cfg, deps)
	if err != nil {
		return errors.Wrap(err, "failed to create session manager")
	}
	if err := sessionMgr.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start session")
	}
	defer sessionMgr.Stop()

	// RPC
	mux := http.NewServeMux()
	path, handler := apiconnect.NewSessionServiceHandler(
		apiconnect.NewSessionService(sessionMgr, cfg),
		connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg.Server.AdminToken)),
	)
	mux.Handle(path, handler)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s persona=%s", cfg.Server.Addr, sessionMgr.Persona().ID)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case <-sessionMgr.Done():
		zlog.Info().Msg("Session ended, shutting down...")
	case err := <-serverErrCh:
		return errors.Wrap(err, "server error")
	}

	// Stop the session first so notice streams end
	sessionMgr.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")
	return nil
}

func newMatcher(cfg *config.Config, llmClient *llm.Client) match.Tagged {
	if cfg.Matcher.Type == string(match.KindLLMBased) && llmClient != nil {
		return match.Tagged{Kind: match.KindLLMBased, Matcher: match.NewLLMMatcher(llmClient)}
	}
	return match.Tagged{Kind: match.KindStringBased, Matcher: match.NewStringMatcher()}
}

func newValidator(cfg *config.Config, llmClient *llm.Client) validate.Validator {
	if cfg.Validator.Type == "llm" && llmClient != nil {
		return validate.NewLLMValidator(llmClient)
	}
	return validate.Disabled{}
}

func configuredPersonas(cfg *config.Config) []persona.Persona {
	out := make([]persona.Persona, 0, len(cfg.Personas))
	for _, p := range cfg.Personas {
		out = append(out, persona.Persona{
			ID:          p.ID,
			Name:        p.Name,
			StyleGuide:  p.StyleGuide,
			Description: p.Description,
		})
	}
	return out
}

func pruneRecency(recency *store.RecencyCache) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := recency.Prune(ctx)
	if err != nil {
		zlog.Warn().Msgf("Failed to prune recency cache: %v", err)
		return
	}
	if n > 0 {
		zlog.Info().Msgf("Pruned recency cache: deleted=%d", n)
	}
}

// printFilters prints available filters.
func printFilters() {
	registered := filter.GetRegistered()

	fmt.Println("Available Filters:")
	for _, name := range filter.Names() {
		f := registered[name]()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// printPersonas prints the stored personas.
func printPersonas(cfg *config.Config) error {
	db, err := store.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer store.Close(db)

	ctx := context.Background()
	personas := store.NewPersonaStore(db)
	if err := personas.SeedPersonas(ctx, configuredPersonas(cfg)); err != nil {
		return err
	}
	list, err := personas.ListPersonas(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Personas:")
	for _, p := range list {
		opener := "(none cached)"
		if p.FirstSelection != nil {
			opener = p.FirstSelection.Recommendation.Artist + " - " + p.FirstSelection.Recommendation.Title
		}
		fmt.Printf("  %-20s %-24s opener: %s\n", p.ID, p.Name, opener)
	}
	return nil
}

// validateFilterConfig validates filter configurations.
func validateFilterConfig(cfg *config.Config) error {
	registry := filter.GetRegistered()

	for filterName, filterCfg := range cfg.Filters {
		if !filterCfg.Enabled {
			continue
		}

		factory, exists := registry[filterName]
		if !exists {
			// Filters with dependencies are built by the session
			continue
		}

		if err := factory().ValidateConfig(filterCfg.Settings); err != nil {
			return errors.Wrapf(err, "filter %s", filterName)
		}
	}

	return nil
}
