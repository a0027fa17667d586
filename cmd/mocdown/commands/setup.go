package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/mocdown/mocdown/pkg/config"
	"github.com/mocdown/mocdown/pkg/deck"
	"github.com/mocdown/mocdown/pkg/depletion"
	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/plugin"
	"github.com/mocdown/mocdown/pkg/recycle"
	"github.com/mocdown/mocdown/pkg/remote"
	"github.com/mocdown/mocdown/pkg/solver"
	"github.com/mocdown/mocdown/pkg/stores"
	"github.com/mocdown/mocdown/pkg/telemetry"
)

// Positional defaults of deplete and recycle.
const (
	defaultDeck   = "inp1"
	defaultConfig = "mocdown.inp"
)

// runArgs resolves the optional [deck] [config] arguments.
func runArgs(args []string) (deckPath, configPath string, explicit bool) {
	deckPath, configPath = defaultDeck, defaultConfig
	if len(args) > 0 {
		deckPath = args[0]
	}
	if len(args) > 1 {
		configPath, explicit = args[1], true
	}
	return deckPath, configPath, explicit
}

// loadConfig reads the configuration. A missing default file falls back
// to the built-in defaults; a missing explicit one is an error.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("config", path).Msg("Config file not found, using defaults")
			return config.Load("")
		}
	}
	return config.Load(path)
}

// session holds what deplete and recycle share: configuration, telemetry,
// the ledger and the deck and feedback options derived from them.
type session struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	deckOpts []deck.Option
	feedback depletion.Feedback
}

func openSession(ctx context.Context, out io.Writer, configPath string, explicit bool) (*session, context.Context, error) {
	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return nil, ctx, err
	}

	telCfg := cfg.Telemetry
	telCfg.ServiceVersion = buildVersion
	switch {
	case verbose:
		telCfg.Logging.Level = "debug"
	case quiet:
		telCfg.Logging.Level = "warn"
	}
	if jsonOutput {
		telCfg.Logging.Format = "json"
	}
	tel, err := telemetry.NewTelemetry(&telCfg)
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		log.Warn().Err(err).Msg("Metrics endpoint unavailable")
	}
	if !quiet {
		tel.Events.Subscribe(progressPrinter(out), telemetry.FilterByType(
			telemetry.EventTypeStepCompleted, telemetry.EventTypeCycleDone))
	}

	s := &session{cfg: cfg, tel: tel}
	ctx = tel.WithContext(ctx)

	xs, err := deck.ReadXsDir(cfg.Transport.XsDir)
	if err != nil {
		s.Close(ctx)
		return nil, ctx, engine.NewPreconditionError("cross-section directory unavailable", err).
			WithCode(engine.ErrCodeNotFound).
			WithResource(cfg.Transport.XsDir)
	}
	s.deckOpts = []deck.Option{deck.WithXsDir(xs)}

	if cfg.Feedback.Script != "" {
		script, err := plugin.Load(cfg.Feedback.Script, 0)
		if err != nil {
			s.Close(ctx)
			return nil, ctx, err
		}
		fb, err := plugin.NewFeedback(script, cfg.Feedback.Parameters)
		if err != nil {
			s.Close(ctx)
			return nil, ctx, err
		}
		s.feedback = fb
	}

	if cfg.Store.Path != "" {
		store, err := stores.Open(ctx, cfg.Store.Path)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.Store.Path).Msg("Run ledger unavailable, continuing without it")
		} else {
			s.store = store
		}
	}
	return s, ctx, nil
}

// sharedOptions returns the depletion options of both commands: the
// feedback model and, with a compute host configured, the remote runner.
func (s *session) sharedOptions() []depletion.Option {
	var opts []depletion.Option
	if s.feedback != nil {
		opts = append(opts, depletion.WithFeedback(s.feedback))
	}
	if remoteCfg := s.cfg.Transport.Remote; remoteCfg.Enabled() {
		local := solver.NewExec(depletion.SolverSpecs(s.cfg)...)
		opts = append(opts, depletion.WithRunner(remote.NewRunner(remoteCfg, local, log.Logger)))
		log.Info().Str("host", remote.Address(remoteCfg)).Msg("Running transport on compute host")
	}
	return opts
}

// depletionOptions adds the ledger and extra to the shared options.
func (s *session) depletionOptions(extra ...depletion.Option) []depletion.Option {
	opts := s.sharedOptions()
	if s.store != nil {
		opts = append(opts, depletion.WithLedger(s.store))
	}
	return append(opts, extra...)
}

// fuelProcessor loads the configured fuel script, or returns nil.
func (s *session) fuelProcessor() (recycle.FuelProcessor, error) {
	if s.cfg.Recycle.FuelScript == "" {
		return nil, nil
	}
	script, err := plugin.Load(s.cfg.Recycle.FuelScript, 0)
	if err != nil {
		return nil, err
	}
	return plugin.NewFuelProcessor(script, s.cfg.Recycle.FuelParameters)
}

func (s *session) Close(ctx context.Context) {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close run ledger")
		}
	}
	if err := s.tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Msg("Failed to flush telemetry")
	}
}

// progressPrinter writes one line per finished step or cycle.
func progressPrinter(out io.Writer) telemetry.EventSubscriber {
	return func(event telemetry.Event) {
		switch event.Type {
		case telemetry.EventTypeStepCompleted:
			fmt.Fprintf(out, "step %v: %.4g days, keff %.5f\n", event.Data["step"], event.Data["days"], event.Data["keff"])
		case telemetry.EventTypeCycleDone:
			fmt.Fprintf(out, "cycle %v (%v): keff %.5f\n", event.Data["cycle"], event.Data["mode"], event.Data["keff"])
		}
	}
}
