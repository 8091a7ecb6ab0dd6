// bb-fuzz runs a fuzzing campaign against a built test suite: allocates
// cores, launches fuzzer instances under tmux, polls statistics until a
// stop condition triggers, captures screens and tears everything down.
package main

import (
	"context"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"bugbane/config"
	"bugbane/internal/build"
	"bugbane/internal/campaign"
	"bugbane/internal/dict"
	"bugbane/internal/fuzz"
	"bugbane/pkg/logger"
	"bugbane/pkg/telemetry"
)

type options struct {
	SuiteDir      string `long:"suite" short:"s" description:"test suite directory" required:"true"`
	MaxCPUs       int    `long:"max-cpus" description:"cap on usable CPU cores" default:"16"`
	StartInterval int    `long:"start-interval" description:"milliseconds between instance launches" default:"0"`
	Verbose       bool   `long:"verbose" short:"v" description:"debug logging"`
}

type runParams struct {
	fx.In
	Lc           fx.Lifecycle
	Shutdowner   fx.Shutdowner
	Logger       *zap.Logger
	Tracers      *telemetry.TracerFactory
	Orchestrator *campaign.Orchestrator
}

func runCampaign(p runParams) {
	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ctx := context.Background()
				tracer := p.Tracers.NewTracer(ctx, "fuzz campaign")
				tracer.Start()
				ctx = context.WithValue(ctx, telemetry.TracerKey{}, tracer)

				err := p.Orchestrator.Run(ctx)
				tracer.End()
				if err != nil {
					p.Logger.Error("campaign failed", zap.Error(err))
					p.Shutdowner.Shutdown(fx.ExitCode(1))
					return
				}
				p.Shutdowner.Shutdown()
			}()
			return nil
		},
	})
}

func main() {
	var opts options
	if _, err := flags.ParseArgs(&opts, os.Args[1:]); err != nil {
		os.Exit(1)
	}

	knobs := config.Knobs{
		SuiteDir:      opts.SuiteDir,
		MaxCPUs:       opts.MaxCPUs,
		StartInterval: time.Duration(opts.StartInterval) * time.Millisecond,
		Verbose:       opts.Verbose,
	}

	app := fx.New(
		fx.Supply(knobs),
		fx.Provide(
			config.Load,
			logger.NewLogger,
			telemetry.NewTelemetry,
			telemetry.NewTracerFactory,
			dict.NewMerger,
			campaign.NewOrchestrator,
			func(cfg *config.AppConfig, log *zap.Logger) (*build.Manifest, error) {
				return build.Discover(cfg.SuiteDir, log)
			},
		),
		fuzz.EnginesModule,
		fx.Invoke(runCampaign),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
	app.Run()
}
