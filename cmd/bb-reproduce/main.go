// bb-reproduce replays the crash and hang samples a campaign produced,
// classifies and deduplicates them and writes the bb_results.json
// artifact consumed by the reporting tools.
package main

import (
	"context"
	"os"

	flags "github.com/jessevdk/go-flags"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"bugbane/config"
	"bugbane/internal/build"
	"bugbane/internal/fuzz"
	"bugbane/internal/reproduce"
	"bugbane/pkg/logger"
	"bugbane/pkg/telemetry"
)

type options struct {
	SuiteDir    string `long:"suite" short:"s" description:"test suite directory" required:"true"`
	NumReruns   int    `long:"num-reruns" description:"retry budget per sample" default:"3"`
	HangTimeout int    `long:"hang-timeout" description:"hang classification bound in milliseconds" default:"30000"`
	Verbose     bool   `long:"verbose" short:"v" description:"debug logging"`
}

func main() {
	var opts options
	if _, err := flags.ParseArgs(&opts, os.Args[1:]); err != nil {
		os.Exit(1)
	}

	knobs := config.Knobs{
		SuiteDir:      opts.SuiteDir,
		NumReruns:     opts.NumReruns,
		HangTimeoutMS: opts.HangTimeout,
		Verbose:       opts.Verbose,
	}

	app := fx.New(
		fx.Supply(knobs),
		fx.Provide(
			config.Load,
			logger.NewLogger,
			telemetry.NewTelemetry,
			telemetry.NewTracerFactory,
			reproduce.NewManager,
			func(cfg *config.AppConfig, log *zap.Logger) (*build.Manifest, error) {
				return build.Discover(cfg.SuiteDir, log)
			},
		),
		fuzz.EnginesModule,
		fx.Invoke(func(lc fx.Lifecycle, sd fx.Shutdowner, log *zap.Logger, tracers *telemetry.TracerFactory, mgr *reproduce.Manager) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						ctx := context.Background()
						tracer := tracers.NewTracer(ctx, "crash reproduction")
						tracer.Start()
						ctx = context.WithValue(ctx, telemetry.TracerKey{}, tracer)

						err := mgr.Run(ctx)
						tracer.End()
						if err != nil {
							log.Error("reproduction failed", zap.Error(err))
							sd.Shutdown(fx.ExitCode(1))
							return
						}
						sd.Shutdown()
					}()
					return nil
				},
			})
		}),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
	app.Run()
}
