// bb-corpus synchronizes test corpora between a content-addressed storage
// directory and a suite's fuzzer sync directory, deduplicating and
// minimizing along the way.
package main

import (
	"context"
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"bugbane/config"
	"bugbane/internal/build"
	"bugbane/internal/corpus"
	"bugbane/internal/fuzz"
	"bugbane/pkg/logger"
	"bugbane/pkg/telemetry"
)

type options struct {
	SuiteDir string `long:"suite" short:"s" description:"test suite directory" required:"true"`
	Storage  string `long:"storage" description:"corpus storage directory" required:"true"`
	Action   string `long:"action" short:"a" description:"sync direction" choice:"import" choice:"export" required:"true"`
	Verbose  bool   `long:"verbose" short:"v" description:"debug logging"`
}

func main() {
	var opts options
	if _, err := flags.ParseArgs(&opts, os.Args[1:]); err != nil {
		os.Exit(1)
	}

	knobs := config.Knobs{SuiteDir: opts.SuiteDir, Verbose: opts.Verbose}

	app := fx.New(
		fx.Supply(knobs),
		fx.Provide(
			config.Load,
			logger.NewLogger,
			telemetry.NewTelemetry,
			telemetry.NewTracerFactory,
			corpus.NewSyncer,
			func(cfg *config.AppConfig, log *zap.Logger) (*build.Manifest, error) {
				return build.Discover(cfg.SuiteDir, log)
			},
		),
		fuzz.EnginesModule,
		fx.Invoke(func(lc fx.Lifecycle, sd fx.Shutdowner, log *zap.Logger, syncer *corpus.Syncer) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						var err error
						switch opts.Action {
						case "import":
							err = syncer.Import(opts.Storage)
						case "export":
							err = syncer.Export(opts.Storage)
						default:
							err = fmt.Errorf("unknown action %q", opts.Action)
						}
						if err != nil {
							log.Error("corpus sync failed", zap.Error(err))
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
