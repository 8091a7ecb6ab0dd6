// Package campaign drives one fuzzing campaign end to end: core
// allocation, instance launch inside a supervised tmux session, the
// statistics polling loop with stop-condition evaluation, screen capture
// and host-wide teardown.
package campaign

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"bugbane/config"
	"bugbane/internal/build"
	"bugbane/internal/cores"
	"bugbane/internal/corpus"
	"bugbane/internal/dict"
	"bugbane/internal/fuzz"
	"bugbane/internal/stats"
	"bugbane/internal/stopcond"
	"bugbane/internal/types"
	"bugbane/pkg/telemetry"
	"bugbane/pkg/tmux"
	"bugbane/pkg/watchdog"
)

// State of the campaign state machine. Transitions are strictly forward;
// Terminated is terminal.
type State int

const (
	Idle State = iota
	Launching
	Running
	Stopping
	Captured
	Terminated
)

func (s State) String() string {
	switch s {
	case Launching:
		return "launching"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Captured:
		return "captured"
	case Terminated:
		return "terminated"
	default:
		return "idle"
	}
}

const (
	pollInterval    = 10 * time.Second
	statsEveryTicks = 6 // one progress line per minute

	// ScreensSubdir receives raw pane dumps before teardown.
	ScreensSubdir = "screens"
	// CmdsFileName records every generated command line for audit.
	CmdsFileName = "fuzz.cmds"
	statsWindow  = "stats"
)

// Orchestrator runs the Idle→Launching→Running→Stopping→Captured→Terminated
// sequence. One instance per campaign; Run may be called once.
type Orchestrator struct {
	logger   *zap.Logger
	cfg      *config.AppConfig
	manifest *build.Manifest
	engine   fuzz.Engine
	merger   *dict.Merger

	state    State
	session  *tmux.Session
	plan     *fuzz.Plan
	watcher  *watchdog.FindingWatcher
	windows  []string
	watched  map[string]bool
	findings chan types.FindingMessage
}

func NewOrchestrator(logger *zap.Logger, cfg *config.AppConfig, manifest *build.Manifest, engines *fuzz.EngineSet, merger *dict.Merger) (*Orchestrator, error) {
	engine, err := engines.ForKind(cfg.FuzzerType)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		logger:   logger,
		cfg:      cfg,
		manifest: manifest,
		engine:   engine,
		merger:   merger,
		watched:  make(map[string]bool),
		findings: make(chan types.FindingMessage, 256),
	}, nil
}

// Run executes the whole campaign. There is no mid-run cancellation path
// other than the stop condition; once Stopping begins the sequence runs to
// completion uninterrupted.
func (o *Orchestrator) Run(ctx context.Context) error {
	tracer := telemetry.FromContext(ctx)

	cond, err := stopcond.Detect(os.Getenv)
	if err != nil {
		return err
	}
	o.logger.Info("stop condition selected", zap.Stringer("condition", cond))

	if err := o.launch(ctx, tracer); err != nil {
		return err
	}

	elapsed := o.monitor(ctx, cond, tracer)

	o.capture(tracer)
	o.terminate(tracer)

	return o.writeBack(cond, elapsed)
}

// launch allocates cores, generates commands and starts every instance in
// its own tmux window.
func (o *Orchestrator) launch(ctx context.Context, tracer telemetry.Tracer) error {
	o.state = Launching
	tracer.AddEvent("launching", telemetry.NewEventAttributes(nil))

	total := cores.UsableCores(o.cfg.FuzzCores, o.cfg.MaxCPUs)
	alloc, err := cores.Allocate(total, o.manifest, o.cfg.AuxCoreShare)
	if err != nil {
		return err
	}
	o.logger.Info("cores allocated",
		zap.Int("total", total), zap.Int("used", alloc.Total()))

	dictPath, err := o.merger.MergeToFile(o.manifest.Dictionaries,
		filepath.Join(o.cfg.SuiteDir, dict.MergedDictName))
	if err != nil {
		return err
	}

	inputDir := o.engine.InputDir(o.cfg.FuzzSyncDir)
	if o.engine.InitialSamplesRequired() {
		if err := corpus.EnsureInitialCorpus(inputDir); err != nil {
			return fmt.Errorf("campaign: failed to prepare initial corpus: %w", err)
		}
	}

	plan, err := o.engine.Generate(fuzz.GenParams{
		RunArgs:    o.cfg.RunArgs,
		RunEnv:     o.cfg.RunEnv,
		Manifest:   o.manifest,
		Allocation: alloc,
		TotalCores: total,
		TimeoutMS:  int(o.cfg.Timeout.Milliseconds()),
		InputDir:   inputDir,
		SyncDir:    o.cfg.FuzzSyncDir,
		DictPath:   dictPath,
	})
	if err != nil {
		return err
	}
	for _, tool := range plan.RequiredTools {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("campaign: %s is not installed: %w", tool, err)
		}
	}
	o.plan = plan

	if err := o.writeCmdsFile(plan); err != nil {
		return err
	}

	session, err := tmux.NewSession(o.logger)
	if err != nil {
		return err
	}
	o.session = session

	watcher, err := watchdog.NewFindingWatcher(ctx, o.findings, o.logger.Named("watchdog"))
	if err != nil {
		return fmt.Errorf("campaign: failed to start finding watcher: %w", err)
	}
	o.watcher = watcher

	for i, cmd := range plan.Commands {
		if i > 0 && o.cfg.StartInterval > 0 {
			time.Sleep(o.cfg.StartInterval)
		}
		o.logger.Info("starting fuzzer instance",
			zap.String("name", cmd.Name), zap.Int("core", cmd.Core),
			zap.Bool("primary", cmd.Primary), zap.String("cmd", cmd.Line))
		if err := session.Run(cmd.Name, cmd.Env, cmd.Line); err != nil {
			return fmt.Errorf("campaign: failed to start instance %s: %w", cmd.Name, err)
		}
		o.windows = append(o.windows, cmd.Name)
	}
	if plan.StatsCommand != "" {
		if err := session.Run(statsWindow, nil, plan.StatsCommand); err != nil {
			o.logger.Warn("failed to start stats window", zap.Error(err))
		} else {
			o.windows = append(o.windows, statsWindow)
		}
	}
	return nil
}

// monitor is the single-threaded cooperative polling loop. It wakes every
// tick, reads instance statistics, logs progress once a minute and
// evaluates the stop condition. It never blocks on instance completion.
// Returns the elapsed monitoring time.
func (o *Orchestrator) monitor(ctx context.Context, cond stopcond.Condition, tracer telemetry.Tracer) time.Duration {
	o.state = Running
	tracer.AddEvent("running", telemetry.NewEventAttributes(nil))

	start := time.Now()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	tickCount := 0
	for {
		select {
		case f, ok := <-o.findings:
			if !ok {
				o.findings = nil // stop selecting on the closed channel
				continue
			}
			o.logger.Info("new finding reported",
				zap.Stringer("kind", f.Kind),
				zap.String("instance", f.Instance),
				zap.String("path", f.Path))
			continue
		case <-ticker.C:
		}

		now := time.Now()
		o.registerFindingDirs()

		instStats, err := o.engine.LoadStats(o.cfg.FuzzSyncDir)
		if err != nil {
			// stats files appear some time after launch
			o.logger.Debug("statistics not loadable yet", zap.Error(err))
			continue
		}
		agg := stats.Merge(instStats)

		tickCount++
		if tickCount%statsEveryTicks == 0 {
			o.logger.Info(fmt.Sprintf("[%s] %s",
				stats.FormatHMS(now.Sub(start)), agg.String()))
		}

		if cond.Met(agg, now.Sub(start), now) {
			elapsed := now.Sub(start)
			o.logger.Info("stop condition met",
				zap.Stringer("condition", cond),
				zap.Duration("elapsed", elapsed))
			tracer.WithAttributes(telemetry.EmptySpanAttributes().
				WithExtraAttribute("execs", agg.Execs).
				WithExtraAttribute("paths", agg.Paths).
				WithExtraAttribute("crashes", agg.Crashes).
				WithExtraAttribute("hangs", agg.Hangs))
			return elapsed
		}
	}
}

// registerFindingDirs watches crash and hang directories as instances
// create them.
func (o *Orchestrator) registerFindingDirs() {
	for _, cmd := range o.plan.Commands {
		for _, sub := range []struct {
			name string
			kind types.FindingKind
		}{
			{"crashes", types.FindingCrash},
			{"hangs", types.FindingHang},
		} {
			dir := filepath.Join(o.cfg.FuzzSyncDir, cmd.Name, sub.name)
			if o.watched[dir] {
				continue
			}
			if _, err := os.Stat(dir); err != nil {
				continue
			}
			o.watched[dir] = true
			o.watcher.AddDir(dir, cmd.Name, sub.kind)
		}
	}
}

// capture dumps the raw pane contents of every window, control sequences
// included, before any process is affected.
func (o *Orchestrator) capture(tracer telemetry.Tracer) {
	o.state = Stopping
	tracer.AddEvent("stopping", telemetry.NewEventAttributes(nil))

	screensDir := filepath.Join(o.cfg.SuiteDir, ScreensSubdir)
	if err := os.MkdirAll(screensDir, 0755); err != nil {
		o.logger.Error("failed to create screens directory", zap.Error(err))
		return
	}
	for _, window := range o.windows {
		data, err := o.session.CapturePane(window)
		if err != nil {
			o.logger.Warn("failed to capture pane",
				zap.String("window", window), zap.Error(err))
			continue
		}
		path := filepath.Join(screensDir, window+".txt")
		if err := os.WriteFile(path, data, 0644); err != nil {
			o.logger.Warn("failed to write screen dump",
				zap.String("path", path), zap.Error(err))
		}
	}
	o.state = Captured
	tracer.AddEvent("captured", telemetry.NewEventAttributes(nil))
}

// terminate kills every fuzzer process and the supervising session. The
// kill is host-wide, not scoped to this campaign's instances; concurrent
// unrelated campaigns on the same host are not supported.
func (o *Orchestrator) terminate(tracer telemetry.Tracer) {
	tmux.KillHostWide(o.logger, o.plan.ProcessNames)
	o.state = Terminated
	tracer.AddEvent("terminated", telemetry.NewEventAttributes(nil))
}

// writeBack records the campaign outcome in the suite configuration for
// the reporting and reproduction tools.
func (o *Orchestrator) writeBack(cond stopcond.Condition, elapsed time.Duration) error {
	vars, err := config.LoadSuiteVars(o.cfg.SuiteDir)
	if err != nil {
		return err
	}
	vars.StopConditions = map[string]int{
		cond.Kind.String(): int(cond.Duration.Seconds()),
	}
	vars.FuzzTimeRealSeconds = int(elapsed.Seconds())
	vars.ReproduceSpecs = o.plan.ReproduceSpec
	return config.SaveSuiteVars(o.cfg.SuiteDir, vars)
}

func (o *Orchestrator) writeCmdsFile(plan *fuzz.Plan) error {
	var b strings.Builder
	for _, cmd := range plan.Commands {
		b.WriteString(cmd.Line)
		b.WriteByte('\n')
	}
	if plan.StatsCommand != "" {
		b.WriteString(plan.StatsCommand)
		b.WriteByte('\n')
	}
	path := filepath.Join(o.cfg.SuiteDir, CmdsFileName)
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("campaign: failed to write %s: %w", CmdsFileName, err)
	}
	return nil
}
