package fuzz

import (
	"fmt"
	"reflect"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"bugbane/internal/build"
	"bugbane/internal/cores"
	"bugbane/internal/stats"
	"bugbane/internal/types"
)

// Command is one fuzzer instance invocation, run inside a supervised
// session pane. The input-path placeholder in the target arguments is left
// for the fuzzer to substitute per execution.
type Command struct {
	Name    string // instance name, doubles as the sync subdirectory
	Line    string // shell command line
	Env     []string
	Core    int // affinity hint, not an enforced partition
	Build   types.BuildVariant
	Primary bool // first instance of a cooperating engine
}

// Plan is everything the orchestrator needs to run a campaign with one
// engine: the instance commands, an optional stats pane command, the
// process names to kill at teardown, and the reproduce specs handed to the
// crash reproducer afterwards.
type Plan struct {
	Commands      []Command
	StatsCommand  string // empty when the engine has no stats viewer
	ProcessNames  []string
	RequiredTools []string // external binaries the launch needs on PATH
	ReproduceSpec types.ReproduceSpec
}

// GenParams parameterizes command generation.
type GenParams struct {
	RunArgs    string
	RunEnv     map[string]string
	Manifest   *build.Manifest
	Allocation cores.Allocation
	TotalCores int
	TimeoutMS  int
	InputDir   string
	SyncDir    string
	DictPath   string // empty when the suite ships no dictionaries
}

// Engine describes one fuzzing engine family. The set is closed; every
// implementation registers under its FuzzerKind.
type Engine interface {
	Kind() types.FuzzerKind

	// InputDir is where the engine reads its initial corpus relative to
	// the sync dir layout.
	InputDir(syncDir string) string

	// InitialSamplesRequired reports whether the engine refuses to start
	// with an empty input corpus.
	InitialSamplesRequired() bool

	// OutputCorpusDirs lists the directories a finished campaign left
	// test cases in, for corpus export.
	OutputCorpusDirs(syncDir string) []string

	// Generate produces the campaign plan for the discovered builds and
	// core allocation.
	Generate(p GenParams) (*Plan, error)

	// LoadStats reads the per-instance statistics the running campaign
	// writes under the sync dir.
	LoadStats(syncDir string) ([]stats.InstanceStats, error)

	// MinimizeCommand returns the argv of the external corpus minimizer
	// reading inDir into outDir, or nil when the engine has none.
	MinimizeCommand(binary, runArgs, inDir, outDir string, timeoutMS int) []string
}

// EngineSet resolves the configured fuzzer kind to its engine.
type EngineSet struct {
	logger  *zap.Logger
	engines map[types.FuzzerKind]Engine
}

type EngineSetParams struct {
	fx.In
	Logger  *zap.Logger
	Engines []Engine `group:"engines"`
}

func NewEngineSet(params EngineSetParams) *EngineSet {
	engines := make(map[types.FuzzerKind]Engine)
	for _, engine := range params.Engines {
		ev := reflect.ValueOf(engine)
		if ev.Kind() == reflect.Ptr && ev.IsNil() {
			continue // typed nil in the value group
		}
		engines[engine.Kind()] = engine
		params.Logger.Debug("fuzzer engine registered", zap.String("kind", string(engine.Kind())))
	}
	return &EngineSet{params.Logger, engines}
}

// ForKind returns the engine for the configured fuzzer kind.
func (s *EngineSet) ForKind(kind types.FuzzerKind) (Engine, error) {
	engine, ok := s.engines[kind]
	if !ok {
		return nil, fmt.Errorf("fuzzer engine %q is not available", kind)
	}
	return engine, nil
}

// EnginesModule wires every engine implementation into the engine set.
var EnginesModule = fx.Options(
	fx.Provide(fx.Annotate(NewAFLEngine, fx.As(new(Engine)), fx.ResultTags(`group:"engines"`))),
	fx.Provide(fx.Annotate(NewLibFuzzerEngine, fx.As(new(Engine)), fx.ResultTags(`group:"engines"`))),
	fx.Provide(fx.Annotate(NewGoFuzzEngine, fx.As(new(Engine)), fx.ResultTags(`group:"engines"`))),
	fx.Provide(NewEngineSet),
)
