package fuzz

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"bugbane/internal/stats"
	"bugbane/internal/types"
)

const aflDefaultTimeoutMS = 1000

// aflLaunchOrder is the order instances are created in: the basic build
// first, so the primary (-M) instance is the sanitizer-free one with the
// highest throughput.
var aflLaunchOrder = []types.BuildKind{
	types.BuildBasic,
	types.BuildASAN, types.BuildUBSAN, types.BuildCFISAN,
	types.BuildTSAN, types.BuildLSAN, types.BuildMSAN,
	types.BuildLAF, types.BuildCmplog,
}

// AFLEngine drives AFL-class fuzzers in the deferred-fork-server parallel
// mode: one master instance, the rest secondaries syncing through the
// shared output directory.
type AFLEngine struct {
	logger *zap.Logger
}

// NewAFLEngine constructs the engine without probing for afl-fuzz:
// reproduction and corpus hosts carry only gdb and the target binaries.
// Generate checks the tool before launching a campaign.
func NewAFLEngine(logger *zap.Logger) *AFLEngine {
	return &AFLEngine{logger}
}

func (e *AFLEngine) Kind() types.FuzzerKind { return types.FuzzerAFL }

func (e *AFLEngine) InputDir(syncDir string) string {
	return filepath.Join(filepath.Dir(syncDir), "in")
}

func (e *AFLEngine) InitialSamplesRequired() bool { return true }

func (e *AFLEngine) OutputCorpusDirs(syncDir string) []string {
	queues, _ := filepath.Glob(filepath.Join(syncDir, "*", "queue"))
	return queues
}

func (e *AFLEngine) Generate(p GenParams) (*Plan, error) {
	basic, err := p.Manifest.Require(types.BuildBasic)
	if err != nil {
		return nil, err
	}

	timeoutMS := p.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = aflDefaultTimeoutMS
	}

	cmplogBinary := ""
	if v, ok := p.Manifest.Get(types.BuildCmplog); ok {
		cmplogBinary = v.BinaryPath
	}

	plan := &Plan{
		ProcessNames:  []string{"afl-fuzz"},
		RequiredTools: []string{"afl-fuzz"},
		ReproduceSpec: make(types.ReproduceSpec),
	}
	if _, err := exec.LookPath("afl-whatsup"); err == nil {
		plan.StatsCommand = fmt.Sprintf("watch -t -n 5 afl-whatsup -s %s", p.SyncDir)
	}

	for _, kind := range aflLaunchOrder {
		coreList, ok := p.Allocation[kind]
		if !ok {
			continue
		}
		variant, ok := p.Manifest.Get(kind)
		if kind == types.BuildCmplog || !ok {
			// cmplog instances run the basic binary and feed the cmplog
			// build to afl-fuzz via -c.
			variant = basic
		}

		for i, core := range coreList {
			name := fmt.Sprintf("%s%d", kind, i+1)
			primary := len(plan.Commands) == 0

			args := []string{"afl-fuzz", "-i", p.InputDir, "-o", p.SyncDir, "-m", "none"}
			if primary {
				args = append(args, "-M", name)
			} else {
				args = append(args, "-S", name)
			}
			args = append(args, "-t", fmt.Sprintf("%d+", timeoutMS))
			if p.DictPath != "" {
				args = append(args, "-x", p.DictPath)
			}
			if kind == types.BuildCmplog && cmplogBinary != "" {
				args = append(args, "-c", cmplogBinary)
			}
			args = append(args, "--", variant.BinaryPath)

			line := strings.Join(args, " ")
			if p.RunArgs != "" {
				line += " " + p.RunArgs
			}

			plan.Commands = append(plan.Commands, Command{
				Name:    name,
				Line:    line,
				Env:     aflEnv(primary, p.RunEnv),
				Core:    core,
				Build:   variant,
				Primary: primary,
			})
			plan.ReproduceSpec[variant.BinaryPath] = append(plan.ReproduceSpec[variant.BinaryPath], name)
		}
	}

	if len(plan.Commands) == 0 {
		return nil, fmt.Errorf("afl: core allocation produced no instances")
	}
	return plan, nil
}

func (e *AFLEngine) LoadStats(syncDir string) ([]stats.InstanceStats, error) {
	entries, err := os.ReadDir(syncDir)
	if err != nil {
		return nil, err
	}

	var out []stats.InstanceStats
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		statsPath := filepath.Join(syncDir, entry.Name(), "fuzzer_stats")
		f, err := os.Open(statsPath)
		if err != nil {
			continue // instance not calibrated yet
		}
		kv, err := stats.ParseKeyValue(f)
		f.Close()
		if err != nil {
			e.logger.Warn("failed to parse fuzzer_stats",
				zap.String("path", statsPath), zap.Error(err))
			continue
		}

		in := stats.InstanceStats{Name: entry.Name()}
		in.Execs, _ = stats.IntValue(kv, "execs_done")
		in.Paths, _ = stats.IntValue(kv, "corpus_count", "paths_total")
		in.Crashes, _ = stats.IntValue(kv, "saved_crashes", "unique_crashes")
		in.Hangs, _ = stats.IntValue(kv, "saved_hangs", "unique_hangs")
		if ts, ok := stats.IntValue(kv, "last_find", "last_path"); ok && ts > 0 {
			in.LastPathTime = time.Unix(ts, 0)
		}
		out = append(out, in)
	}
	return out, nil
}

func (e *AFLEngine) MinimizeCommand(binary, runArgs, inDir, outDir string, timeoutMS int) []string {
	if timeoutMS <= 0 {
		timeoutMS = aflDefaultTimeoutMS
	}
	args := []string{
		"afl-cmin",
		"-i", inDir,
		"-o", outDir,
		"-m", "none",
		"-t", fmt.Sprintf("%d", timeoutMS),
		"--", binary,
	}
	if runArgs != "" {
		args = append(args, strings.Fields(runArgs)...)
	}
	return args
}

// aflEnv is the AFL environment for campaign instances. The primary
// instance additionally performs a final sync on termination so its queue
// holds every unique test case.
func aflEnv(primary bool, runEnv map[string]string) []string {
	env := []string{
		"AFL_NO_UI=1",
		"AFL_I_DONT_CARE_ABOUT_MISSING_CRASHES=1",
		"AFL_SKIP_CPUFREQ=1",
		"AFL_TRY_AFFINITY=1",
		"AFL_FAST_CAL=1",
		"AFL_CMPLOG_ONLY_NEW=1",
		"AFL_FORKSRV_INIT_TMOUT=30000",
		"AFL_IGNORE_PROBLEMS=1",
		"AFL_IGNORE_SEED_PROBLEMS=1",
		"AFL_IGNORE_UNKNOWN_ENVS=1",
	}
	if primary {
		env = append(env, "AFL_FINAL_SYNC=1")
	}
	return append(env, sortedEnv(runEnv)...)
}

func sortedEnv(runEnv map[string]string) []string {
	if len(runEnv) == 0 {
		return nil
	}
	keys := make([]string, 0, len(runEnv))
	for k := range runEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+runEnv[k])
	}
	return env
}
