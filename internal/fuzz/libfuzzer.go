package fuzz

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"bugbane/internal/stats"
	"bugbane/internal/types"
)

// libFuzzer job lines: "#12345  NEW    cov: 61 ft: 102 corp: 12/340b ..."
var libFuzzerStatLine = regexp.MustCompile(`^#(\d+)\s+(?:NEW|REDUCE|pulse|INITED|DONE)\b.*\bcorp:\s*(\d+)`)

// LibFuzzerEngine drives libFuzzer-class targets: one process per build
// variant, parallelized with -jobs/-workers over that variant's cores, all
// sharing one corpus directory.
type LibFuzzerEngine struct {
	logger *zap.Logger
}

// The target binaries embed the engine, so there is no external tool to
// probe for.
func NewLibFuzzerEngine(logger *zap.Logger) *LibFuzzerEngine {
	return &LibFuzzerEngine{logger}
}

func (e *LibFuzzerEngine) Kind() types.FuzzerKind { return types.FuzzerLibFuzzer }

func (e *LibFuzzerEngine) InputDir(syncDir string) string {
	return filepath.Join(syncDir, "corpus")
}

func (e *LibFuzzerEngine) InitialSamplesRequired() bool { return false }

func (e *LibFuzzerEngine) OutputCorpusDirs(syncDir string) []string {
	return []string{filepath.Join(syncDir, "corpus")}
}

func (e *LibFuzzerEngine) Generate(p GenParams) (*Plan, error) {
	if _, err := p.Manifest.Require(types.BuildBasic); err != nil {
		return nil, err
	}

	corpusDir := e.InputDir(p.SyncDir)
	plan := &Plan{ReproduceSpec: make(types.ReproduceSpec)}

	for _, kind := range aflLaunchOrder {
		coreList, ok := p.Allocation[kind]
		if !ok || len(coreList) == 0 {
			continue
		}
		variant, ok := p.Manifest.Get(kind)
		if !ok {
			continue
		}

		name := string(kind)
		workDir := filepath.Join(p.SyncDir, name)
		jobs := len(coreList)

		args := []string{
			variant.BinaryPath,
			fmt.Sprintf("-artifact_prefix=%s/", workDir),
			fmt.Sprintf("-jobs=%d", jobs),
			fmt.Sprintf("-workers=%d", jobs),
			"-print_final_stats=1",
			"-rss_limit_mb=0",
		}
		if p.TimeoutMS > 0 {
			secs := p.TimeoutMS / 1000
			if secs < 1 {
				secs = 1
			}
			args = append(args, fmt.Sprintf("-timeout=%d", secs))
		}
		if p.DictPath != "" {
			args = append(args, "-dict="+p.DictPath)
		}
		args = append(args, corpusDir)

		// cd first: libFuzzer writes its fuzz-<job>.log files to the
		// working directory.
		line := fmt.Sprintf("mkdir -p %s && cd %s && %s", workDir, workDir, strings.Join(args, " "))

		plan.Commands = append(plan.Commands, Command{
			Name:    name,
			Line:    line,
			Env:     sortedEnv(p.RunEnv),
			Core:    coreList[0],
			Build:   variant,
			Primary: len(plan.Commands) == 0,
		})
		plan.ProcessNames = append(plan.ProcessNames, filepath.Base(variant.BinaryPath))
		plan.ReproduceSpec[variant.BinaryPath] = append(plan.ReproduceSpec[variant.BinaryPath], name)
	}

	if len(plan.Commands) == 0 {
		return nil, fmt.Errorf("libfuzzer: core allocation produced no instances")
	}
	return plan, nil
}

func (e *LibFuzzerEngine) LoadStats(syncDir string) ([]stats.InstanceStats, error) {
	entries, err := os.ReadDir(syncDir)
	if err != nil {
		return nil, err
	}

	lastFind := newestFileTime(filepath.Join(syncDir, "corpus"))

	var out []stats.InstanceStats
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == "corpus" {
			continue
		}
		workDir := filepath.Join(syncDir, entry.Name())
		in := stats.InstanceStats{Name: entry.Name(), LastPathTime: lastFind}

		logs, _ := filepath.Glob(filepath.Join(workDir, "fuzz-*.log"))
		for _, logPath := range logs {
			execs, corp, err := parseLibFuzzerLog(logPath)
			if err != nil {
				e.logger.Debug("unreadable libfuzzer log", zap.String("path", logPath), zap.Error(err))
				continue
			}
			in.Execs += execs
			if corp > in.Paths {
				in.Paths = corp
			}
		}

		in.Crashes = int64(countGlob(filepath.Join(workDir, "crash-*")))
		in.Hangs = int64(countGlob(filepath.Join(workDir, "timeout-*")) + countGlob(filepath.Join(workDir, "oom-*")))
		out = append(out, in)
	}
	return out, nil
}

func (e *LibFuzzerEngine) MinimizeCommand(binary, runArgs, inDir, outDir string, timeoutMS int) []string {
	return []string{binary, "-merge=1", outDir, inDir}
}

// parseLibFuzzerLog returns the execution count and corpus size from the
// last progress line of one job log.
func parseLibFuzzerLog(path string) (execs, corp int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := libFuzzerStatLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		execs, _ = strconv.ParseInt(m[1], 10, 64)
		corp, _ = strconv.ParseInt(m[2], 10, 64)
	}
	return execs, corp, scanner.Err()
}

func countGlob(pattern string) int {
	matches, _ := filepath.Glob(pattern)
	return len(matches)
}

// newestFileTime returns the most recent modification time of any regular
// file directly under dir, or the zero time.
func newestFileTime(dir string) time.Time {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}
	}
	var newest time.Time
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest
}
