// Package reproduce replays crash and hang samples found during a fuzzing
// campaign against the built binaries, classifies and deduplicates the
// results and writes the aggregated results artifact.
package reproduce

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bugbane/config"
	"bugbane/internal/fuzz"
	"bugbane/internal/stats"
)

// ResultsFileName is the aggregated reproduction artifact. External
// reporting and defect-tracker tooling consume it; field names must stay
// stable.
const ResultsFileName = "bb_results.json"

// BugSamplesSubdir holds the first reproducing sample of each
// deduplicated finding.
const BugSamplesSubdir = "bug_samples"

var timeNow = time.Now

// Record is one deduplicated finding. Immutable once serialized.
type Record struct {
	Title      string            `json:"title"`
	Binary     string            `json:"binary"`
	Sample     string            `json:"sample"`
	Function   string            `json:"function,omitempty"`
	File       string            `json:"file,omitempty"`
	Line       int               `json:"line,omitempty"`
	Command    string            `json:"command"`
	Output     string            `json:"output"`
	Env        map[string]string `json:"env,omitempty"`
	Reproduced bool              `json:"reproduced"`
	Attempts   int               `json:"attempts"`
}

// ResultStats is the merged campaign statistics block of the artifact.
type ResultStats struct {
	Execs               int64 `json:"execs"`
	Crashes             int64 `json:"crashes"`
	Hangs               int64 `json:"hangs"`
	CorpusSize          int64 `json:"corpus_size"`
	SecondsWithoutPaths int64 `json:"seconds_without_paths"`
}

// Results is the full bb_results.json document.
type Results struct {
	FuzzerType string      `json:"fuzzer_type"`
	Stats      ResultStats `json:"fuzz_stats"`
	Crashes    []Record    `json:"crashes"`
	Hangs      []Record    `json:"hangs"`
}

// Manager walks the reproduce specs and produces the results artifact.
type Manager struct {
	logger *zap.Logger
	cfg    *config.AppConfig
	engine fuzz.Engine

	mu      sync.Mutex
	byKey   map[string]*Record
	isHang  map[string]bool
}

func NewManager(logger *zap.Logger, cfg *config.AppConfig, engines *fuzz.EngineSet) (*Manager, error) {
	engine, err := engines.ForKind(cfg.FuzzerType)
	if err != nil {
		return nil, err
	}
	return &Manager{
		logger: logger,
		cfg:    cfg,
		engine: engine,
		byKey:  make(map[string]*Record),
		isHang: make(map[string]bool),
	}, nil
}

// Run reproduces every sample named by the reproduce specs, deduplicates
// the findings and writes the results artifact to the suite directory.
func (m *Manager) Run(ctx context.Context) error {
	if len(m.cfg.ReproduceSpecs) == 0 {
		return fmt.Errorf("reproduce: no reproduce_specs configured; run the fuzz tool first")
	}

	type job struct {
		binary string
		sample string
		hang   bool
	}
	var jobs []job
	for binary, subdirs := range m.cfg.ReproduceSpecs {
		if _, err := os.Stat(binary); err != nil {
			return fmt.Errorf("reproduce: binary %s is not available: %w", binary, err)
		}
		for _, subdir := range subdirs {
			for _, coll := range []struct {
				glob string
				hang bool
			}{
				{"crash*", false},
				{"hang*", true},
			} {
				dirs, _ := filepath.Glob(filepath.Join(m.cfg.FuzzSyncDir, subdir, coll.glob))
				for _, dir := range dirs {
					for _, sample := range listSamples(dir) {
						jobs = append(jobs, job{binary, sample, coll.hang})
					}
				}
			}
		}
	}
	m.logger.Info("reproducing findings",
		zap.Int("samples", len(jobs)), zap.Int("reruns", m.cfg.NumReruns))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.FuzzCores)
	for _, j := range jobs {
		g.Go(func() error {
			rec, err := m.reproduceSample(ctx, j.binary, j.sample, j.hang)
			if err != nil {
				// a broken tool aborts the pass, a broken sample does not
				if errors.Is(err, ErrToolStart) {
					return err
				}
				m.logger.Warn("sample reproduction failed, skipping",
					zap.String("sample", j.sample), zap.Error(err))
				return nil
			}
			return m.record(rec, j.hang)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return m.writeResults()
}

// reproduceSample runs the detect-then-extract sequence for one sample,
// retrying up to the configured budget until a usable crash site is
// obtained. The returned record reports how many attempts were used and
// whether reproduction succeeded.
func (m *Manager) reproduceSample(ctx context.Context, binary, sample string, expectHang bool) (Record, error) {
	argv := buildArgv(binary, m.cfg.RunArgs, sample)
	rec := Record{
		Binary:  binary,
		Sample:  sample,
		Env:     m.cfg.RunEnv,
		Command: strings.Join(argv, " "),
	}

	var lastOutcome runOutcome
	for attempt := 1; attempt <= m.cfg.NumReruns; attempt++ {
		rec.Attempts = attempt

		runArgv := argv
		if expectHang {
			// a hang only yields a backtrace under a debugger interrupted
			// at the timeout boundary
			runArgv = gdbArgv(argv)
		}
		outcome, err := runOnce(ctx, runArgv, m.cfg.RunEnv, m.cfg.HangTimeout)
		if err != nil {
			return rec, err
		}

		if outcome.Crash {
			if site := extractSite(outcome.Output); site.Resolved() {
				return m.resolved(rec, outcome, site), nil
			}
			if !expectHang {
				// crash confirmed but no frames in the output; one
				// escalation under the debugger before burning the next
				// attempt
				dbgOutcome, err := runOnce(ctx, gdbArgv(argv), m.cfg.RunEnv, m.cfg.HangTimeout)
				if err == nil && dbgOutcome.Crash {
					if site := extractSite(dbgOutcome.Output); site.Resolved() {
						return m.resolved(rec, dbgOutcome, site), nil
					}
				}
			}
			lastOutcome = outcome
			continue
		}

		if outcome.Hang {
			if site := extractSite(outcome.Output); site.Resolved() {
				out := outcome
				out.Hang = true
				r := m.resolved(rec, out, site)
				r.Title = extractTitle(out.Output, true)
				return r, nil
			}
			lastOutcome = outcome
			continue
		}

		// clean exit: did not reproduce on this attempt
		lastOutcome = outcome
	}

	// retry budget exhausted without a usable site
	rec.Reproduced = false
	rec.Output = lastOutcome.Output
	rec.Title = extractTitle(lastOutcome.Output, expectHang || lastOutcome.Hang)
	m.logger.Warn("retry budget exhausted without a crash site",
		zap.String("sample", sample), zap.Int("attempts", rec.Attempts))
	return rec, nil
}

func (m *Manager) resolved(rec Record, outcome runOutcome, site Site) Record {
	rec.Reproduced = true
	rec.Output = outcome.Output
	rec.Function = site.Function
	rec.File = site.File
	rec.Line = site.Line
	rec.Title = extractTitle(outcome.Output, outcome.Hang)
	return rec
}

// record merges one finding into the dedup map and persists the first
// reproducing sample per group. Serialized: reproduction runs in
// parallel but the map and bug-sample writes do not.
func (m *Manager) record(rec Record, hang bool) error {
	key := dedupKey(Site{rec.Function, rec.File, rec.Line}, rec.Title)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byKey[key]; ok {
		// a reproducing record replaces a non-reproducing duplicate;
		// anything else is already covered
		if existing.Reproduced || !rec.Reproduced {
			return nil
		}
	} else {
		m.isHang[key] = hang
	}
	m.byKey[key] = &rec

	if !rec.Reproduced {
		return nil
	}
	saved, err := m.persistSample(rec.Sample)
	if err != nil {
		return err
	}
	m.byKey[key].Sample = saved
	m.logger.Info("new unique finding",
		zap.String("title", rec.Title), zap.String("sample", saved))
	return nil
}

func (m *Manager) persistSample(sample string) (string, error) {
	data, err := os.ReadFile(sample)
	if err != nil {
		return "", fmt.Errorf("reproduce: failed to read sample: %w", err)
	}
	dir := filepath.Join(m.cfg.SuiteDir, BugSamplesSubdir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("reproduce: failed to create bug samples dir: %w", err)
	}
	sum := md5.Sum(data)
	dest := filepath.Join(dir, hex.EncodeToString(sum[:]))
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return "", fmt.Errorf("reproduce: failed to persist sample: %w", err)
	}
	return dest, nil
}

func (m *Manager) writeResults() error {
	instStats, err := m.engine.LoadStats(m.cfg.FuzzSyncDir)
	if err != nil {
		m.logger.Warn("failed to load fuzzer statistics for artifact", zap.Error(err))
	}
	agg := stats.Merge(instStats)

	results := Results{
		FuzzerType: string(m.cfg.FuzzerType),
		Stats: ResultStats{
			Execs:               agg.Execs,
			Crashes:             agg.Crashes,
			Hangs:               agg.Hangs,
			CorpusSize:          agg.Paths,
			SecondsWithoutPaths: int64(agg.TimeSinceLastFind(timeNow()).Seconds()),
		},
		Crashes: []Record{},
		Hangs:   []Record{},
	}

	keys := make([]string, 0, len(m.byKey))
	for k := range m.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if m.isHang[k] {
			results.Hangs = append(results.Hangs, *m.byKey[k])
		} else {
			results.Crashes = append(results.Crashes, *m.byKey[k])
		}
	}

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("reproduce: failed to serialize results: %w", err)
	}
	path := filepath.Join(m.cfg.SuiteDir, ResultsFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("reproduce: failed to write results artifact: %w", err)
	}
	m.logger.Info("results artifact written", zap.String("path", path),
		zap.Int("crashes", len(results.Crashes)), zap.Int("hangs", len(results.Hangs)))
	return nil
}

func listSamples(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || name == "README.txt" || name[0] == '.' {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	return out
}
