package fuzz

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"bugbane/internal/stats"
	"bugbane/internal/types"
)

// go-fuzz log lines:
// "2023/01/02 15:04:05 workers: 8, corpus: 102 (3s ago), crashers: 2, restarts: 1/9132, execs: 45661 (2280/sec), cover: 1234, uptime: 20s"
var goFuzzLogLine = regexp.MustCompile(`corpus:\s*(\d+)\s*\(([^)]+)\s+ago\),\s*crashers:\s*(\d+),.*execs:\s*(\d+)`)

// GoFuzzLogName is the campaign log of the single go-fuzz process.
const GoFuzzLogName = "gofuzz.log"

// GoFuzzEngine drives go-fuzz: a single coordinator process owning the
// whole core budget, so instances are workers rather than separate
// allocation entries.
type GoFuzzEngine struct {
	logger *zap.Logger
}

// NewGoFuzzEngine constructs the engine; the go-fuzz binary is checked
// only when a campaign launch generates commands.
func NewGoFuzzEngine(logger *zap.Logger) *GoFuzzEngine {
	return &GoFuzzEngine{logger}
}

func (e *GoFuzzEngine) Kind() types.FuzzerKind { return types.FuzzerGoFuzz }

func (e *GoFuzzEngine) InputDir(syncDir string) string {
	return filepath.Join(syncDir, "corpus")
}

func (e *GoFuzzEngine) InitialSamplesRequired() bool { return false }

func (e *GoFuzzEngine) OutputCorpusDirs(syncDir string) []string {
	return []string{filepath.Join(syncDir, "corpus")}
}

func (e *GoFuzzEngine) Generate(p GenParams) (*Plan, error) {
	archive, err := p.Manifest.Require(types.BuildGoFuzz)
	if err != nil {
		return nil, err
	}

	procs := p.TotalCores
	if procs < 1 {
		procs = 1
	}

	line := fmt.Sprintf("go-fuzz -bin=%s -workdir=%s -procs=%d 2>&1 | tee %s",
		archive.BinaryPath, p.SyncDir, procs,
		filepath.Join(p.SyncDir, GoFuzzLogName))

	replayBinary := archive.BinaryPath
	if basic, ok := p.Manifest.Get(types.BuildBasic); ok {
		replayBinary = basic.BinaryPath
	}

	return &Plan{
		Commands: []Command{{
			Name:    "gofuzz",
			Line:    line,
			Env:     sortedEnv(p.RunEnv),
			Core:    0,
			Build:   archive,
			Primary: true,
		}},
		ProcessNames:  []string{"go-fuzz"},
		RequiredTools: []string{"go-fuzz"},
		ReproduceSpec: types.ReproduceSpec{replayBinary: []string{"crashers"}},
	}, nil
}

func (e *GoFuzzEngine) LoadStats(syncDir string) ([]stats.InstanceStats, error) {
	f, err := os.Open(filepath.Join(syncDir, GoFuzzLogName))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var last []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := goFuzzLogLine.FindStringSubmatch(scanner.Text()); m != nil {
			last = m
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if last == nil {
		return nil, nil
	}

	in := stats.InstanceStats{Name: "gofuzz"}
	in.Paths, _ = strconv.ParseInt(last[1], 10, 64)
	in.Crashes, _ = strconv.ParseInt(last[3], 10, 64)
	in.Execs, _ = strconv.ParseInt(last[4], 10, 64)
	if ago, err := time.ParseDuration(last[2]); err == nil {
		in.LastPathTime = time.Now().Add(-ago)
	}
	return []stats.InstanceStats{in}, nil
}

// go-fuzz keeps its corpus minimal on its own.
func (e *GoFuzzEngine) MinimizeCommand(binary, runArgs, inDir, outDir string, timeoutMS int) []string {
	return nil
}
