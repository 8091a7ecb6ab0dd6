package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"bugbane/internal/types"
)

// Default resource limits. FuzzCores is the developer-provided budget from
// the suite config, MaxCPUs the operator cap from the command line; the
// hardware core count bounds both.
const (
	DefaultFuzzCores    = 8
	DefaultMaxCPUs      = 16
	DefaultNumReruns    = 3
	DefaultHangTimeout  = 30 * time.Second
	DefaultAuxCoreShare = 10 // percent of remaining cores for laf/cmplog each
)

// AppConfig is the fully validated configuration shared by the campaign
// tools. Read-only after Load.
type AppConfig struct {
	SuiteDir    string
	ServiceName string
	LogLevel    string

	FuzzerType   types.FuzzerKind
	Sanitizers   []string
	CoverageType types.CoverageKind

	RunArgs string            // may contain the @@ input placeholder
	RunEnv  map[string]string // environment overrides for the target
	Timeout time.Duration     // per-run timeout of the target

	FuzzCores    int
	MaxCPUs      int
	AuxCoreShare int

	SrcRoot     string // advisory, need not exist on disk
	FuzzSyncDir string // absolute; default <suite>/out

	ReproduceSpecs types.ReproduceSpec

	StartInterval time.Duration // delay between fuzzer instance launches
	NumReruns     int           // crash reproduction retry budget
	HangTimeout   time.Duration // reproduction hang classification bound
}

// Knobs are the command-line level settings merged into AppConfig.
// Zero values fall back to defaults.
type Knobs struct {
	SuiteDir      string
	MaxCPUs       int
	NumReruns     int
	HangTimeoutMS int
	StartInterval time.Duration
	Verbose       bool
}

// Load reads the suite configuration file, applies environment and
// command-line settings and validates the result. A missing or invalid
// required field is an error naming the field; nothing is silently
// defaulted that the suite author must decide.
func Load(knobs Knobs) (*AppConfig, error) {
	godotenv.Load()

	if knobs.SuiteDir == "" {
		return nil, fmt.Errorf("config: suite directory is required")
	}
	suiteDir, err := filepath.Abs(knobs.SuiteDir)
	if err != nil {
		return nil, fmt.Errorf("config: bad suite directory: %w", err)
	}
	if fi, err := os.Stat(suiteDir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("config: suite directory %s does not exist", suiteDir)
	}

	vars, err := LoadSuiteVars(suiteDir)
	if err != nil {
		return nil, err
	}

	if vars.FuzzerType == "" {
		return nil, fmt.Errorf("config: required field fuzzer_type is missing")
	}
	fuzzerType, err := types.ParseFuzzerKind(vars.FuzzerType)
	if err != nil {
		return nil, fmt.Errorf("config: bad fuzzer_type: %w", err)
	}

	var coverageType types.CoverageKind
	if vars.CoverageType != "" {
		coverageType, err = types.ParseCoverageKind(vars.CoverageType)
		if err != nil {
			return nil, fmt.Errorf("config: bad coverage_type: %w", err)
		}
	}

	if vars.Timeout < 0 {
		return nil, fmt.Errorf("config: field timeout must be non-negative, got %d", vars.Timeout)
	}

	fuzzCores := DefaultFuzzCores
	if vars.FuzzCores != nil {
		if *vars.FuzzCores < 1 {
			return nil, fmt.Errorf("config: field fuzz_cores must be positive, got %d", *vars.FuzzCores)
		}
		fuzzCores = *vars.FuzzCores
	}

	syncDir := vars.FuzzSyncDir
	if syncDir == "" {
		syncDir = "out"
	}
	if !filepath.IsAbs(syncDir) {
		syncDir = filepath.Join(suiteDir, syncDir)
	}

	cfg := &AppConfig{
		SuiteDir:       suiteDir,
		ServiceName:    envOr("SERVICE_NAME", "bugbane"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		FuzzerType:     fuzzerType,
		Sanitizers:     vars.Sanitizers,
		CoverageType:   coverageType,
		RunArgs:        vars.RunArgs,
		RunEnv:         vars.RunEnv,
		Timeout:        time.Duration(vars.Timeout) * time.Millisecond,
		FuzzCores:      fuzzCores,
		MaxCPUs:        DefaultMaxCPUs,
		AuxCoreShare:   parseIntEnv("FUZZ_AUX_CORE_SHARE", DefaultAuxCoreShare),
		SrcRoot:        vars.SrcRoot,
		FuzzSyncDir:    syncDir,
		ReproduceSpecs: vars.ReproduceSpecs,
		StartInterval:  knobs.StartInterval,
		NumReruns:      DefaultNumReruns,
		HangTimeout:    DefaultHangTimeout,
	}

	if knobs.MaxCPUs > 0 {
		cfg.MaxCPUs = knobs.MaxCPUs
	}
	if knobs.NumReruns > 0 {
		cfg.NumReruns = knobs.NumReruns
	}
	if knobs.HangTimeoutMS > 0 {
		cfg.HangTimeout = time.Duration(knobs.HangTimeoutMS) * time.Millisecond
	}
	if knobs.Verbose {
		cfg.LogLevel = "debug"
	}

	return cfg, nil
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func parseIntEnv(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}
