package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"bugbane/internal/types"
)

// SuiteVarsFileName is the per-suite configuration file, produced by the
// build step and updated by the campaign tools.
const SuiteVarsFileName = "bugbane.yaml"

// SuiteVars mirrors the on-disk suite configuration. Field names are part
// of the contract with the external build and reporting tools.
type SuiteVars struct {
	FuzzerType     string              `yaml:"fuzzer_type"`
	Sanitizers     []string            `yaml:"sanitizers,omitempty"`
	CoverageType   string              `yaml:"coverage_type,omitempty"`
	RunArgs        string              `yaml:"run_args,omitempty"`
	RunEnv         map[string]string   `yaml:"run_env,omitempty"`
	Timeout        int                 `yaml:"timeout,omitempty"` // milliseconds
	FuzzCores      *int                `yaml:"fuzz_cores,omitempty"`
	SrcRoot        string              `yaml:"src_root,omitempty"`
	FuzzSyncDir    string              `yaml:"fuzz_sync_dir,omitempty"`
	ReproduceSpecs types.ReproduceSpec `yaml:"reproduce_specs,omitempty"`

	// Written back after a campaign for the reporting tools.
	StopConditions      map[string]int `yaml:"stop_conditions,omitempty"`
	FuzzTimeRealSeconds int            `yaml:"fuzz_time_real_seconds,omitempty"`
}

// LoadSuiteVars reads <suiteDir>/bugbane.yaml.
func LoadSuiteVars(suiteDir string) (*SuiteVars, error) {
	p := filepath.Join(suiteDir, SuiteVarsFileName)
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read suite file %s: %w", p, err)
	}
	var vars SuiteVars
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return nil, fmt.Errorf("config: failed to parse suite file %s: %w", p, err)
	}
	return &vars, nil
}

// SaveSuiteVars writes the suite configuration back, preserving the field
// names the external report and submission tools read.
func SaveSuiteVars(suiteDir string, vars *SuiteVars) error {
	data, err := yaml.Marshal(vars)
	if err != nil {
		return fmt.Errorf("config: failed to serialize suite vars: %w", err)
	}
	p := filepath.Join(suiteDir, SuiteVarsFileName)
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("config: failed to write suite file %s: %w", p, err)
	}
	return nil
}
