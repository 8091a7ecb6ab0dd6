// Package corpus moves test inputs between external storage and the
// fuzzer sync directory. Every transfer deduplicates by content hash, and
// export optionally runs the engine's corpus minimizer so storage stays
// small.
package corpus

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"bugbane/config"
	"bugbane/internal/build"
	"bugbane/internal/fuzz"
	"bugbane/internal/types"
	"bugbane/internal/utils"
)

// Syncer implements corpus import and export for one suite. Callers must
// serialize invocations against the same storage location; the syncer does
// no locking of its own.
type Syncer struct {
	logger   *zap.Logger
	cfg      *config.AppConfig
	manifest *build.Manifest
	engine   fuzz.Engine
}

func NewSyncer(logger *zap.Logger, cfg *config.AppConfig, manifest *build.Manifest, engines *fuzz.EngineSet) (*Syncer, error) {
	engine, err := engines.ForKind(cfg.FuzzerType)
	if err != nil {
		return nil, err
	}
	return &Syncer{logger, cfg, manifest, engine}, nil
}

// Import copies samples from storage into the engine's input corpus.
// Sources are retained. storage may be a directory or a .tar.gz archive
// of seed files.
func (s *Syncer) Import(storage string) error {
	srcDir := storage
	if fi, err := os.Stat(storage); err == nil && !fi.IsDir() && utils.IsTarGz(storage) {
		unpacked, err := os.MkdirTemp("", "bugbane-seeds-*")
		if err != nil {
			return fmt.Errorf("corpus: failed to create unpack directory: %w", err)
		}
		defer os.RemoveAll(unpacked)
		if err := utils.UnpackTarGz(storage, unpacked); err != nil {
			return fmt.Errorf("corpus: %w", err)
		}
		srcDir = unpacked
	}
	dest := s.engine.InputDir(s.cfg.FuzzSyncDir)
	return s.sync([]string{srcDir}, dest, false)
}

// Export moves the campaign's output corpora into storageDir.
func (s *Syncer) Export(storageDir string) error {
	srcDirs := s.engine.OutputCorpusDirs(s.cfg.FuzzSyncDir)
	if len(srcDirs) == 0 {
		return fmt.Errorf("corpus: no output corpus under %s", s.cfg.FuzzSyncDir)
	}
	return s.sync(srcDirs, storageDir, true)
}

// sync is the two-phase pipeline: transfer-with-dedup into a staging
// directory, then minimize into the destination when possible, plain
// deduplicated copy otherwise.
func (s *Syncer) sync(srcDirs []string, destDir string, move bool) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("corpus: failed to create destination: %w", err)
	}

	staging, err := os.MkdirTemp("", "bugbane-corpus-*")
	if err != nil {
		return fmt.Errorf("corpus: failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	var transferred, skipped int
	for _, srcDir := range srcDirs {
		t, sk := s.transferDedup(srcDir, staging, destDir, move)
		transferred += t
		skipped += sk
	}
	s.logger.Info("corpus transfer complete",
		zap.Int("transferred", transferred), zap.Int("skipped", skipped))

	if transferred == 0 {
		return nil
	}

	if minimized, err := s.minimize(staging, destDir); err != nil {
		return err
	} else if minimized {
		return nil
	}
	_, _ = s.transferDedup(staging, destDir, destDir, false)
	return nil
}

// transferDedup walks srcDir and lands every sample in stagingDir under
// its content hash name, skipping content already present in staging or
// the final destination. Per-file failures are logged and skipped, never
// fatal.
func (s *Syncer) transferDedup(srcDir, stagingDir, destDir string, move bool) (transferred, skipped int) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		s.logger.Warn("corpus source not readable", zap.String("dir", srcDir), zap.Error(err))
		return 0, 0
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isCorpusSample(entry.Name()) {
			continue
		}
		srcPath := filepath.Join(srcDir, entry.Name())

		digest, err := hashFile(srcPath)
		if err != nil {
			s.logger.Warn("failed to hash corpus file, skipping",
				zap.String("path", srcPath), zap.Error(err))
			continue
		}

		stagingPath := filepath.Join(stagingDir, digest)
		if fileExists(stagingPath) || fileExists(filepath.Join(destDir, digest)) {
			skipped++
			if move {
				// content already stored; the duplicate source is spent
				os.Remove(srcPath)
			}
			continue
		}

		if err := utils.CopyFile(srcPath, stagingPath); err != nil {
			s.logger.Warn("failed to copy corpus file, skipping",
				zap.String("path", srcPath), zap.Error(err))
			continue
		}
		if move {
			os.Remove(srcPath)
		}
		transferred++
	}
	return transferred, skipped
}

// minimize runs the engine's corpus minimizer from staging into the
// destination. Returns false when no eligible binary or minimizer exists,
// in which case the caller falls back to a plain copy.
func (s *Syncer) minimize(stagingDir, destDir string) (bool, error) {
	binary := s.minimizeBinary()
	if binary == "" {
		return false, nil
	}
	argv := s.engine.MinimizeCommand(binary, s.cfg.RunArgs, stagingDir, destDir,
		int(s.cfg.Timeout.Milliseconds()))
	if len(argv) == 0 {
		return false, nil
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		s.logger.Warn("corpus minimizer not installed, falling back to copy",
			zap.String("tool", argv[0]))
		return false, nil
	}

	s.logger.Info("minimizing corpus",
		zap.String("binary", binary), zap.Strings("command", argv))
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), envPairs(s.cfg.RunEnv)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("corpus: minimizer failed: %w: %s", err, string(out))
	}
	return true, nil
}

// minimizeBinary prefers the laf-instrumented build, then any other
// fuzzable build.
func (s *Syncer) minimizeBinary() string {
	if v, ok := s.manifest.Get(types.BuildLAF); ok {
		return v.BinaryPath
	}
	for _, kind := range s.manifest.Kinds() {
		if !kind.IsFuzzable() {
			continue
		}
		if v, ok := s.manifest.Get(kind); ok {
			return v.BinaryPath
		}
	}
	return ""
}

// EnsureInitialCorpus creates inputDir and seeds it with one sample when
// the engine cannot start from an empty corpus.
func EnsureInitialCorpus(inputDir string) error {
	if err := os.MkdirAll(inputDir, 0755); err != nil {
		return err
	}
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			return nil
		}
	}
	return os.WriteFile(filepath.Join(inputDir, "1"), []byte("12345"), 0644)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// isCorpusSample filters fuzzer bookkeeping files out of a queue or
// corpus directory.
func isCorpusSample(name string) bool {
	return name != "README.txt" && name[0] != '.'
}

func envPairs(m map[string]string) []string {
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, k+"="+v)
	}
	return pairs
}
