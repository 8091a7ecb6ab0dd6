package build

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"bugbane/internal/types"
)

// ErrBuildNotFound is returned when a caller requires a build variant that
// the suite does not contain.
var ErrBuildNotFound = errors.New("build variant not found")

// DictionariesSubdir holds fuzzer dictionaries shipped with the suite.
// Membership is by file extension.
const DictionariesSubdir = "dictionaries"

const dictExt = ".dict"

// Manifest is the typed result of one discovery pass over a suite
// directory. Every other component consumes it instead of re-deriving
// kind-from-name logic. Immutable once returned.
type Manifest struct {
	SuiteDir     string
	Builds       map[types.BuildKind]types.BuildVariant
	Dictionaries []string // paths to *.dict files under dictionaries/
}

// Discover scans suiteDir for recognized build-variant subdirectories and
// classifies them. A variant directory without an executable binary is
// skipped. Absence of any particular variant is not an error here; callers
// with a mandatory variant use Require.
func Discover(suiteDir string, logger *zap.Logger) (*Manifest, error) {
	abs, err := filepath.Abs(suiteDir)
	if err != nil {
		return nil, fmt.Errorf("build discovery: %w", err)
	}

	m := &Manifest{
		SuiteDir: abs,
		Builds:   make(map[types.BuildKind]types.BuildVariant),
	}

	for _, kind := range types.AllBuildKinds {
		dir := filepath.Join(abs, string(kind))
		fi, err := os.Stat(dir)
		if err != nil || !fi.IsDir() {
			continue
		}
		binary, err := findBinary(dir)
		if err != nil {
			logger.Warn("build directory has no usable binary, skipping",
				zap.String("dir", dir), zap.Error(err))
			continue
		}
		m.Builds[kind] = types.BuildVariant{
			Kind:       kind,
			Dir:        dir,
			BinaryPath: binary,
		}
		logger.Debug("discovered build variant",
			zap.String("kind", string(kind)), zap.String("binary", binary))
	}

	m.Dictionaries = findDictionaries(filepath.Join(abs, DictionariesSubdir))
	if len(m.Dictionaries) > 0 {
		logger.Debug("discovered dictionaries", zap.Int("count", len(m.Dictionaries)))
	}

	return m, nil
}

// Get returns the variant of the given kind, if present.
func (m *Manifest) Get(kind types.BuildKind) (types.BuildVariant, bool) {
	v, ok := m.Builds[kind]
	return v, ok
}

// Require returns the variant of the given kind or ErrBuildNotFound.
func (m *Manifest) Require(kind types.BuildKind) (types.BuildVariant, error) {
	v, ok := m.Builds[kind]
	if !ok {
		return types.BuildVariant{}, fmt.Errorf("%w: %s under %s", ErrBuildNotFound, kind, m.SuiteDir)
	}
	return v, nil
}

// Kinds returns the discovered build kinds in a stable order.
func (m *Manifest) Kinds() []types.BuildKind {
	kinds := make([]types.BuildKind, 0, len(m.Builds))
	for k := range m.Builds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// findBinary picks the first executable regular file in dir, in lexical
// order for determinism.
func findBinary(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		p := filepath.Join(dir, name)
		fi, err := os.Stat(p)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		if fi.Mode().Perm()&0111 != 0 {
			return p, nil
		}
	}
	return "", fmt.Errorf("no executable file in %s", dir)
}

func findDictionaries(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var dicts []string
	for _, e := range entries {
		if e.Type().IsRegular() && filepath.Ext(e.Name()) == dictExt {
			dicts = append(dicts, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(dicts)
	return dicts
}
