package dict

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// MergedDictName is written into the suite directory before launch and
// passed to every fuzzer instance.
const MergedDictName = "merged.dict"

type Merger struct {
	logger *zap.Logger
}

func NewMerger(logger *zap.Logger) *Merger {
	return &Merger{logger}
}

// MergeToFile merges the discovered dictionary files into outPath,
// deduplicating entries and dropping blank lines and comments. Returns the
// empty string when there are no dictionaries: the campaign then runs
// without one.
func (m *Merger) MergeToFile(dictPaths []string, outPath string) (string, error) {
	if len(dictPaths) == 0 {
		return "", nil
	}

	lineSet := make(map[string]struct{})
	var finalLines []string
	for _, path := range dictPaths {
		content, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read dictionary %s: %w", path, err)
		}
		for _, line := range strings.Split(string(content), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if _, ok := lineSet[line]; !ok {
				lineSet[line] = struct{}{}
				finalLines = append(finalLines, line)
			}
		}
	}

	if err := os.WriteFile(outPath, []byte(strings.Join(finalLines, "\n")+"\n"), 0644); err != nil {
		return "", fmt.Errorf("failed to write merged dictionary %s: %w", outPath, err)
	}

	m.logger.Info("merged dictionaries",
		zap.Int("files", len(dictPaths)),
		zap.Int("entries", len(finalLines)),
		zap.String("path", outPath))
	return outPath, nil
}
