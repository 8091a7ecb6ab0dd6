package stats

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseKeyValue reads "key : value" pairs line by line, the format AFL-style
// fuzzers use for their fuzzer_stats files. Malformed lines are skipped.
// Returns an error only on an unexpected I/O error.
func ParseKeyValue(r io.Reader) (map[string]string, error) {
	kv := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		kv[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	return kv, nil
}

// IntValue returns the first present key parsed as int64. Fuzzer versions
// renamed several stats keys over time, so callers pass all spellings.
func IntValue(kv map[string]string, keys ...string) (int64, bool) {
	for _, key := range keys {
		v, ok := kv[key]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return n, true
		}
	}
	return 0, false
}
