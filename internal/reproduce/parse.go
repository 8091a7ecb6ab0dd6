package reproduce

import (
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/maruel/panicparse/stack"
)

// Site is the resolved source location of a finding. Findings sharing a
// site are the same bug regardless of which sample triggered them.
type Site struct {
	Function string
	File     string
	Line     int
}

func (s Site) Resolved() bool {
	return s.Function != "" || s.File != ""
}

// Sanitizer frame: "    #0 0x4f1b2d in parse_header /src/lib/header.c:42:9".
var sanitizerFrameRe = regexp.MustCompile(`^\s*#\d+\s+0x[0-9a-fA-F]+\s+in\s+(\S+)\s+(\S+?):(\d+)`)

// gdb batch frame: "#0  0x00007f... in parse_header (buf=...) at /src/lib/header.c:42".
var gdbFrameRe = regexp.MustCompile(`^#\d+\s+(?:0x[0-9a-fA-F]+\s+in\s+)?(\S+)\s+\(.*\)\s+at\s+(\S+?):(\d+)`)

// Frames inside the sanitizer runtime or libc carry no triage value; the
// first frame past them is the crash site.
var uninterestingFrame = regexp.MustCompile(`(?i)sanitizer|interceptor|libc[.-]|_start|__libc|/compiler-rt/`)

var crashSignatures = []string{
	"ERROR: AddressSanitizer",
	"ERROR: LeakSanitizer",
	"ERROR: MemorySanitizer",
	"UndefinedBehaviorSanitizer",
	"ThreadSanitizer",
	"ERROR: libFuzzer: deadly signal",
	"SUMMARY: ",
	"panic:",
	"fatal error:",
	"Segmentation fault",
	"AddressSanitizer:DEADLYSIGNAL",
}

// looksLikeCrash reports whether captured output carries a recognized
// fault signature. Abnormal exits without one are tool errors, not
// findings.
func looksLikeCrash(output string) bool {
	for _, sig := range crashSignatures {
		if strings.Contains(output, sig) {
			return true
		}
	}
	return false
}

// extractSite pulls the crash site out of captured output, trying the Go
// panic format first, then sanitizer stack frames, then gdb backtraces.
func extractSite(output string) Site {
	if strings.Contains(output, "goroutine ") {
		if site := extractGoSite(output); site.Resolved() {
			return site
		}
	}

	var fallback Site
	for _, line := range strings.Split(output, "\n") {
		var m []string
		if m = sanitizerFrameRe.FindStringSubmatch(line); m == nil {
			m = gdbFrameRe.FindStringSubmatch(line)
		}
		if m == nil {
			continue
		}
		site := Site{Function: m[1], File: m[2]}
		site.Line, _ = strconv.Atoi(m[3])
		if uninterestingFrame.MatchString(line) {
			if !fallback.Resolved() {
				fallback = site
			}
			continue
		}
		return site
	}
	return fallback
}

// extractGoSite parses a Go panic trace and returns the first call of the
// first goroutine, skipping runtime frames.
func extractGoSite(output string) Site {
	ctx, err := stack.ParseDump(strings.NewReader(output), io.Discard, false)
	if err != nil || ctx == nil {
		return Site{}
	}
	for _, gr := range ctx.Goroutines {
		if !gr.First {
			continue
		}
		for _, call := range gr.Stack.Calls {
			if strings.HasPrefix(call.Func.PkgDotName(), "runtime.") {
				continue
			}
			return Site{
				Function: call.Func.PkgDotName(),
				File:     call.SrcPath,
				Line:     call.Line,
			}
		}
	}
	return Site{}
}

var titlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`ERROR: (\w+Sanitizer): ([^\s(]+)`),
	regexp.MustCompile(`SUMMARY: (\w+Sanitizer): (\S+)`),
	regexp.MustCompile(`(panic): (.+)`),
	regexp.MustCompile(`(fatal error): (.+)`),
}

// extractTitle derives a short human-readable bug title from captured
// output.
func extractTitle(output string, hang bool) string {
	if hang {
		return "Hang: timeout exceeded"
	}
	for _, re := range titlePatterns {
		if m := re.FindStringSubmatch(output); m != nil {
			return strings.TrimSpace(m[1] + ": " + m[2])
		}
	}
	if strings.Contains(output, "Segmentation fault") {
		return "Crash: segmentation fault"
	}
	return "Crash: unclassified abnormal termination"
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// dedupKey groups findings by crash site when resolved and by normalized
// title otherwise.
func dedupKey(site Site, title string) string {
	if site.Resolved() {
		return site.Function + "|" + site.File + "|" + strconv.Itoa(site.Line)
	}
	norm := nonAlnumRe.ReplaceAllString(strings.ToLower(title), "_")
	return strings.Trim(norm, "_")
}
