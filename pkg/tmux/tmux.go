// Package tmux supervises fuzzer instances inside a detached tmux session:
// one window per instance, raw pane capture for post-campaign dumps, and a
// host-wide kill for teardown.
package tmux

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is a single detached tmux session owned by one campaign.
type Session struct {
	Name string

	logger  *zap.Logger
	started bool
}

// NewSession prepares a session with a unique name. Fails when tmux is not
// installed; nothing is launched yet.
func NewSession(logger *zap.Logger) (*Session, error) {
	if _, err := exec.LookPath("tmux"); err != nil {
		return nil, fmt.Errorf("tmux not found in PATH: %w", err)
	}
	return &Session{
		Name:   "bugbane-" + uuid.NewString()[:8],
		logger: logger,
	}, nil
}

// Run starts a shell command in a new detached window named windowName.
// The first call creates the session. env entries are K=V pairs prepended
// with env(1).
func (s *Session) Run(windowName string, env []string, line string) error {
	shellCmd := line
	if len(env) > 0 {
		shellCmd = "env " + strings.Join(env, " ") + " " + line
	}

	var cmd *exec.Cmd
	if !s.started {
		cmd = exec.Command("tmux", "new-session", "-d",
			"-s", s.Name, "-n", windowName, "-x", "90", "-y", "25", shellCmd)
	} else {
		cmd = exec.Command("tmux", "new-window", "-d",
			"-t", s.Name+":", "-n", windowName, shellCmd)
	}

	s.logger.Debug("starting tmux window",
		zap.String("session", s.Name),
		zap.String("window", windowName),
		zap.String("command", shellCmd))

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("tmux window %s failed to start: %w: %s",
			windowName, err, strings.TrimSpace(string(out)))
	}
	s.started = true
	return nil
}

// CapturePane returns the full scrollback of a window's pane, control and
// formatting sequences included.
func (s *Session) CapturePane(windowName string) ([]byte, error) {
	cmd := exec.Command("tmux", "capture-pane",
		"-t", s.Name+":"+windowName, "-p", "-e", "-S", "-")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("tmux capture-pane %s: %w", windowName, err)
	}
	return out, nil
}

// KillHostWide forcibly terminates every process with one of the given
// names and the whole tmux server. The scope is deliberately the host, not
// this session: concurrent unrelated campaigns on the same machine are not
// supported, and narrowing this would silently change teardown semantics.
func KillHostWide(logger *zap.Logger, processNames []string) {
	for _, name := range processNames {
		run(logger, "killall", "-q", "-s", "SIGINT", name)
	}
	time.Sleep(2 * time.Second)
	for _, name := range processNames {
		run(logger, "killall", "-q", "-s", "SIGKILL", name)
	}
	run(logger, "killall", "-q", "tmux: server", "tmux")
	time.Sleep(1 * time.Second)
	run(logger, "killall", "-q", "-s", "SIGKILL", "tmux: server", "tmux")
}

func run(logger *zap.Logger, name string, args ...string) {
	if err := exec.Command(name, args...).Run(); err != nil {
		// killall exits nonzero when nothing matched; that is expected
		// during teardown.
		logger.Debug("teardown command finished",
			zap.String("command", name+" "+strings.Join(args, " ")),
			zap.Error(err))
	}
}
