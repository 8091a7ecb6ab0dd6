package reproduce

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"bugbane/internal/types"
)

// ErrToolStart means the target or debugger binary could not be executed
// at all. This aborts the reproduction pass; a missing tool is never a
// finding.
var ErrToolStart = errors.New("external tool failed to start")

// ErrUnexpectedExit means the target exited nonzero without any
// recognized fault signature.
var ErrUnexpectedExit = errors.New("abnormal exit without a fault signature")

// runOutcome is the raw result of one target invocation.
type runOutcome struct {
	Cmdline string
	Output  string
	Hang    bool
	Crash   bool
}

// buildArgv substitutes the sample path into the run arguments. When the
// placeholder token is absent the sample is appended, matching how
// libFuzzer-style targets take the input file as a positional argument.
func buildArgv(binary, runArgs, sample string) []string {
	argv := []string{binary}
	substituted := false
	for _, arg := range strings.Fields(runArgs) {
		if strings.Contains(arg, types.InputToken) {
			arg = strings.ReplaceAll(arg, types.InputToken, sample)
			substituted = true
		}
		argv = append(argv, arg)
	}
	if !substituted {
		argv = append(argv, sample)
	}
	return argv
}

func gdbArgv(argv []string) []string {
	out := []string{"gdb", "-q", "--batch", "-ex", "run", "-ex", "bt", "--args"}
	return append(out, argv...)
}

// runOnce executes argv bounded by the hang timeout, capturing combined
// output. On timeout the process group gets SIGINT first so a debugger in
// the group can take a backtrace at the boundary, then SIGKILL.
func runOnce(ctx context.Context, argv []string, env map[string]string, hangTimeout time.Duration) (runOutcome, error) {
	outcome := runOutcome{Cmdline: strings.Join(argv, " ")}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Start(); err != nil {
		return outcome, fmt.Errorf("reproduce: %w: %s: %v", ErrToolStart, argv[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(hangTimeout):
		outcome.Hang = true
		syscall.Kill(-cmd.Process.Pid, syscall.SIGINT)
		select {
		case runErr = <-done:
		case <-time.After(10 * time.Second):
			syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			runErr = <-done
		}
	case <-ctx.Done():
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return outcome, ctx.Err()
	}

	outcome.Output = buf.String()
	if outcome.Hang {
		return outcome, nil
	}

	if runErr != nil {
		if looksLikeCrash(outcome.Output) || exitedOnSignal(runErr) {
			outcome.Crash = true
			return outcome, nil
		}
		return outcome, fmt.Errorf("reproduce: %s: %w: %v", argv[0], ErrUnexpectedExit, runErr)
	}
	// sanitizers may report and still exit zero under certain halt settings
	if looksLikeCrash(outcome.Output) {
		outcome.Crash = true
	}
	return outcome, nil
}

func exitedOnSignal(err error) bool {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	return ok && status.Signaled()
}
