// Package launcher runs the external coding agent as a subprocess, streams
// its structured output to a durable per-session log, and enforces
// wall-clock timeouts with a documented termination escalation.
package launcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// TimeoutExitCode is the sentinel exit code reported when the agent was
// forcibly terminated because its wall-clock deadline elapsed.
const TimeoutExitCode = 124

// DefaultTimeout bounds a launch when the request does not set one.
const DefaultTimeout = 30 * time.Minute

// DefaultKillGrace is how long the launcher waits after the graceful
// termination signal before escalating to a forced kill.
const DefaultKillGrace = 10 * time.Second

// Request describes one agent invocation.
type Request struct {
	SessionID     string        // unique per invocation; names the session log
	Prompt        string        // full prompt text passed to the agent
	Dir           string        // working directory (the feature's worktree)
	Timeout       time.Duration // wall-clock bound; DefaultTimeout if zero
	RestrictTools bool          // limit the agent to read/write tools only
}

// Result is the outcome of one agent invocation. A nonzero exit code is a
// normal result, not an error; Launch returns an error only when the
// process could not be run at all.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// TimedOut reports whether the agent was killed by the launcher's deadline.
func (r Result) TimedOut() bool {
	return r.ExitCode == TimeoutExitCode
}

// Launcher runs agent invocations. The production implementation spawns the
// agent CLI; tests substitute fakes. Exactly one launcher is wired into the
// executors at construction time.
type Launcher interface {
	Launch(ctx context.Context, req Request) (Result, error)
}

// CLILauncher is the production Launcher. It invokes the agent binary in
// stream-json mode and tees the stream to a per-session log file as it
// arrives, so a killed run still leaves forensic evidence.
type CLILauncher struct {
	Bin       string        // agent binary, e.g. "claude"
	LogDir    string        // session logs live here, one file per session
	KillGrace time.Duration // grace between SIGTERM and SIGKILL
	Logger    *zap.Logger
}

// NewCLI returns a launcher for the given agent binary writing session logs
// under logDir.
func NewCLI(bin, logDir string, logger *zap.Logger) *CLILauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CLILauncher{
		Bin:       bin,
		LogDir:    logDir,
		KillGrace: DefaultKillGrace,
		Logger:    logger,
	}
}

// buildArgs assembles the agent CLI arguments. Stream-json output is
// required so progress is parseable line by line.
func (l *CLILauncher) buildArgs(req Request) []string {
	args := []string{
		"-p",
		"--dangerously-skip-permissions",
		"--verbose",
		"--output-format", "stream-json",
	}
	if req.RestrictTools {
		args = append(args, "--allowed-tools", "Read,Glob,Grep,Write")
	}
	return append(args, req.Prompt)
}

// Launch runs the agent and waits for it to exit or for the deadline.
//
// Termination policy: when the deadline elapses the whole process group
// receives a graceful termination signal; if the process has not exited
// within KillGrace it is forcibly killed. Either way the call does not
// return until the process has been waited on, so no process is leaked.
func (l *CLILauncher) Launch(ctx context.Context, req Request) (Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	grace := l.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}

	if err := os.MkdirAll(l.LogDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create session log dir: %w", err)
	}
	logPath := filepath.Join(l.LogDir, req.SessionID+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return Result{}, fmt.Errorf("create session log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(l.Bin, l.buildArgs(req)...)
	cmd.Dir = req.Dir
	// No controlling terminal: the agent must not emit interactive UI hints,
	// and a detached session lets us signal the whole process group.
	cmd.Stdin = nil
	cmd.SysProcAttr = newSysProcAttr()

	var stdout, stderr bytes.Buffer
	stream := newStreamWriter(logFile)
	cmd.Stdout = io.MultiWriter(stream, &stdout)
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("spawn agent: %w", err)
	}
	l.Logger.Info("agent started",
		zap.String("session", req.SessionID),
		zap.String("dir", req.Dir),
		zap.Duration("timeout", timeout))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var timedOut bool
	select {
	case err = <-done:
	case <-ctx.Done():
		timedOut = true
		err = l.terminate(cmd, done, grace)
	case <-timer.C:
		timedOut = true
		err = l.terminate(cmd, done, grace)
	}
	stream.Flush()
	duration := time.Since(start)

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	switch {
	case timedOut:
		res.ExitCode = TimeoutExitCode
		res.Stderr = fmt.Sprintf("%sterminated: wall-clock timeout after %s\n", res.Stderr, timeout)
		fmt.Fprintf(logFile, "-- terminated: wall-clock timeout after %s --\n", timeout)
		l.Logger.Warn("agent timed out",
			zap.String("session", req.SessionID),
			zap.Duration("after", duration))
	case err != nil:
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			// Wait failed for a non-exit reason; infrastructure, not agent.
			return res, fmt.Errorf("wait for agent: %w", err)
		}
		l.Logger.Warn("agent exited nonzero",
			zap.String("session", req.SessionID),
			zap.Int("exitCode", res.ExitCode),
			zap.Duration("duration", duration))
	default:
		l.Logger.Info("agent finished",
			zap.String("session", req.SessionID),
			zap.Duration("duration", duration))
	}
	return res, nil
}

// terminate signals the process group gracefully, escalates to a forced
// kill if the process ignores the signal for the grace period, and returns
// the process's wait result. The process is always waited on before this
// returns, so no zombie is left behind.
func (l *CLILauncher) terminate(cmd *exec.Cmd, done <-chan error, grace time.Duration) error {
	if err := signalTerm(cmd.Process); err != nil {
		killProcess(cmd.Process)
		return <-done
	}
	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		l.Logger.Warn("agent ignored termination signal, killing")
		killProcess(cmd.Process)
		return <-done
	}
}
