// Package launcher starts the external analysis process and bridges its
// stdio to the run's input handler and broadcast sink.
package launcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/kristenwon/shepherd-mvp/internal/protocol"
	"github.com/kristenwon/shepherd-mvp/internal/runner"
)

// ExecLauncher runs a configured shell command per run. Job data is handed
// to the process through environment variables, client input through stdin,
// and every stdout line is broadcast to the run's connections.
type ExecLauncher struct {
	// Command is the shell command to execute, e.g. "python -m mas.run".
	Command string
	// LogDir receives a per-run copy of the process output.
	LogDir string
}

// NewExecLauncher creates a launcher for the given command.
func NewExecLauncher(command, logDir string) *ExecLauncher {
	return &ExecLauncher{Command: command, LogDir: logDir}
}

// Launch starts the process and blocks until it exits. The returned pid is
// valid as soon as the process started, even when the job itself fails.
func (l *ExecLauncher) Launch(ctx context.Context, runID string, job map[string]string, input runner.InputFunc, sink runner.Sink) (runner.Result, error) {
	if l.Command == "" {
		return runner.Result{}, fmt.Errorf("no analysis command configured")
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", l.Command)
	cmd.Env = append(os.Environ(), "RUN_ID="+runID)
	for key, val := range job {
		cmd.Env = append(cmd.Env, "JOB_"+envKey(key)+"="+val)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return runner.Result{}, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return runner.Result{}, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return runner.Result{}, fmt.Errorf("failed to start analysis process: %w", err)
	}
	pid := cmd.Process.Pid
	log.Printf("Started analysis process %d for run %s", pid, runID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Feed client input to the process until it exits or the run ends.
	go func() {
		defer stdin.Close()
		for {
			line, err := input(ctx)
			if err != nil {
				return
			}
			if _, err := io.WriteString(stdin, line+"\n"); err != nil {
				return
			}
		}
	}()

	l.streamOutput(runID, stdout, sink)

	err = cmd.Wait()
	if err != nil {
		log.Printf("Analysis process %d for run %s exited: %v", pid, runID, err)
		return runner.Result{PID: pid, Success: false}, nil
	}
	return runner.Result{PID: pid, Success: true}, nil
}

// streamOutput broadcasts each output line and mirrors it to the run log.
func (l *ExecLauncher) streamOutput(runID string, stdout io.Reader, sink runner.Sink) {
	var logFile *os.File
	if l.LogDir != "" {
		if err := os.MkdirAll(l.LogDir, 0o755); err == nil {
			logFile, err = os.Create(filepath.Join(l.LogDir, runID+".log"))
			if err != nil {
				log.Printf("WARN: could not create run log: %v", err)
			}
		}
	}
	if logFile != nil {
		defer logFile.Close()
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if logFile != nil {
			fmt.Fprintln(logFile, line)
		}
		sink.Broadcast(runID, protocol.Message{Type: "output", RunID: runID, Data: line})
	}
}

func envKey(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
