// Package script implements the §4.7 script executor: a shell command is
// sourced (not merely executed) so that any variable it exports survives
// into an env dump the runner reads back, propagating "BLACKJACK_*"
// variables to later steps.
package script

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/blackjack-test/blackjack/internal/errs"
)

// envVarPrefix is the only prefix of exported variables that flows back
// into the caller's env map, per spec.md §6.
const envVarPrefix = "BLACKJACK_"

// Result carries the captured output of a script run.
type Result struct {
	ExitStatus int
	Stdout     string
	Stderr     string
}

// Execute runs commandLine by sourcing it under sh, streaming stdout/stderr
// line by line to logger, and merging any exported BLACKJACK_* variable
// back into env. A nonzero exit status is surfaced as *errs.ScriptFailed.
func Execute(ctx context.Context, commandLine, cwd string, env map[string]string, logger *logrus.Entry) (Result, error) {
	tmp, err := os.CreateTemp("", "blackjack-env-*")
	if err != nil {
		return Result{}, fmt.Errorf("creating env dump file: %w", err)
	}
	dumpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(dumpPath)

	shCmd := fmt.Sprintf(". %s && export -p > %s", commandLine, shellQuote(dumpPath))
	cmd := exec.CommandContext(ctx, "sh", "-c", shCmd)
	cmd.Dir = cwd
	cmd.Env = flattenEnv(env)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("opening stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("opening stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("starting script: %w", err)
	}

	var stdoutBuf, stderrBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go streamLines(&wg, stdoutPipe, &stdoutBuf, logger.WithField("stream", "stdout"))
	go streamLines(&wg, stderrPipe, &stderrBuf, logger.WithField("stream", "stderr"))
	wg.Wait()

	waitErr := cmd.Wait()
	result := Result{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		result.ExitStatus = exitErr.ExitCode()
	} else if waitErr != nil {
		return result, fmt.Errorf("running script: %w", waitErr)
	}

	if data, readErr := os.ReadFile(dumpPath); readErr == nil {
		mergeExportedVars(data, env)
	} else {
		logger.WithError(readErr).Debug("could not read exported env dump")
	}

	if result.ExitStatus != 0 {
		return result, &errs.ScriptFailed{
			Command: commandLine,
			Status:  result.ExitStatus,
			Stdout:  result.Stdout,
			Stderr:  result.Stderr,
		}
	}
	return result, nil
}

func streamLines(wg *sync.WaitGroup, r io.Reader, buf *strings.Builder, logger *logrus.Entry) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		logger.Info(line)
	}
}

var exportLineRE = regexp.MustCompile(`^export ([A-Za-z_][A-Za-z0-9_]*)=(.*)$`)

// mergeExportedVars parses an `export -p` dump and copies every
// BLACKJACK_-prefixed variable into env.
func mergeExportedVars(dump []byte, env map[string]string) {
	for _, line := range strings.Split(string(dump), "\n") {
		m := exportLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name, value := m[1], unquote(m[2])
		if strings.HasPrefix(name, envVarPrefix) {
			env[name] = value
		}
	}
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return strings.ReplaceAll(s[1:len(s)-1], `'\''`, "'")
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// shellQuote wraps s in single quotes for safe interpolation into the sh -c
// command line, escaping any embedded single quote.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
