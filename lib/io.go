package alpineami_lib

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	wzlib_logger "github.com/infra-whizz/wzlib/logger"
	wzlib_subprocess "github.com/infra-whizz/wzlib/subprocess"
)

// Executor runs a host command to completion. A non-zero exit is reported as *CommandFailed.
type Executor interface {
	Run(stdin io.Reader, name string, args ...string) error
}

type StdoutLogger struct {
	wzlib_logger.WzLogger
}

func (sl *StdoutLogger) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(strings.TrimSpace(string(p)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			sl.GetLogger().Info(line)
		}
	}
	return len(p), nil
}

// LoggedExecutor streams command output into the current logger.
type LoggedExecutor struct {
	wzlib_logger.WzLogger
}

func NewLoggedExecutor() *LoggedExecutor {
	return new(LoggedExecutor)
}

func (le *LoggedExecutor) Run(stdin io.Reader, name string, args ...string) error {
	le.GetLogger().Debugf("Calling: %s %v", name, args)
	cmd := wzlib_subprocess.ExecCommand(name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &StdoutLogger{}
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &CommandFailed{Command: append([]string{name}, args...), Status: exitErr.ExitCode()}
		}
		return fmt.Errorf("unable to run %s: %w", name, err)
	}

	return nil
}
