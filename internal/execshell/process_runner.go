package execshell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"
)

const environmentEntryTemplateConstant = "%s=%s"

// OSProcessRunner executes commands using the operating system process table.
type OSProcessRunner struct{}

// NewOSProcessRunner constructs an OSProcessRunner instance.
func NewOSProcessRunner() *OSProcessRunner {
	return &OSProcessRunner{}
}

// Run spawns the requested executable and captures its observable results.
// The environment overlay is merged onto the ambient environment; overlay
// entries win on conflict.
func (runner *OSProcessRunner) Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	executableCommand := exec.CommandContext(executionContext, command.Executable, command.Details.Arguments...)
	executableCommand.Dir = command.Details.WorkingDirectory
	executableCommand.Env = mergeEnvironment(os.Environ(), command.Details.EnvironmentVariables)

	var standardOutputBuffer bytes.Buffer
	var standardErrorBuffer bytes.Buffer
	executableCommand.Stdout = &standardOutputBuffer
	executableCommand.Stderr = &standardErrorBuffer

	startTime := time.Now()
	runError := executableCommand.Run()
	elapsedDuration := time.Since(startTime)

	executionResult := ExecutionResult{
		StandardOutput: standardOutputBuffer.String(),
		StandardError:  standardErrorBuffer.String(),
		Duration:       elapsedDuration,
	}

	if runError != nil {
		var exitError *exec.ExitError
		if errors.As(runError, &exitError) {
			executionResult.ExitCode = exitError.ExitCode()
			return executionResult, nil
		}
		if contextError := executionContext.Err(); contextError != nil {
			return executionResult, contextError
		}
		return executionResult, runError
	}

	executionResult.ExitCode = 0
	return executionResult, nil
}

func mergeEnvironment(ambientEntries []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return ambientEntries
	}

	overlayKeys := make([]string, 0, len(overlay))
	for overlayKey := range overlay {
		overlayKeys = append(overlayKeys, overlayKey)
	}
	sort.Strings(overlayKeys)

	merged := make([]string, 0, len(ambientEntries)+len(overlay))
	merged = append(merged, ambientEntries...)
	for _, overlayKey := range overlayKeys {
		merged = append(merged, fmt.Sprintf(environmentEntryTemplateConstant, overlayKey, overlay[overlayKey]))
	}
	return merged
}
