package execshell_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tyemirov/cix/internal/execshell"
)

const (
	testExecutableNameConstant  = "make"
	testSubtestTemplateConstant = "%d_%s"
)

type stubCommandRunner struct {
	result          execshell.ExecutionResult
	runError        error
	recordedCommand execshell.ShellCommand
	recordedContext context.Context
}

func (runner *stubCommandRunner) Run(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error) {
	runner.recordedContext = executionContext
	runner.recordedCommand = command
	return runner.result, runner.runError
}

func TestNewShellExecutorValidation(testInstance *testing.T) {
	testCases := []struct {
		name          string
		logger        *zap.Logger
		commandRunner execshell.CommandRunner
		expectedError error
	}{
		{
			name:          "missing_logger",
			commandRunner: &stubCommandRunner{},
			expectedError: execshell.ErrLoggerNotConfigured,
		},
		{
			name:          "missing_command_runner",
			logger:        zap.NewNop(),
			expectedError: execshell.ErrCommandRunnerNotConfigured,
		},
		{
			name:          "fully_configured",
			logger:        zap.NewNop(),
			commandRunner: &stubCommandRunner{},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(testSubtestTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			executor, constructionError := execshell.NewShellExecutor(testCase.logger, testCase.commandRunner)
			if testCase.expectedError != nil {
				require.ErrorIs(testInstance, constructionError, testCase.expectedError)
				require.Nil(testInstance, executor)
				return
			}
			require.NoError(testInstance, constructionError)
			require.NotNil(testInstance, executor)
		})
	}
}

func TestShellExecutorExecute(testInstance *testing.T) {
	testCases := []struct {
		name    string
		command execshell.ShellCommand
		runner  *stubCommandRunner
		verify  func(testInstance *testing.T, result execshell.ExecutionResult, executionError error)
	}{
		{
			name:    "successful_command",
			command: execshell.ShellCommand{Executable: testExecutableNameConstant, Details: execshell.CommandDetails{Arguments: []string{"build"}}},
			runner:  &stubCommandRunner{result: execshell.ExecutionResult{StandardOutput: "done", ExitCode: 0}},
			verify: func(testInstance *testing.T, result execshell.ExecutionResult, executionError error) {
				require.NoError(testInstance, executionError)
				require.Equal(testInstance, "done", result.StandardOutput)
			},
		},
		{
			name:    "non_zero_exit_returns_result_and_failure",
			command: execshell.ShellCommand{Executable: testExecutableNameConstant, Details: execshell.CommandDetails{Arguments: []string{"test"}}},
			runner:  &stubCommandRunner{result: execshell.ExecutionResult{StandardError: "assertion failed\n", ExitCode: 2}},
			verify: func(testInstance *testing.T, result execshell.ExecutionResult, executionError error) {
				require.Equal(testInstance, 2, result.ExitCode)

				var failedError execshell.CommandFailedError
				require.ErrorAs(testInstance, executionError, &failedError)
				require.Equal(testInstance, 2, failedError.Result.ExitCode)
				require.Contains(testInstance, failedError.Error(), "make exited with code 2")
				require.Contains(testInstance, failedError.Error(), "assertion failed")
			},
		},
		{
			name:    "runner_failure_wrapped",
			command: execshell.ShellCommand{Executable: testExecutableNameConstant},
			runner:  &stubCommandRunner{runError: errors.New("executable not found")},
			verify: func(testInstance *testing.T, result execshell.ExecutionResult, executionError error) {
				var executionFailure execshell.CommandExecutionError
				require.ErrorAs(testInstance, executionError, &executionFailure)
				require.EqualError(testInstance, executionFailure.Unwrap(), "executable not found")
			},
		},
		{
			name:    "missing_executable_rejected",
			command: execshell.ShellCommand{Executable: "   "},
			runner:  &stubCommandRunner{},
			verify: func(testInstance *testing.T, result execshell.ExecutionResult, executionError error) {
				require.ErrorIs(testInstance, executionError, execshell.ErrExecutableMissing)
			},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(testSubtestTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			executor, constructionError := execshell.NewShellExecutor(zap.NewNop(), testCase.runner)
			require.NoError(testInstance, constructionError)

			result, executionError := executor.Execute(context.Background(), testCase.command)
			testCase.verify(testInstance, result, executionError)
		})
	}
}

func TestShellExecutorAppliesTimeout(testInstance *testing.T) {
	runner := &stubCommandRunner{result: execshell.ExecutionResult{ExitCode: 0}}
	executor, constructionError := execshell.NewShellExecutor(zap.NewNop(), runner)
	require.NoError(testInstance, constructionError)

	command := execshell.ShellCommand{
		Executable: testExecutableNameConstant,
		Details:    execshell.CommandDetails{Timeout: time.Minute},
	}

	_, executionError := executor.Execute(context.Background(), command)
	require.NoError(testInstance, executionError)

	deadline, deadlineSet := runner.recordedContext.Deadline()
	require.True(testInstance, deadlineSet)
	require.WithinDuration(testInstance, time.Now().Add(time.Minute), deadline, 5*time.Second)
}
