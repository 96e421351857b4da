package run_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	runcmd "github.com/tyemirov/cix/cmd/cli/run"
	"github.com/tyemirov/cix/internal/workflow"
	"github.com/tyemirov/cix/pkg/taskrunner"
)

type capturingExecutor struct {
	report             workflow.RunReport
	capturedTaskNames  []string
	capturedRunContext workflow.RunContext
}

func (executor *capturingExecutor) Run(_ context.Context, _ workflow.Configuration, taskNames []string, runContext workflow.RunContext) (workflow.RunReport, error) {
	executor.capturedTaskNames = taskNames
	executor.capturedRunContext = runContext
	return executor.report, nil
}

func succeededReport() workflow.RunReport {
	return workflow.RunReport{TaskResults: []workflow.TaskResult{{TaskName: "check", State: workflow.TaskStateSucceeded}}}
}

func buildTestCommandBuilder(executor taskrunner.Executor) *runcmd.CommandBuilder {
	return &runcmd.CommandBuilder{
		LoggerProvider:        func() *zap.Logger { return zap.NewNop() },
		ConfigurationProvider: func() runcmd.CommandConfiguration { return runcmd.CommandConfiguration{DefaultTask: "check"} },
		ExecutorFactory:       func(workflow.Dependencies) taskrunner.Executor { return executor },
	}
}

func executeRunCommand(testInstance *testing.T, builder *runcmd.CommandBuilder, arguments ...string) (string, error) {
	testInstance.Helper()

	command, buildError := builder.Build()
	require.NoError(testInstance, buildError)

	var outputBuffer bytes.Buffer
	command.SetOut(&outputBuffer)
	command.SetErr(&outputBuffer)
	command.SetArgs(arguments)

	executionError := command.Execute()
	return outputBuffer.String(), executionError
}

func TestRunCommandForwardsTaskAndRunContext(testInstance *testing.T) {
	executor := &capturingExecutor{report: succeededReport()}
	builder := buildTestCommandBuilder(executor)

	_, executionError := executeRunCommand(testInstance, builder, "check", "--event", "pull_request", "--ref", "feature-x", "--flag", "nightly")
	require.NoError(testInstance, executionError)

	require.Equal(testInstance, []string{"check"}, executor.capturedTaskNames)
	require.Equal(testInstance, workflow.EventKindPullRequest, executor.capturedRunContext.Event)
	require.Equal(testInstance, "feature-x", executor.capturedRunContext.BranchName)
	require.True(testInstance, executor.capturedRunContext.Flag("nightly"))
}

func TestRunCommandDefaultsTaskFromConfiguration(testInstance *testing.T) {
	executor := &capturingExecutor{report: succeededReport()}
	builder := buildTestCommandBuilder(executor)

	_, executionError := executeRunCommand(testInstance, builder)
	require.NoError(testInstance, executionError)
	require.Equal(testInstance, []string{"check"}, executor.capturedTaskNames)
}

func TestRunCommandRejectsUnknownEvent(testInstance *testing.T) {
	executor := &capturingExecutor{report: succeededReport()}
	builder := buildTestCommandBuilder(executor)

	_, executionError := executeRunCommand(testInstance, builder, "check", "--event", "release")
	require.Error(testInstance, executionError)
	require.Contains(testInstance, executionError.Error(), "unsupported event kind")
	require.Empty(testInstance, executor.capturedTaskNames)
}

func TestRunCommandFailsWhenReportFailed(testInstance *testing.T) {
	failedReport := workflow.RunReport{TaskResults: []workflow.TaskResult{{TaskName: "check", State: workflow.TaskStateFailed}}}
	executor := &capturingExecutor{report: failedReport}
	builder := buildTestCommandBuilder(executor)

	_, executionError := executeRunCommand(testInstance, builder, "check")
	require.Error(testInstance, executionError)
	require.Contains(testInstance, executionError.Error(), "pipeline run failed")
}

func TestRunCommandListsPresets(testInstance *testing.T) {
	executor := &capturingExecutor{report: succeededReport()}
	builder := buildTestCommandBuilder(executor)

	printedOutput, executionError := executeRunCommand(testInstance, builder, "--list-presets")
	require.NoError(testInstance, executionError)
	require.Contains(testInstance, printedOutput, "Embedded pipeline presets:")
	require.Contains(testInstance, printedOutput, "ci")
	require.Empty(testInstance, executor.capturedTaskNames)
}

func TestRunCommandRejectsMissingPipelineFile(testInstance *testing.T) {
	executor := &capturingExecutor{report: succeededReport()}
	builder := buildTestCommandBuilder(executor)

	_, executionError := executeRunCommand(testInstance, builder, "check", "--pipeline", "absent-pipeline.yaml")
	require.Error(testInstance, executionError)
	require.Contains(testInstance, executionError.Error(), "unable to load pipeline definition")
}
