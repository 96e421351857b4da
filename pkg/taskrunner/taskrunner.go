package taskrunner

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tyemirov/cix/internal/workflow"
)

// Executor runs pipeline task definitions for a single triggering event.
type Executor interface {
	Run(ctx context.Context, configuration workflow.Configuration, taskNames []string, runContext workflow.RunContext) (workflow.RunReport, error)
}

// Factory constructs an Executor given workflow dependencies.
type Factory func(workflow.Dependencies) Executor

type taskRunnerAdapter struct {
	runner workflow.TaskRunner
}

func (adapter taskRunnerAdapter) Run(ctx context.Context, configuration workflow.Configuration, taskNames []string, runContext workflow.RunContext) (workflow.RunReport, error) {
	return adapter.runner.Run(ctx, configuration, taskNames, runContext)
}

// Resolve returns either the provided factory result or the default engine,
// wrapped so the run report and summary line are printed after execution.
func Resolve(factory Factory, dependencies workflow.Dependencies) (Executor, error) {
	var base Executor
	if factory != nil {
		base = factory(dependencies)
	}
	if base == nil {
		runner, runnerError := workflow.NewTaskRunner(dependencies)
		if runnerError != nil {
			return nil, runnerError
		}
		base = taskRunnerAdapter{runner: runner}
	}
	return summaryExecutor{delegate: base, dependencies: dependencies}, nil
}

type summaryExecutor struct {
	delegate     Executor
	dependencies workflow.Dependencies
}

func (executor summaryExecutor) Run(ctx context.Context, configuration workflow.Configuration, taskNames []string, runContext workflow.RunContext) (workflow.RunReport, error) {
	report, runError := executor.delegate.Run(ctx, configuration, taskNames, runContext)
	if runError != nil {
		return report, runError
	}

	if reportWriter := executor.reportWriter(); reportWriter != nil {
		report.Render(reportWriter)

		summary := RenderSummaryLine(report)
		if len(strings.TrimSpace(summary)) > 0 {
			fmt.Fprintln(reportWriter, summary)
		}
	}
	return report, nil
}

func (executor summaryExecutor) reportWriter() io.Writer {
	if executor.dependencies.Output != nil {
		return executor.dependencies.Output
	}
	return executor.dependencies.Errors
}
