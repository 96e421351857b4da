package workflow

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tyemirov/cix/internal/artifacts"
	"github.com/tyemirov/cix/internal/execshell"
	"github.com/tyemirov/cix/internal/services"
)

const (
	runnerLoggerMissingMessageConstant       = "task runner logger not configured"
	runnerStepExecutorMissingMessageConstant = "task runner step executor not configured"
	taskStartingMessageConstant              = "task starting"
	taskFinishedMessageConstant              = "task finished"
	stepSkippedMessageConstant               = "step skipped by gate"
	taskPropagatedFailureMessageConstant     = "task failed through prerequisite"
	taskNameFieldConstant                    = "task"
	taskStateFieldConstant                   = "state"
	stepNameFieldConstant                    = "step"
	gateFieldConstant                        = "gate"
	prerequisiteFieldConstant                = "prerequisite"

	servicePreparationStepNameConstant = "service-preconditions"
	artifactStagingStepNameConstant    = "artifact-staging"
	defaultWorkerCountConstant         = 1
)

// StepProcessExecutor runs one external command to completion.
type StepProcessExecutor interface {
	Execute(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error)
}

// ServicePreconditioner brings up required external services idempotently.
type ServicePreconditioner interface {
	Ensure(executionContext context.Context, definitions []services.ServiceDefinition) error
}

// ArtifactStager stages artifact trees and performs the gated publish.
type ArtifactStager interface {
	Stage(sourcePath string, destinationPath string) error
	Publish(executionContext context.Context, request artifacts.PublishRequest) (execshell.ExecutionResult, error)
}

// Dependencies carries the collaborators a TaskRunner needs.
type Dependencies struct {
	Logger        *zap.Logger
	StepExecutor  StepProcessExecutor
	Preconditions ServicePreconditioner
	Relay         ArtifactStager
	Output        io.Writer
	Errors        io.Writer
	WorkerCount   int
}

// TaskRunner resolves requested tasks through the registry and drives their
// steps to completion. Given the same configuration and run context, the
// execution order and outcomes are reproducible.
type TaskRunner struct {
	dependencies Dependencies
}

// NewTaskRunner constructs a TaskRunner with the provided dependencies.
func NewTaskRunner(dependencies Dependencies) (TaskRunner, error) {
	if dependencies.Logger == nil {
		return TaskRunner{}, errors.New(runnerLoggerMissingMessageConstant)
	}
	if dependencies.StepExecutor == nil {
		return TaskRunner{}, errors.New(runnerStepExecutorMissingMessageConstant)
	}
	if dependencies.WorkerCount <= 0 {
		dependencies.WorkerCount = defaultWorkerCountConstant
	}
	return TaskRunner{dependencies: dependencies}, nil
}

// Run executes the requested tasks and their prerequisite closure.
// Configuration errors abort immediately with no partial execution;
// execution failures are recorded in the report and do not return an error.
func (runner TaskRunner) Run(executionContext context.Context, configuration Configuration, taskNames []string, runContext RunContext) (RunReport, error) {
	registry, registryError := configuration.BuildRegistry()
	if registryError != nil {
		return RunReport{}, registryError
	}

	plan, planError := registry.Resolve(taskNames...)
	if planError != nil {
		return RunReport{}, planError
	}

	report := RunReport{StartTime: time.Now()}
	resultsByName := map[string]TaskResult{}
	var resultsMutex sync.Mutex

	for stageIndex := range plan.Stages {
		stage := plan.Stages[stageIndex]

		group, groupContext := errgroup.WithContext(executionContext)
		group.SetLimit(runner.dependencies.WorkerCount)

		for taskIndex := range stage.Tasks {
			definition := stage.Tasks[taskIndex]
			group.Go(func() error {
				if contextError := groupContext.Err(); contextError != nil {
					return contextError
				}
				taskResult := runner.runTask(groupContext, definition, configuration, runContext, resultsByName, &resultsMutex)
				resultsMutex.Lock()
				resultsByName[definition.Name] = taskResult
				resultsMutex.Unlock()
				return nil
			})
		}

		if waitError := group.Wait(); waitError != nil {
			return report, waitError
		}
	}

	for _, plannedName := range plan.TaskNames() {
		if taskResult, resultAvailable := resultsByName[plannedName]; resultAvailable {
			report.TaskResults = append(report.TaskResults, taskResult)
		}
	}

	if configuration.Publish != nil {
		publishResult := runner.runPublish(executionContext, *configuration.Publish, runContext, report)
		report.PublishResult = &publishResult
	}

	report.EndTime = time.Now()
	report.Duration = report.EndTime.Sub(report.StartTime)
	return report, nil
}

func (runner TaskRunner) runTask(executionContext context.Context, definition TaskDefinition, configuration Configuration, runContext RunContext, resultsByName map[string]TaskResult, resultsMutex *sync.Mutex) TaskResult {
	taskStart := time.Now()

	if failedPrerequisite := runner.failedPrerequisite(definition, resultsByName, resultsMutex); len(failedPrerequisite) > 0 && !definition.BestEffort {
		runner.dependencies.Logger.Warn(taskPropagatedFailureMessageConstant,
			zap.String(taskNameFieldConstant, definition.Name),
			zap.String(prerequisiteFieldConstant, failedPrerequisite),
		)
		return TaskResult{
			TaskName:       definition.Name,
			State:          TaskStateFailed,
			PropagatedFrom: failedPrerequisite,
			Duration:       time.Since(taskStart),
		}
	}

	runner.dependencies.Logger.Info(taskStartingMessageConstant,
		zap.String(taskNameFieldConstant, definition.Name),
		zap.String(taskStateFieldConstant, string(TaskStateRunning)),
	)

	taskResult := TaskResult{TaskName: definition.Name, State: TaskStateRunning}

	if preparationResult, preparationFailed := runner.ensureTaskServices(executionContext, definition, configuration); preparationFailed {
		taskResult.Steps = append(taskResult.Steps, preparationResult)
		return runner.finishTask(taskResult, TaskStateFailed, taskStart)
	}

	taskFailed := false
	for stepIndex := range definition.Steps {
		stepDefinition := definition.Steps[stepIndex]

		if stepDefinition.Condition != nil && !stepDefinition.Condition.Evaluate(runContext) {
			runner.dependencies.Logger.Info(stepSkippedMessageConstant,
				zap.String(taskNameFieldConstant, definition.Name),
				zap.String(stepNameFieldConstant, stepDefinition.Name),
				zap.String(gateFieldConstant, stepDefinition.Condition.Describe()),
			)
			taskResult.Steps = append(taskResult.Steps, StepResult{
				StepName: stepDefinition.Name,
				Outcome:  StepOutcomeSkipped,
				Policy:   stepDefinition.Policy,
			})
			continue
		}

		stepResult := runner.runStep(executionContext, stepDefinition)
		taskResult.Steps = append(taskResult.Steps, stepResult)

		if stepResult.Outcome != StepOutcomeFailed {
			continue
		}
		if stepDefinition.Policy == FailurePolicyContinueOnError {
			continue
		}
		taskFailed = true
		break
	}

	if taskFailed {
		return runner.finishTask(taskResult, TaskStateFailed, taskStart)
	}

	for artifactIndex := range definition.Artifacts {
		staging := definition.Artifacts[artifactIndex]
		if stagingResult, stagingFailed := runner.stageArtifacts(staging); stagingFailed {
			taskResult.Steps = append(taskResult.Steps, stagingResult)
			return runner.finishTask(taskResult, TaskStateFailed, taskStart)
		}
	}

	return runner.finishTask(taskResult, TaskStateSucceeded, taskStart)
}

func (runner TaskRunner) finishTask(taskResult TaskResult, terminalState TaskState, taskStart time.Time) TaskResult {
	taskResult.State = terminalState
	taskResult.Duration = time.Since(taskStart)
	runner.dependencies.Logger.Info(taskFinishedMessageConstant,
		zap.String(taskNameFieldConstant, taskResult.TaskName),
		zap.String(taskStateFieldConstant, string(terminalState)),
	)
	return taskResult
}

func (runner TaskRunner) failedPrerequisite(definition TaskDefinition, resultsByName map[string]TaskResult, resultsMutex *sync.Mutex) string {
	resultsMutex.Lock()
	defer resultsMutex.Unlock()
	for _, prerequisiteName := range definition.Prerequisites {
		if prerequisiteResult, resultAvailable := resultsByName[prerequisiteName]; resultAvailable && prerequisiteResult.Failed() {
			return prerequisiteName
		}
	}
	return ""
}

func (runner TaskRunner) ensureTaskServices(executionContext context.Context, definition TaskDefinition, configuration Configuration) (StepResult, bool) {
	if len(definition.Services) == 0 || runner.dependencies.Preconditions == nil {
		return StepResult{}, false
	}

	serviceDefinitions := make([]services.ServiceDefinition, 0, len(definition.Services))
	for _, serviceName := range definition.Services {
		if serviceDefinition, definitionAvailable := configuration.ServiceDefinition(serviceName); definitionAvailable {
			serviceDefinitions = append(serviceDefinitions, serviceDefinition)
		}
	}

	ensureStart := time.Now()
	if ensureError := runner.dependencies.Preconditions.Ensure(executionContext, serviceDefinitions); ensureError != nil {
		return StepResult{
			StepName: servicePreparationStepNameConstant,
			Outcome:  StepOutcomeFailed,
			Policy:   FailurePolicyFailFast,
			ExitCode: -1,
			Output:   ensureError.Error(),
			Duration: time.Since(ensureStart),
		}, true
	}
	return StepResult{}, false
}

func (runner TaskRunner) stageArtifacts(staging ArtifactStaging) (StepResult, bool) {
	if runner.dependencies.Relay == nil {
		return StepResult{}, false
	}
	stagingStart := time.Now()
	if stagingError := runner.dependencies.Relay.Stage(staging.SourcePath, staging.DestinationPath); stagingError != nil {
		return StepResult{
			StepName: artifactStagingStepNameConstant,
			Outcome:  StepOutcomeFailed,
			Policy:   FailurePolicyFailFast,
			ExitCode: -1,
			Output:   stagingError.Error(),
			Duration: time.Since(stagingStart),
		}, true
	}
	return StepResult{}, false
}

func (runner TaskRunner) runStep(executionContext context.Context, stepDefinition StepDefinition) StepResult {
	command := execshell.ShellCommand{
		Executable: stepDefinition.Command[0],
		Details: execshell.CommandDetails{
			Arguments:            stepDefinition.Command[1:],
			WorkingDirectory:     stepDefinition.WorkingDirectory,
			EnvironmentVariables: stepDefinition.EnvironmentVariables,
			Timeout:              stepDefinition.Timeout,
		},
	}

	executionResult, executionError := runner.dependencies.StepExecutor.Execute(executionContext, command)
	stepResult := StepResult{
		StepName: stepDefinition.Name,
		Policy:   stepDefinition.Policy,
		ExitCode: executionResult.ExitCode,
		Output:   combineOutput(executionResult),
		Duration: executionResult.Duration,
	}

	if executionError == nil {
		stepResult.Outcome = StepOutcomeSucceeded
		return stepResult
	}

	stepResult.Outcome = StepOutcomeFailed

	var failedError execshell.CommandFailedError
	if errors.As(executionError, &failedError) {
		stepResult.ExitCode = failedError.Result.ExitCode
		stepResult.Output = combineOutput(failedError.Result)
		return stepResult
	}

	stepResult.ExitCode = -1
	stepResult.Output = executionError.Error()
	return stepResult
}

func (runner TaskRunner) runPublish(executionContext context.Context, publishDefinition PublishDefinition, runContext RunContext, report RunReport) StepResult {
	if publishDefinition.Condition != nil && !publishDefinition.Condition.Evaluate(runContext) {
		runner.dependencies.Logger.Info(stepSkippedMessageConstant,
			zap.String(stepNameFieldConstant, reportPublishStepNameConstant),
			zap.String(gateFieldConstant, publishDefinition.Condition.Describe()),
		)
		return StepResult{StepName: reportPublishStepNameConstant, Outcome: StepOutcomeSkipped, Policy: FailurePolicyFailFast}
	}

	if !report.Succeeded() {
		return StepResult{StepName: reportPublishStepNameConstant, Outcome: StepOutcomeSkipped, Policy: FailurePolicyFailFast}
	}

	if runner.dependencies.Relay == nil {
		return StepResult{StepName: reportPublishStepNameConstant, Outcome: StepOutcomeSkipped, Policy: FailurePolicyFailFast}
	}

	publishStart := time.Now()
	publishResult, publishError := runner.dependencies.Relay.Publish(executionContext, artifacts.PublishRequest{
		SourcePath:     publishDefinition.SourcePath,
		Target:         publishDefinition.Target,
		Command:        publishDefinition.Command,
		CredentialName: publishDefinition.CredentialName,
		Credentials:    runContext.Credential,
	})
	stepResult := StepResult{
		StepName: reportPublishStepNameConstant,
		Policy:   FailurePolicyFailFast,
		ExitCode: publishResult.ExitCode,
		Output:   combineOutput(publishResult),
		Duration: time.Since(publishStart),
	}
	if publishError != nil {
		stepResult.Outcome = StepOutcomeFailed
		if len(strings.TrimSpace(stepResult.Output)) == 0 {
			stepResult.Output = publishError.Error()
		}
		return stepResult
	}
	stepResult.Outcome = StepOutcomeSucceeded
	return stepResult
}

func combineOutput(result execshell.ExecutionResult) string {
	combined := strings.TrimSpace(result.StandardOutput)
	trimmedStandardError := strings.TrimSpace(result.StandardError)
	if len(trimmedStandardError) > 0 {
		if len(combined) > 0 {
			combined = combined + "\n" + trimmedStandardError
		} else {
			combined = trimmedStandardError
		}
	}
	return combined
}
