// Package services brings up long-lived external services that tasks depend
// on and waits for them to become ready within a bounded budget.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/tyemirov/cix/internal/execshell"
)

const (
	defaultInitialPollIntervalConstant = 500 * time.Millisecond
	defaultMaximumPollIntervalConstant = 5 * time.Second
	defaultMaximumPollAttemptsConstant = 20

	preconditionsLoggerMissingMessageConstant   = "service preconditions logger not configured"
	preconditionsExecutorMissingMessageConstant = "service preconditions executor not configured"
	serviceNotReadyMessageConstant              = "service readiness probe reported not ready"
	serviceAlreadyReadyMessageConstant          = "service already ready"
	serviceStartingMessageConstant              = "starting service"
	serviceReadyMessageConstant                 = "service ready"
	serviceNameFieldConstant                    = "service"
	serviceAttemptsFieldConstant                = "max_attempts"

	serviceUnavailableErrorTemplateConstant = "service %s did not become ready within %d attempts"
)

// ServiceDefinition names an external service together with the commands
// that start it and probe its readiness. Start commands are expected to be
// idempotent (safe against an already-running service).
type ServiceDefinition struct {
	Name             string
	StartCommand     []string
	ReadinessCommand []string
}

// ServiceUnavailableError reports a service that never became ready within
// the bounded polling budget.
type ServiceUnavailableError struct {
	ServiceName string
	Attempts    int
	Cause       error
}

// Error implements the error interface.
func (unavailableError ServiceUnavailableError) Error() string {
	return fmt.Sprintf(serviceUnavailableErrorTemplateConstant, unavailableError.ServiceName, unavailableError.Attempts)
}

// Unwrap exposes the final probe failure.
func (unavailableError ServiceUnavailableError) Unwrap() error {
	return unavailableError.Cause
}

// CommandExecutor runs external commands on behalf of the preconditions.
type CommandExecutor interface {
	Execute(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error)
}

// Preconditions ensures named services are live before dependent tasks run.
// Ensure is idempotent within a run and against already-live services.
type Preconditions struct {
	logger              *zap.Logger
	executor            CommandExecutor
	initialPollInterval time.Duration
	maximumPollInterval time.Duration
	maximumPollAttempts int

	ensuredMutex sync.Mutex
	ensured      map[string]struct{}
}

// Option adjusts precondition polling behavior.
type Option func(*Preconditions)

// WithPollIntervals overrides the initial and maximum backoff intervals.
func WithPollIntervals(initialInterval time.Duration, maximumInterval time.Duration) Option {
	return func(preconditions *Preconditions) {
		preconditions.initialPollInterval = initialInterval
		preconditions.maximumPollInterval = maximumInterval
	}
}

// WithMaximumPollAttempts overrides the bounded readiness attempt count.
func WithMaximumPollAttempts(maximumAttempts int) Option {
	return func(preconditions *Preconditions) {
		preconditions.maximumPollAttempts = maximumAttempts
	}
}

// NewPreconditions constructs a Preconditions instance.
func NewPreconditions(logger *zap.Logger, executor CommandExecutor, options ...Option) (*Preconditions, error) {
	if logger == nil {
		return nil, errors.New(preconditionsLoggerMissingMessageConstant)
	}
	if executor == nil {
		return nil, errors.New(preconditionsExecutorMissingMessageConstant)
	}

	preconditions := &Preconditions{
		logger:              logger,
		executor:            executor,
		initialPollInterval: defaultInitialPollIntervalConstant,
		maximumPollInterval: defaultMaximumPollIntervalConstant,
		maximumPollAttempts: defaultMaximumPollAttemptsConstant,
		ensured:             map[string]struct{}{},
	}
	for _, option := range options {
		option(preconditions)
	}
	return preconditions, nil
}

// Ensure starts every service in the set that is not already reachable and
// waits for each to report ready. Repeated calls for the same service within
// a run are no-ops.
func (preconditions *Preconditions) Ensure(executionContext context.Context, definitions []ServiceDefinition) error {
	for definitionIndex := range definitions {
		if ensureError := preconditions.ensureService(executionContext, definitions[definitionIndex]); ensureError != nil {
			return ensureError
		}
	}
	return nil
}

// IsReady runs the readiness probe once and reports the outcome.
func (preconditions *Preconditions) IsReady(executionContext context.Context, definition ServiceDefinition) bool {
	if len(definition.ReadinessCommand) == 0 {
		return false
	}
	_, probeError := preconditions.executor.Execute(executionContext, probeCommand(definition))
	return probeError == nil
}

func (preconditions *Preconditions) ensureService(executionContext context.Context, definition ServiceDefinition) error {
	preconditions.ensuredMutex.Lock()
	_, alreadyEnsured := preconditions.ensured[definition.Name]
	preconditions.ensuredMutex.Unlock()
	if alreadyEnsured {
		return nil
	}

	if preconditions.IsReady(executionContext, definition) {
		preconditions.logger.Info(serviceAlreadyReadyMessageConstant, zap.String(serviceNameFieldConstant, definition.Name))
		preconditions.markEnsured(definition.Name)
		return nil
	}

	preconditions.logger.Info(serviceStartingMessageConstant, zap.String(serviceNameFieldConstant, definition.Name))
	if len(definition.StartCommand) > 0 {
		startCommand := execshell.ShellCommand{
			Executable: definition.StartCommand[0],
			Details:    execshell.CommandDetails{Arguments: definition.StartCommand[1:]},
		}
		if _, startError := preconditions.executor.Execute(executionContext, startCommand); startError != nil {
			return ServiceUnavailableError{ServiceName: definition.Name, Attempts: 0, Cause: startError}
		}
	}

	if waitError := preconditions.waitForReadiness(executionContext, definition); waitError != nil {
		return waitError
	}

	preconditions.logger.Info(serviceReadyMessageConstant, zap.String(serviceNameFieldConstant, definition.Name))
	preconditions.markEnsured(definition.Name)
	return nil
}

func (preconditions *Preconditions) waitForReadiness(executionContext context.Context, definition ServiceDefinition) error {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = preconditions.initialPollInterval
	exponential.MaxInterval = preconditions.maximumPollInterval
	exponential.MaxElapsedTime = 0

	bounded := backoff.WithMaxRetries(exponential, uint64(preconditions.maximumPollAttempts))

	probeOperation := func() error {
		if contextError := executionContext.Err(); contextError != nil {
			return backoff.Permanent(contextError)
		}
		if preconditions.IsReady(executionContext, definition) {
			return nil
		}
		return errors.New(serviceNotReadyMessageConstant)
	}

	preconditions.logger.Debug(serviceNotReadyMessageConstant,
		zap.String(serviceNameFieldConstant, definition.Name),
		zap.Int(serviceAttemptsFieldConstant, preconditions.maximumPollAttempts),
	)

	if retryError := backoff.Retry(probeOperation, backoff.WithContext(bounded, executionContext)); retryError != nil {
		return ServiceUnavailableError{
			ServiceName: definition.Name,
			Attempts:    preconditions.maximumPollAttempts,
			Cause:       retryError,
		}
	}
	return nil
}

func (preconditions *Preconditions) markEnsured(serviceName string) {
	preconditions.ensuredMutex.Lock()
	preconditions.ensured[serviceName] = struct{}{}
	preconditions.ensuredMutex.Unlock()
}

func probeCommand(definition ServiceDefinition) execshell.ShellCommand {
	return execshell.ShellCommand{
		Executable: definition.ReadinessCommand[0],
		Details:    execshell.CommandDetails{Arguments: definition.ReadinessCommand[1:]},
	}
}
