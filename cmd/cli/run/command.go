package run

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tyemirov/cix/internal/artifacts"
	"github.com/tyemirov/cix/internal/execshell"
	"github.com/tyemirov/cix/internal/services"
	"github.com/tyemirov/cix/internal/workflow"
	"github.com/tyemirov/cix/pkg/taskrunner"
)

const (
	commandUseConstant              = "run [task...]"
	commandShortDescriptionConstant = "Run pipeline tasks with dependency ordering"
	commandLongDescriptionConstant  = "run resolves the requested tasks (default: the configured target) through the pipeline definition, orders prerequisites first, and executes each task's shell-backed steps."
	commandExampleConstant          = "cix run check --event pull_request --ref feature-x\n  cix run doc --pipeline ./pipeline.yaml --event push --ref main"

	eventFlagNameConstant        = "event"
	eventFlagDescriptionConstant = "Triggering event kind (push or pull_request)"
	refFlagNameConstant          = "ref"
	refFlagDescriptionConstant   = "Branch or ref name the run executes against"
	pipelineFlagNameConstant     = "pipeline"
	pipelineFlagDescription      = "Pipeline definition file or embedded preset name (default: preset \"ci\")"
	listPresetsFlagNameConstant  = "list-presets"
	listPresetsFlagDescription   = "List embedded pipeline presets and exit"
	flagFlagNameConstant         = "flag"
	flagFlagDescriptionConstant  = "Set a custom gate flag. Repeatable."
	workersFlagNameConstant      = "workers"
	workersFlagDescription       = "Maximum number of independent tasks to run concurrently (default 1)"

	defaultPresetNameConstant    = "ci"
	defaultTaskFallbackConstant  = "check"
	unknownEventTemplateConstant = "unsupported event kind %q (expected push or pull_request)"
	loadPipelineErrorTemplate    = "unable to load pipeline definition %q: %w"
	presetListHeaderConstant     = "Embedded pipeline presets:"
	presetListEntryTemplate      = "  %-12s %s\n"
	runFailedMessageConstant     = "pipeline run failed"
	loggerMissingMessageConstant = "run command logger not configured"

	outputRootErrorTemplateConstant = "unable to prepare output root %q: %w"
	outputRootPermissionsConstant   = 0o755
)

// CommandConfiguration carries application-level defaults into the command.
type CommandConfiguration struct {
	DefaultTask string
	OutputRoot  string
}

// LoggerProvider supplies the application logger after initialization.
type LoggerProvider func() *zap.Logger

// CommandBuilder assembles the run command.
type CommandBuilder struct {
	LoggerProvider        LoggerProvider
	ConfigurationProvider func() CommandConfiguration
	ExecutorFactory       taskrunner.Factory
	PresetCatalogFactory  func() PresetCatalog
}

// Build constructs the run command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:     commandUseConstant,
		Short:   commandShortDescriptionConstant,
		Long:    commandLongDescriptionConstant,
		Example: commandExampleConstant,
		RunE:    builder.run,
	}

	registerRunFlags(command.Flags())

	return command, nil
}

func registerRunFlags(flagSet *pflag.FlagSet) {
	flagSet.String(eventFlagNameConstant, string(workflow.EventKindPush), eventFlagDescriptionConstant)
	flagSet.String(refFlagNameConstant, "", refFlagDescriptionConstant)
	flagSet.String(pipelineFlagNameConstant, "", pipelineFlagDescription)
	flagSet.Bool(listPresetsFlagNameConstant, false, listPresetsFlagDescription)
	flagSet.StringArray(flagFlagNameConstant, nil, flagFlagDescriptionConstant)
	flagSet.Int(workersFlagNameConstant, 1, workersFlagDescription)
}

func (builder *CommandBuilder) run(command *cobra.Command, arguments []string) error {
	presetCatalog := builder.resolvePresetCatalog()

	listPresets, _ := command.Flags().GetBool(listPresetsFlagNameConstant)
	if listPresets {
		builder.printPresetList(command, presetCatalog)
		return nil
	}

	eventValue, _ := command.Flags().GetString(eventFlagNameConstant)
	eventKind := workflow.EventKind(strings.TrimSpace(eventValue))
	if !workflow.KnownEventKind(eventKind) {
		return fmt.Errorf(unknownEventTemplateConstant, eventValue)
	}

	refValue, _ := command.Flags().GetString(refFlagNameConstant)
	flagValues, _ := command.Flags().GetStringArray(flagFlagNameConstant)
	customFlags := make(map[string]bool, len(flagValues))
	for _, flagValue := range flagValues {
		trimmedFlag := strings.TrimSpace(flagValue)
		if len(trimmedFlag) > 0 {
			customFlags[trimmedFlag] = true
		}
	}

	configuration, configurationError := builder.loadPipeline(command, presetCatalog)
	if configurationError != nil {
		return configurationError
	}

	if outputRootError := builder.prepareOutputRoot(); outputRootError != nil {
		return outputRootError
	}

	taskNames := arguments
	if len(taskNames) == 0 {
		taskNames = []string{builder.defaultTask()}
	}

	runContext := workflow.NewRunContext(eventKind, refValue, customFlags, nil)

	workerCount, _ := command.Flags().GetInt(workersFlagNameConstant)
	dependencies, dependenciesError := builder.buildDependencies(command, workerCount)
	if dependenciesError != nil {
		return dependenciesError
	}

	executor, executorError := taskrunner.Resolve(builder.ExecutorFactory, dependencies)
	if executorError != nil {
		return executorError
	}

	report, runError := executor.Run(command.Context(), configuration, taskNames, runContext)
	if runError != nil {
		return runError
	}
	if !report.Succeeded() {
		return errors.New(runFailedMessageConstant)
	}
	return nil
}

func (builder *CommandBuilder) buildDependencies(command *cobra.Command, workerCount int) (workflow.Dependencies, error) {
	logger := builder.resolveLogger()
	if logger == nil {
		return workflow.Dependencies{}, errors.New(loggerMissingMessageConstant)
	}

	executor, executorError := execshell.NewShellExecutor(logger, execshell.NewOSProcessRunner())
	if executorError != nil {
		return workflow.Dependencies{}, executorError
	}

	preconditions, preconditionsError := services.NewPreconditions(logger, executor)
	if preconditionsError != nil {
		return workflow.Dependencies{}, preconditionsError
	}

	relay, relayError := artifacts.NewRelay(logger, executor)
	if relayError != nil {
		return workflow.Dependencies{}, relayError
	}

	return workflow.Dependencies{
		Logger:        logger,
		StepExecutor:  executor,
		Preconditions: preconditions,
		Relay:         relay,
		Output:        command.OutOrStdout(),
		Errors:        command.ErrOrStderr(),
		WorkerCount:   workerCount,
	}, nil
}

func (builder *CommandBuilder) loadPipeline(command *cobra.Command, presetCatalog PresetCatalog) (workflow.Configuration, error) {
	pipelineValue, _ := command.Flags().GetString(pipelineFlagNameConstant)
	pipelineValue = strings.TrimSpace(pipelineValue)
	if len(pipelineValue) == 0 {
		pipelineValue = defaultPresetNameConstant
	}

	if presetCatalog != nil {
		presetConfiguration, presetFound, presetError := presetCatalog.Load(pipelineValue)
		if presetError != nil {
			return workflow.Configuration{}, fmt.Errorf(loadPipelineErrorTemplate, pipelineValue, presetError)
		}
		if presetFound {
			return presetConfiguration, nil
		}
	}

	if _, statError := os.Stat(pipelineValue); statError != nil {
		return workflow.Configuration{}, fmt.Errorf(loadPipelineErrorTemplate, pipelineValue, statError)
	}
	configuration, loadError := workflow.LoadConfiguration(pipelineValue)
	if loadError != nil {
		return workflow.Configuration{}, fmt.Errorf(loadPipelineErrorTemplate, pipelineValue, loadError)
	}
	return configuration, nil
}

func (builder *CommandBuilder) printPresetList(command *cobra.Command, presetCatalog PresetCatalog) {
	writer := command.OutOrStdout()
	fmt.Fprintln(writer, presetListHeaderConstant)
	if presetCatalog == nil {
		return
	}
	for _, metadata := range presetCatalog.List() {
		fmt.Fprintf(writer, presetListEntryTemplate, metadata.Name, metadata.Description)
	}
}

func (builder *CommandBuilder) prepareOutputRoot() error {
	if builder.ConfigurationProvider == nil {
		return nil
	}
	outputRoot := strings.TrimSpace(builder.ConfigurationProvider().OutputRoot)
	if len(outputRoot) == 0 {
		return nil
	}
	if mkdirError := os.MkdirAll(outputRoot, outputRootPermissionsConstant); mkdirError != nil {
		return fmt.Errorf(outputRootErrorTemplateConstant, outputRoot, mkdirError)
	}
	return nil
}

func (builder *CommandBuilder) resolvePresetCatalog() PresetCatalog {
	if builder.PresetCatalogFactory != nil {
		return builder.PresetCatalogFactory()
	}
	return NewEmbeddedPresetCatalog()
}

func (builder *CommandBuilder) resolveLogger() *zap.Logger {
	if builder.LoggerProvider == nil {
		return nil
	}
	return builder.LoggerProvider()
}

func (builder *CommandBuilder) defaultTask() string {
	if builder.ConfigurationProvider == nil {
		return defaultTaskFallbackConstant
	}
	defaultTask := strings.TrimSpace(builder.ConfigurationProvider().DefaultTask)
	if len(defaultTask) == 0 {
		return defaultTaskFallbackConstant
	}
	return defaultTask
}
