package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	runcmd "github.com/tyemirov/cix/cmd/cli/run"
	"github.com/tyemirov/cix/internal/utils"
)

const (
	applicationNameConstant             = "cix"
	applicationShortDescriptionConstant = "Declarative task-pipeline executor"
	applicationLongDescriptionConstant  = "cix resolves named tasks with dependency ordering and runs their shell-backed steps, gated on the triggering event and branch."
	configFileFlagNameConstant          = "config"
	configFileFlagUsageConstant         = "Optional path to a configuration file (YAML)."
	logLevelFlagNameConstant            = "log-level"
	logLevelFlagUsageConstant           = "Override the configured log level."
	logFormatFlagNameConstant           = "log-format"
	logFormatFlagUsageConstant          = "Override the configured log format (structured or console)."
	environmentPrefixConstant           = "CIX"
	configurationNameConstant           = "config"
	configurationTypeConstant           = "yaml"
	userConfigurationDirectoryConstant  = ".cix"
	defaultConfigurationSearchConstant  = "."
	configurationLoadErrorTemplate      = "unable to load configuration: %w"
	loggerCreationErrorTemplateConstant = "unable to create logger: %w"
)

// Execute builds the application and runs the invoked command.
func Execute() error {
	application := NewApplication()
	rootCommand, buildError := application.Build()
	if buildError != nil {
		return buildError
	}
	return rootCommand.Execute()
}

// Application wires configuration, logging, and commands together.
type Application struct {
	viperInstance  *viper.Viper
	configuration  ApplicationConfiguration
	logger         *zap.Logger
	configFilePath string
	logLevelValue  string
	logFormatValue string
}

// NewApplication constructs an Application instance.
func NewApplication() *Application {
	return &Application{viperInstance: viper.New()}
}

// Build assembles the root command with persistent flags and subcommands.
func (application *Application) Build() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:           applicationNameConstant,
		Short:         applicationShortDescriptionConstant,
		Long:          applicationLongDescriptionConstant,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			return application.initialize()
		},
	}

	rootCommand.PersistentFlags().StringVar(&application.configFilePath, configFileFlagNameConstant, "", configFileFlagUsageConstant)
	rootCommand.PersistentFlags().StringVar(&application.logLevelValue, logLevelFlagNameConstant, "", logLevelFlagUsageConstant)
	rootCommand.PersistentFlags().StringVar(&application.logFormatValue, logFormatFlagNameConstant, "", logFormatFlagUsageConstant)

	runCommandBuilder := &runcmd.CommandBuilder{
		LoggerProvider:        func() *zap.Logger { return application.logger },
		ConfigurationProvider: func() runcmd.CommandConfiguration { return application.runConfiguration() },
	}
	runCommand, runCommandError := runCommandBuilder.Build()
	if runCommandError != nil {
		return nil, runCommandError
	}
	rootCommand.AddCommand(runCommand)

	return rootCommand, nil
}

func (application *Application) initialize() error {
	application.viperInstance.SetDefault(commonLogLevelKeyConstant, defaultLogLevelConstant)
	application.viperInstance.SetDefault(commonLogFormatKeyConstant, defaultLogFormatConstant)
	application.viperInstance.SetDefault(commonDefaultTaskConstant, defaultTaskNameConstant)
	application.viperInstance.SetDefault(commonOutputRootConstant, defaultOutputRootConstant)
	application.viperInstance.SetConfigName(configurationNameConstant)
	application.viperInstance.SetConfigType(configurationTypeConstant)
	application.viperInstance.AddConfigPath(defaultConfigurationSearchConstant)
	application.viperInstance.AddConfigPath(fmt.Sprintf("$HOME/%s", userConfigurationDirectoryConstant))
	application.viperInstance.SetEnvPrefix(environmentPrefixConstant)
	application.viperInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	application.viperInstance.AutomaticEnv()

	if len(strings.TrimSpace(application.configFilePath)) > 0 {
		application.viperInstance.SetConfigFile(application.configFilePath)
	}

	if readError := application.viperInstance.ReadInConfig(); readError != nil {
		var notFoundError viper.ConfigFileNotFoundError
		if !errors.As(readError, &notFoundError) {
			return fmt.Errorf(configurationLoadErrorTemplate, readError)
		}
	}

	configuration, decodeError := decodeApplicationConfiguration(application.viperInstance)
	if decodeError != nil {
		return fmt.Errorf(configurationLoadErrorTemplate, decodeError)
	}
	application.configuration = configuration

	effectiveLogLevel := configuration.Common.LogLevel
	if len(strings.TrimSpace(application.logLevelValue)) > 0 {
		effectiveLogLevel = strings.TrimSpace(application.logLevelValue)
	}
	effectiveLogFormat := configuration.Common.LogFormat
	if len(strings.TrimSpace(application.logFormatValue)) > 0 {
		effectiveLogFormat = strings.TrimSpace(application.logFormatValue)
	}

	logger, loggerError := utils.NewLoggerFactory().CreateLogger(utils.LogLevel(effectiveLogLevel), utils.LogFormat(effectiveLogFormat))
	if loggerError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, loggerError)
	}
	application.logger = logger
	return nil
}

func (application *Application) runConfiguration() runcmd.CommandConfiguration {
	return runcmd.CommandConfiguration{
		DefaultTask: application.configuration.Common.DefaultTask,
		OutputRoot:  application.configuration.Common.OutputRoot,
	}
}
