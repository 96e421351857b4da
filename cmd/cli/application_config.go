package cli

import (
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// ApplicationConfiguration describes the persisted configuration for the
// CLI entrypoint.
type ApplicationConfiguration struct {
	Common ApplicationCommonConfiguration `mapstructure:"common"`
}

// ApplicationCommonConfiguration stores logging and execution defaults
// shared across commands.
type ApplicationCommonConfiguration struct {
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	DefaultTask string `mapstructure:"default_task"`
	OutputRoot  string `mapstructure:"output_root"`
}

const (
	defaultLogLevelConstant    = "info"
	defaultLogFormatConstant   = "console"
	defaultTaskNameConstant    = "check"
	defaultOutputRootConstant  = "site"
	commonLogLevelKeyConstant  = "common.log_level"
	commonLogFormatKeyConstant = "common.log_format"
	commonDefaultTaskConstant  = "common.default_task"
	commonOutputRootConstant   = "common.output_root"
)

func defaultApplicationConfiguration() ApplicationConfiguration {
	return ApplicationConfiguration{
		Common: ApplicationCommonConfiguration{
			LogLevel:    defaultLogLevelConstant,
			LogFormat:   defaultLogFormatConstant,
			DefaultTask: defaultTaskNameConstant,
			OutputRoot:  defaultOutputRootConstant,
		},
	}
}

func decodeApplicationConfiguration(viperInstance *viper.Viper) (ApplicationConfiguration, error) {
	configuration := defaultApplicationConfiguration()

	decoder, decoderError := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &configuration,
		WeaklyTypedInput: true,
	})
	if decoderError != nil {
		return ApplicationConfiguration{}, decoderError
	}

	if decodeError := decoder.Decode(viperInstance.AllSettings()); decodeError != nil {
		return ApplicationConfiguration{}, decodeError
	}

	configuration.Common.LogLevel = strings.TrimSpace(configuration.Common.LogLevel)
	configuration.Common.LogFormat = strings.TrimSpace(configuration.Common.LogFormat)
	configuration.Common.DefaultTask = strings.TrimSpace(configuration.Common.DefaultTask)
	if len(configuration.Common.LogLevel) == 0 {
		configuration.Common.LogLevel = defaultLogLevelConstant
	}
	if len(configuration.Common.LogFormat) == 0 {
		configuration.Common.LogFormat = defaultLogFormatConstant
	}
	if len(configuration.Common.DefaultTask) == 0 {
		configuration.Common.DefaultTask = defaultTaskNameConstant
	}

	return configuration, nil
}
