package run

import (
	"embed"

	"github.com/tyemirov/cix/internal/workflow"
)

//go:embed presets/*.yaml
var embeddedPipelinePresets embed.FS

// PresetMetadata describes an embedded pipeline definition.
type PresetMetadata struct {
	Name        string
	Description string
}

// PresetCatalog loads embedded pipeline presets.
type PresetCatalog interface {
	List() []PresetMetadata
	Load(name string) (workflow.Configuration, bool, error)
}

type presetDefinition struct {
	Name        string
	Description string
	FileName    string
}

var embeddedPresetDefinitions = []presetDefinition{
	{
		Name:        "ci",
		Description: "Build, check, and test with a compose-backed environment; stage docs and publish on push to main.",
		FileName:    "presets/ci.yaml",
	},
}

type embeddedPresetCatalog struct {
	files       embed.FS
	definitions []presetDefinition
}

// NewEmbeddedPresetCatalog constructs a PresetCatalog backed by embedded
// YAML definitions.
func NewEmbeddedPresetCatalog() PresetCatalog {
	return &embeddedPresetCatalog{
		files:       embeddedPipelinePresets,
		definitions: embeddedPresetDefinitions,
	}
}

func (catalog *embeddedPresetCatalog) List() []PresetMetadata {
	metadata := make([]PresetMetadata, 0, len(catalog.definitions))
	for definitionIndex := range catalog.definitions {
		metadata = append(metadata, PresetMetadata{
			Name:        catalog.definitions[definitionIndex].Name,
			Description: catalog.definitions[definitionIndex].Description,
		})
	}
	return metadata
}

func (catalog *embeddedPresetCatalog) Load(name string) (workflow.Configuration, bool, error) {
	for definitionIndex := range catalog.definitions {
		if catalog.definitions[definitionIndex].Name != name {
			continue
		}
		contentBytes, readError := catalog.files.ReadFile(catalog.definitions[definitionIndex].FileName)
		if readError != nil {
			return workflow.Configuration{}, false, readError
		}
		configuration, parseError := workflow.ParseConfiguration(contentBytes)
		if parseError != nil {
			return workflow.Configuration{}, false, parseError
		}
		return configuration, true, nil
	}
	return workflow.Configuration{}, false, nil
}
