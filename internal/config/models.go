package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelSpec describes one generative backend of the model registry.
type ModelSpec struct {
	Name        string  `yaml:"name"`
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	BaseURL     string  `yaml:"base_url"`
	Project     string  `yaml:"project"`
	Region      string  `yaml:"region"`
}

type modelsFile struct {
	Default string      `yaml:"default"`
	Models  []ModelSpec `yaml:"models"`
}

// ModelSpecs returns the registry entries in fallback order and the default model name.
// Without MODELS_FILE the registry is "fast" (Ollama) plus "smart" (Vertex AI) when a
// project is configured.
func (c Config) ModelSpecs() ([]ModelSpec, string, error) {
	if strings.TrimSpace(c.ModelsFile) == "" {
		return c.envModelSpecs(), c.DefaultModel, nil
	}
	raw, err := os.ReadFile(c.ModelsFile)
	if err != nil {
		return nil, "", fmt.Errorf("read models file: %w", err)
	}
	return parseModels(raw, c)
}

func (c Config) envModelSpecs() []ModelSpec {
	specs := []ModelSpec{{
		Name:        "fast",
		Provider:    ProviderOllama,
		Model:       c.OllamaGenModel,
		Temperature: c.GenerationTemperature,
		BaseURL:     c.OllamaURL,
	}}
	if c.VertexProject != "" {
		specs = append(specs, ModelSpec{
			Name:        "smart",
			Provider:    ProviderVertex,
			Model:       c.VertexModel,
			Temperature: c.GenerationTemperature,
			Project:     c.VertexProject,
			Region:      c.VertexRegion,
		})
	}
	return specs
}

func parseModels(raw []byte, c Config) ([]ModelSpec, string, error) {
	var file modelsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, "", fmt.Errorf("parse models file: %w", err)
	}
	if len(file.Models) == 0 {
		return nil, "", fmt.Errorf("models file declares no models")
	}

	seen := make(map[string]struct{}, len(file.Models))
	out := make([]ModelSpec, 0, len(file.Models))
	for i, spec := range file.Models {
		spec.Name = strings.TrimSpace(spec.Name)
		spec.Provider = strings.ToLower(strings.TrimSpace(spec.Provider))
		if spec.Name == "" {
			return nil, "", fmt.Errorf("model %d: name is required", i)
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, "", fmt.Errorf("model %q declared twice", spec.Name)
		}
		seen[spec.Name] = struct{}{}

		switch spec.Provider {
		case ProviderOllama:
			if spec.BaseURL == "" {
				spec.BaseURL = c.OllamaURL
			}
		case ProviderVertex:
			if spec.Project == "" {
				spec.Project = c.VertexProject
			}
			if spec.Region == "" {
				spec.Region = c.VertexRegion
			}
		default:
			return nil, "", fmt.Errorf("model %q: unknown provider %q", spec.Name, spec.Provider)
		}
		if spec.Model == "" {
			return nil, "", fmt.Errorf("model %q: model is required", spec.Name)
		}
		out = append(out, spec)
	}

	def := c.DefaultModel
	if def == "" {
		def = file.Default
	}
	if def != "" {
		if _, ok := seen[def]; !ok {
			return nil, "", fmt.Errorf("default model %q is not declared", def)
		}
	}
	return out, def, nil
}
