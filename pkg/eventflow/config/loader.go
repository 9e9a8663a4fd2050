package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSettings reads Settings from a YAML or JSON file on top of
// Defaults and validates the result.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings file: %w", err)
	}
	return ParseSettings(data)
}

// ParseSettings decodes YAML (or JSON, which is valid YAML) on top of
// Defaults and validates the result.
func ParseSettings(data []byte) (Settings, error) {
	s := Defaults()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	if s.Processors == nil {
		s.Processors = map[string]ProcessorSettings{}
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
