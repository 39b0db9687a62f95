package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// File is the on-disk integrations document (YAML, JSON or TOML)
type File struct {
	Integrations []RawConfig `mapstructure:"integrations"`
}

// LoadFile reads integration definitions from path. Entries are returned unvalidated so
// that each one can fail on its own without blocking the rest.
func LoadFile(path string) ([]RawConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read integrations file %s: %w", path, err)
	}

	var file File
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("failed to decode integrations file %s: %w", path, err)
	}
	if len(file.Integrations) == 0 {
		return nil, fmt.Errorf("no integrations defined in %s", path)
	}
	return file.Integrations, nil
}
