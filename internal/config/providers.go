package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProviderEntry is one provider binding in the providers file. The fallback
// order is the file order. Secrets are referenced by environment variable
// name so the file itself stays safe to commit.
type ProviderEntry struct {
	Name      string `yaml:"name"`
	Endpoint  string `yaml:"endpoint"`
	Username  string `yaml:"username"`
	SecretEnv string `yaml:"secret_env"`
}

type ProvidersConfig struct {
	Providers []ProviderEntry `yaml:"providers"`
}

func LoadProviders(path string) (*ProvidersConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers config: %w", err)
	}

	var cfg ProvidersConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse providers config: %w", err)
	}
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("providers config %s lists no providers", path)
	}
	for i, p := range cfg.Providers {
		if p.Name == "" {
			return nil, fmt.Errorf("providers config %s: entry %d has no name", path, i)
		}
	}
	return &cfg, nil
}

// Secret resolves the entry's secret from the environment.
func (p ProviderEntry) Secret() string {
	if p.SecretEnv == "" {
		return ""
	}
	return os.Getenv(p.SecretEnv)
}
