package config

import (
	"gopkg.in/yaml.v3"
)

// Dump renders the effective configuration as YAML, in the same layout a
// .storewatch.yml file uses, so users can inspect what the merged
// flag/env/file configuration resolved to.
func (c *Config) Dump() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
