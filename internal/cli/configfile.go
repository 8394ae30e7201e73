package cli

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// INI sections of the fallback configuration file.
const (
	SectionGlobal = "global"
	SectionHooks  = "hooks"
)

// FileConfig is the content of the fallback configuration file.
type FileConfig struct {
	Path string
	// Global holds defaults for command line options, keyed as in the file.
	Global map[string]string
	// Hooks holds "<service>.<action>" hook command lines.
	Hooks map[string]string
}

// LoadConfigFile parses an INI configuration file.
func LoadConfigFile(path string) (*FileConfig, error) {
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	cfg := &FileConfig{
		Path:   path,
		Global: map[string]string{},
		Hooks:  map[string]string{},
	}
	if s, err := f.GetSection(SectionGlobal); err == nil {
		cfg.Global = s.KeysHash()
	}
	if s, err := f.GetSection(SectionHooks); err == nil {
		cfg.Hooks = s.KeysHash()
	}
	return cfg, nil
}
