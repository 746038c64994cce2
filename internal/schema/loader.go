package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadVersionFile loads a single schema version document. The format is
// selected by extension: .json is parsed as JSON, anything else as YAML.
// Structural validation happens at registration, not here.
func LoadVersionFile(path string) (*Version, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema document %s: %w", path, err)
	}

	var version Version
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &version); err != nil {
			return nil, fmt.Errorf("failed to parse schema document %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &version); err != nil {
			return nil, fmt.Errorf("failed to parse schema document %s: %w", path, err)
		}
	}

	if version.ID == "" {
		return nil, fmt.Errorf("schema document %s declares no version id", path)
	}

	return &version, nil
}

// LoadVersionDir loads every schema document (*.yaml, *.yml, *.json) in dir
// in lexical filename order and registers each into the registry. Filename
// order therefore defines the version chain; name documents so the order is
// the migration order (e.g. 001_v1.yaml, 002_v2.yaml).
func LoadVersionDir(registry *Registry, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read schema directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		return fmt.Errorf("no schema documents found in %s", dir)
	}

	for _, name := range files {
		version, err := LoadVersionFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if err := registry.Register(version); err != nil {
			return err
		}
	}

	return nil
}
