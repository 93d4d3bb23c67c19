package workspace

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/taskfactory/daemon/internal/ferrors"
)

const configFileName = "factory.json"

// legacyLocations are checked, in order, under the workspace's project
// path when <artifactRoot>/factory.json does not yet exist.
var legacyLocations = []string{
	filepath.Join(".taskfactory", "config.yaml"),
	filepath.Join(".pi", "config.yaml"),
}

// loadConfig reads <artifactRoot>/factory.json, migrating a legacy
// workspace-local config in place on first read if the new layout is
// absent, per spec §4.2.
func loadConfig(artifactRoot, projectPath string) (Config, error) {
	path := filepath.Join(artifactRoot, configFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		var cfg Config
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, ferrors.Validation("parse %s: %v", path, err)
		}
		return cfg, nil
	}
	if !os.IsNotExist(err) {
		return Config{}, ferrors.IO(err, "read %s", path)
	}

	for _, rel := range legacyLocations {
		legacyPath := filepath.Join(projectPath, rel)
		legacyData, err := os.ReadFile(legacyPath)
		if err != nil {
			continue
		}
		cfg := DefaultConfig()
		if err := yaml.Unmarshal(legacyData, &cfg); err != nil {
			return Config{}, ferrors.Validation("parse legacy config %s: %v", legacyPath, err)
		}
		log.Printf("[WORKSPACE] migrating legacy config %s -> %s", legacyPath, path)
		if err := writeConfig(artifactRoot, cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}

	cfg := DefaultConfig()
	if err := writeConfig(artifactRoot, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func writeConfig(artifactRoot string, cfg Config) error {
	path := filepath.Join(artifactRoot, configFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return ferrors.IO(err, "marshal workspace config")
	}
	if err := os.MkdirAll(artifactRoot, 0o755); err != nil {
		return ferrors.IO(err, "create artifact root %s", artifactRoot)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ferrors.IO(err, "write workspace config")
	}
	if err := os.Rename(tmp, path); err != nil {
		return ferrors.IO(err, "rename workspace config into place")
	}
	return nil
}
