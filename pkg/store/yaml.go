package store

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/psantana5/shotread/pkg/models"
)

// catalogFile is the on-disk layout of a catalog
type catalogFile struct {
	Items models.Catalog `yaml:"items"`
}

// LoadCatalogFile reads and validates a YAML catalog
func LoadCatalogFile(path string) (models.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	if err := f.Items.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	return f.Items, nil
}

// SaveCatalogFile writes catalog as YAML, creating parent directories
func SaveCatalogFile(path string, catalog models.Catalog) error {
	if err := catalog.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(catalogFile{Items: catalog})
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}
