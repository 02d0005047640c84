// Package pipeline loads pipeline manifests: YAML files naming a workflow
// script together with its configs, profiles and params.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mpataki/nfwatch/internal/models"
)

var ErrUnknownPipeline = errors.New("unknown pipeline")

// Parse reads one manifest. Relative paths that exist next to the manifest
// are made absolute; anything else (for example a remote "org/repo"
// pipeline) is passed to the engine as written.
func Parse(path string) (*models.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline manifest: %w", err)
	}

	var p models.Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline YAML: %w", err)
	}

	if p.Name == "" {
		p.Name = strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), ".yaml"), ".yml")
	}

	dir := filepath.Dir(path)
	p.Path = resolve(dir, p.Path)
	p.ParamsFile = resolve(dir, p.ParamsFile)
	p.Schema = resolve(dir, p.Schema)
	for i, cfg := range p.Configs {
		p.Configs[i] = resolve(dir, cfg)
	}

	return &p, nil
}

func LoadAll(dirs []string) (map[string]*models.Pipeline, error) {
	pipelines := make(map[string]*models.Pipeline)

	for _, dir := range dirs {
		if err := loadFromDir(dir, pipelines); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
	}

	return pipelines, nil
}

func loadFromDir(dir string, pipelines map[string]*models.Pipeline) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		p, err := Parse(path)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		pipelines[p.Name] = p
	}

	return nil
}

// Resolve finds a pipeline by manifest name. A workflow script path (ending
// in .nf, or an existing directory) yields an ad hoc pipeline instead.
func Resolve(ref string, dirs []string) (*models.Pipeline, error) {
	if strings.HasSuffix(ref, ".nf") || isDir(ref) {
		abs, err := filepath.Abs(ref)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(filepath.Base(abs), ".nf")
		return &models.Pipeline{Name: name, Path: abs}, nil
	}

	pipelines, err := LoadAll(dirs)
	if err != nil {
		return nil, err
	}
	p, ok := pipelines[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPipeline, ref)
	}
	return p, nil
}

func Validate(p *models.Pipeline) error {
	if p.Name == "" {
		return fmt.Errorf("pipeline must have a name")
	}
	if p.Path == "" {
		return fmt.Errorf("pipeline %q must have a path", p.Name)
	}
	for _, prof := range p.Profiles {
		if prof == "" || strings.ContainsAny(prof, ", \t") {
			return fmt.Errorf("pipeline %q: invalid profile %q", p.Name, prof)
		}
	}
	if err := p.Params.Validate(); err != nil {
		return fmt.Errorf("pipeline %q: %w", p.Name, err)
	}
	return nil
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	joined := filepath.Join(dir, path)
	if _, err := os.Stat(joined); err == nil {
		return joined
	}
	return path
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
