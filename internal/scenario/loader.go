package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes and validates a scenario. Unknown fields are rejected.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("scenario file is empty")
		}
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// Load loads a scenario from a YAML file.
func Load(path string) (*Scenario, error) {
	// #nosec G304 -- Scenario file path is intentionally user-provided
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", path, err)
	}

	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.path = path
	return s, nil
}

// LoadDir loads every *.yaml and *.yml file in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	files, err := scenarioFiles(dir)
	if err != nil {
		return nil, err
	}

	scenarios := make([]*Scenario, 0, len(files))
	for _, f := range files {
		s, err := Load(f)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// LoadPaths loads scenario files and directories. Scenario names must be
// unique across all paths.
func LoadPaths(paths ...string) ([]*Scenario, error) {
	var all []*Scenario
	seen := make(map[string]string)
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}

		var loaded []*Scenario
		if info.IsDir() {
			loaded, err = LoadDir(p)
		} else {
			var s *Scenario
			s, err = Load(p)
			loaded = []*Scenario{s}
		}
		if err != nil {
			return nil, err
		}

		for _, s := range loaded {
			if prev, dup := seen[s.Name]; dup {
				return nil, fmt.Errorf("duplicate scenario name %q in %s and %s", s.Name, prev, s.Path())
			}
			seen[s.Name] = s.Path()
			all = append(all, s)
		}
	}
	return all, nil
}

func scenarioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !isScenarioFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func isScenarioFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
