// Package prompts loads the agent prompt templates once at startup.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultTemplates []byte

// Templates holds every prompt the agents use. Placeholders use the
// {{name}} form and are substituted with Render.
type Templates struct {
	GeneratorSystem    string `yaml:"generator_system"`
	Generator          string `yaml:"generator"`
	DetectorSystem     string `yaml:"detector_system"`
	Detector           string `yaml:"detector"`
	OrchestratorSystem string `yaml:"orchestrator_system"`
	OrchestratorGoal   string `yaml:"orchestrator_goal"`
}

// Default returns the embedded templates.
func Default() (*Templates, error) {
	t := &Templates{}
	if err := yaml.Unmarshal(defaultTemplates, t); err != nil {
		return nil, fmt.Errorf("parse embedded prompts: %w", err)
	}
	return t, t.Validate()
}

// Load reads templates from path, falling back to the embedded defaults for
// any template the file leaves empty. An empty path returns the defaults.
func Load(path string) (*Templates, error) {
	t, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	var override Templates
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse prompts %s: %w", path, err)
	}
	t.merge(&override)
	return t, t.Validate()
}

func (t *Templates) merge(o *Templates) {
	pick := func(dst *string, src string) {
		if strings.TrimSpace(src) != "" {
			*dst = src
		}
	}
	pick(&t.GeneratorSystem, o.GeneratorSystem)
	pick(&t.Generator, o.Generator)
	pick(&t.DetectorSystem, o.DetectorSystem)
	pick(&t.Detector, o.Detector)
	pick(&t.OrchestratorSystem, o.OrchestratorSystem)
	pick(&t.OrchestratorGoal, o.OrchestratorGoal)
}

// Validate checks that every template is present and carries its required
// placeholders.
func (t *Templates) Validate() error {
	required := []struct {
		name, value string
		vars        []string
	}{
		{"generator_system", t.GeneratorSystem, nil},
		{"generator", t.Generator, []string{"scenario"}},
		{"detector_system", t.DetectorSystem, nil},
		{"detector", t.Detector, []string{"email_content"}},
		{"orchestrator_system", t.OrchestratorSystem, nil},
		{"orchestrator_goal", t.OrchestratorGoal, nil},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("prompt %q is empty", r.name)
		}
		for _, v := range r.vars {
			if !strings.Contains(r.value, "{{"+v+"}}") {
				return fmt.Errorf("prompt %q is missing placeholder {{%s}}", r.name, v)
			}
		}
	}
	return nil
}

// Render substitutes {{key}} placeholders.
func Render(template string, vars map[string]string) string {
	for k, v := range vars {
		template = strings.ReplaceAll(template, "{{"+k+"}}", v)
	}
	return template
}
