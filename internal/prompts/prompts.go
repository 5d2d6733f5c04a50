// Package prompts maps chat modes to the system instruction injected ahead
// of the conversation.
package prompts

import (
	"fmt"
	"os"

	"nexus-api/internal/shared"

	"gopkg.in/yaml.v3"
)

type Catalogue struct {
	byMode map[string]string
}

// Default returns the built-in catalogue.
func Default() *Catalogue {
	return &Catalogue{byMode: builtin()}
}

// Load returns the built-in catalogue overlaid with the modes defined in the
// YAML file at path. An empty path yields the built-ins.
func Load(path string) (*Catalogue, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed reading prompts file: %w", err)
	}
	var overrides map[string]string
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("failed parsing prompts file %s: %w", path, err)
	}
	for mode, text := range overrides {
		if mode == "" || text == "" {
			continue
		}
		c.byMode[mode] = text
	}
	return c, nil
}

func (c *Catalogue) Lookup(mode string) (string, bool) {
	text, ok := c.byMode[mode]
	return text, ok
}

// ForMode returns the instruction for mode, falling back to the tutor
// instruction for modes the catalogue does not know.
func (c *Catalogue) ForMode(mode string) string {
	if text, ok := c.byMode[mode]; ok {
		return text
	}
	return c.byMode[shared.ModeTutor]
}

func (c *Catalogue) Modes() []string {
	modes := make([]string, 0, len(c.byMode))
	for m := range c.byMode {
		modes = append(modes, m)
	}
	return modes
}
