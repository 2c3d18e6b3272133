package style

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is a category profile deciding which source ways are footprints
type Config struct {
	// Buildings holds the tag rules a way must pass to be imported
	Buildings *FilterConfig `yaml:"buildings,omitempty"`
	// Bounds optionally restricts accepted nodes, "minlon,minlat,maxlon,maxlat"
	Bounds string `yaml:"bounds,omitempty"`
	// Source is the provenance value written on served ways
	Source string `yaml:"source,omitempty"`
}

// FilterConfig defines tag rules for footprint ways
type FilterConfig struct {
	// RequireAny lists category keys in priority order. The first one with
	// a non-empty value names the building category.
	RequireAny []string `yaml:"require_any,omitempty"`
	// Include restricts accepted values per key; an empty list accepts any
	// value and "*" matches everything
	Include map[string][]string `yaml:"include,omitempty"`
	// Exclude rejects features carrying these values, applied after include
	Exclude map[string][]string `yaml:"exclude,omitempty"`
}

// LoadConfig loads a category profile from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read style file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse style YAML: %w", err)
	}
	if cfg.Buildings == nil {
		cfg.Buildings = DefaultConfig().Buildings
	}
	if len(cfg.Buildings.RequireAny) == 0 {
		return nil, fmt.Errorf("style %s: buildings.require_any must name at least one key", path)
	}

	return &cfg, nil
}

// DefaultConfig recognizes any way tagged building=* except building=no
func DefaultConfig() *Config {
	return &Config{
		Buildings: &FilterConfig{
			RequireAny: []string{"building"},
			Exclude:    map[string][]string{"building": {"no"}},
		},
	}
}

// Filter recognizes footprint categories from tags
type Filter struct {
	cfg *FilterConfig
}

// NewFilter creates a filter from configuration
func NewFilter(cfg *FilterConfig) *Filter {
	if cfg == nil || len(cfg.RequireAny) == 0 {
		return &Filter{cfg: DefaultConfig().Buildings}
	}
	return &Filter{cfg: cfg}
}

// Category returns the building category for a tag set, or false if the
// way is not a footprint under this profile. Blank values do not name a
// category.
func (f *Filter) Category(tags map[string]string) (string, bool) {
	category := ""
	for _, key := range f.cfg.RequireAny {
		if v := strings.TrimSpace(tags[key]); v != "" {
			category = v
			break
		}
	}
	if category == "" {
		return "", false
	}

	if len(f.cfg.Include) > 0 {
		matched := false
		for key, values := range f.cfg.Include {
			if tagValue, ok := tags[key]; ok && matchAny(values, strings.TrimSpace(tagValue)) {
				matched = true
				break
			}
		}
		if !matched {
			return "", false
		}
	}

	for key, values := range f.cfg.Exclude {
		if tagValue, ok := tags[key]; ok && matchAny(values, strings.TrimSpace(tagValue)) {
			return "", false
		}
	}

	return category, true
}

// empty values match any tag value
func matchAny(values []string, tagValue string) bool {
	if len(values) == 0 {
		return true
	}
	for _, v := range values {
		if v == tagValue || v == "*" {
			return true
		}
	}
	return false
}
