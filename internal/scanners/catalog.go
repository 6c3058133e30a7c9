package scanners

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CatalogOverride adjusts one built-in tool. Zero fields are left alone.
type CatalogOverride struct {
	Binary      string   `yaml:"binary"`
	Image       string   `yaml:"image"`
	Timeout     string   `yaml:"timeout"`
	DefaultArgs []string `yaml:"default_args"`
}

// Catalog is the on-disk override file:
//
//	tools:
//	  nmap:
//	    timeout: 5m
//	    default_args: ["-sV", "-T3"]
type Catalog struct {
	Tools map[string]CatalogOverride `yaml:"tools"`
}

func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse tool catalog: %w", err)
	}
	return &c, nil
}

// Apply returns tools with the catalog overrides merged in. Overrides for
// names outside tools are an error so typos do not pass silently.
func (c *Catalog) Apply(tools []Tool) ([]Tool, error) {
	byName := make(map[string]int, len(tools))
	for i, t := range tools {
		byName[t.Name] = i
	}

	out := append([]Tool(nil), tools...)
	for name, o := range c.Tools {
		i, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s in catalog", ErrToolUnknown, name)
		}
		t := out[i]
		if o.Binary != "" {
			t.Binary = o.Binary
		}
		if o.Image != "" {
			t.Image = o.Image
		}
		if o.Timeout != "" {
			d, err := time.ParseDuration(o.Timeout)
			if err != nil || d <= 0 {
				return nil, fmt.Errorf("catalog timeout for %s: %q", name, o.Timeout)
			}
			t.Timeout = d
		}
		if o.DefaultArgs != nil {
			t.DefaultArgs = append([]string(nil), o.DefaultArgs...)
		}
		out[i] = t
	}
	return out, nil
}
