// Package industry holds the catalog of industries a run can target.
package industry

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Industry is one searchable business category.
type Industry struct {
	Key         string   `yaml:"key" json:"key"`
	Label       string   `yaml:"label" json:"label"`
	SearchTerms []string `yaml:"search_terms" json:"search_terms"`
}

// Catalog indexes industries by key and label.
type Catalog struct {
	Industries []Industry `yaml:"industries"`

	index map[string]int
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(eris.Wrap(err, "industry: embedded catalog"))
	}
	return c
}

// Load reads a catalog from path. An empty path yields the default catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "industry: read catalog %s", path)
	}
	return Parse(data)
}

// Parse decodes a catalog document with a top-level "industry" key.
func Parse(data []byte) (*Catalog, error) {
	var wrapper struct {
		Industry Catalog `yaml:"industry"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "industry: parse catalog")
	}

	c := &wrapper.Industry
	if len(c.Industries) == 0 {
		return nil, eris.New("industry: catalog is empty")
	}
	c.index = make(map[string]int, 2*len(c.Industries))
	for i, ind := range c.Industries {
		if strings.TrimSpace(ind.Key) == "" {
			return nil, eris.Errorf("industry: entry %d has no key", i)
		}
		k := normalize(ind.Key)
		if _, dup := c.index[k]; dup {
			return nil, eris.Errorf("industry: duplicate key %q", ind.Key)
		}
		c.index[k] = i
		if ind.Label != "" {
			if _, taken := c.index[normalize(ind.Label)]; !taken {
				c.index[normalize(ind.Label)] = i
			}
		}
	}
	return c, nil
}

// Lookup resolves a key or label, ignoring case and surrounding space.
func (c *Catalog) Lookup(name string) (Industry, bool) {
	i, ok := c.index[normalize(name)]
	if !ok {
		return Industry{}, false
	}
	return c.Industries[i], true
}

// Keys returns every industry key in catalog order.
func (c *Catalog) Keys() []string {
	keys := make([]string, len(c.Industries))
	for i, ind := range c.Industries {
		keys[i] = ind.Key
	}
	return keys
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
