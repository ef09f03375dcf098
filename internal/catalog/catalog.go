// Package catalog holds the read-only drug reference data.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/drug-speak/internal/domain"
)

//go:embed drugs.yaml
var defaultCatalog []byte

// Sound is one pronunciation recording
type Sound struct {
	File   string `yaml:"file" json:"file"`
	Gender string `yaml:"gender" json:"gender"`
}

// Drug is a catalog entry
type Drug struct {
	ID               domain.DrugID `yaml:"id" json:"id"`
	Name             string        `yaml:"name" json:"name"`
	OtherNames       []string      `yaml:"other_names" json:"other_names,omitempty"`
	Categories       []string      `yaml:"categories" json:"categories"`
	MolecularFormula string        `yaml:"molecular_formula" json:"molecular_formula,omitempty"`
	Desc             string        `yaml:"desc" json:"desc"`
	Sounds           []Sound       `yaml:"sounds" json:"sounds"`
}

// InCategory reports whether the drug belongs to category id
func (d Drug) InCategory(id string) bool {
	return slices.Contains(d.Categories, id)
}

// Category groups drugs
type Category struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

type file struct {
	Categories []Category `yaml:"categories"`
	Drugs      []Drug     `yaml:"drugs"`
}

// Catalog is an immutable, ordered set of drugs and categories
type Catalog struct {
	drugs      []Drug
	byID       map[domain.DrugID]int
	categories []Category
	catByID    map[string]int
}

// Load reads a catalog from path, or the embedded catalog when path is empty
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return Parse(data)
}

// Default returns the embedded catalog
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Parse decodes and validates catalog YAML
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	c := &Catalog{
		drugs:      f.Drugs,
		byID:       make(map[domain.DrugID]int, len(f.Drugs)),
		categories: f.Categories,
		catByID:    make(map[string]int, len(f.Categories)),
	}
	for i, cat := range f.Categories {
		if cat.ID == "" {
			return nil, fmt.Errorf("parsing catalog: category %d has no id", i)
		}
		if _, dup := c.catByID[cat.ID]; dup {
			return nil, fmt.Errorf("parsing catalog: duplicate category %q", cat.ID)
		}
		c.catByID[cat.ID] = i
	}
	for i, d := range f.Drugs {
		if d.ID == "" {
			return nil, fmt.Errorf("parsing catalog: drug %d has no id", i)
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("parsing catalog: duplicate drug %q", d.ID)
		}
		for _, cat := range d.Categories {
			if _, ok := c.catByID[cat]; !ok {
				return nil, fmt.Errorf("parsing catalog: drug %q references unknown category %q", d.ID, cat)
			}
		}
		c.byID[d.ID] = i
	}
	return c, nil
}

// Drug returns the drug with the given id
func (c *Catalog) Drug(id domain.DrugID) (Drug, error) {
	i, ok := c.byID[id]
	if !ok {
		return Drug{}, domain.ErrDrugNotFound
	}
	return c.drugs[i], nil
}

// Drugs returns every drug in catalog order
func (c *Catalog) Drugs() []Drug {
	return slices.Clone(c.drugs)
}

// ByCategory returns the drugs in a category, in catalog order
func (c *Catalog) ByCategory(id string) ([]Drug, error) {
	if _, ok := c.catByID[id]; !ok {
		return nil, domain.ErrCategoryNotFound
	}
	var out []Drug
	for _, d := range c.drugs {
		if d.InCategory(id) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Categories returns every category in catalog order
func (c *Catalog) Categories() []Category {
	return slices.Clone(c.categories)
}

// Category returns the category with the given id
func (c *Catalog) Category(id string) (Category, error) {
	i, ok := c.catByID[id]
	if !ok {
		return Category{}, domain.ErrCategoryNotFound
	}
	return c.categories[i], nil
}

// CategoryNames resolves a drug's category ids to display names, skipping
// unknown ids
func (c *Catalog) CategoryNames(d Drug) []string {
	names := make([]string, 0, len(d.Categories))
	for _, id := range d.Categories {
		if i, ok := c.catByID[id]; ok {
			names = append(names, c.categories[i].Name)
		}
	}
	return names
}
