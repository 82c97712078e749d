package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/repnlab/labstore/common/models"
)

// CategoryTable is the immutable set of categories known to the service.
// It is built once at start-up and shared read-only.
type CategoryTable struct {
	ordered []models.Category
	byName  map[string]models.Category
	groups  []string
}

type categoriesFile struct {
	Groups []struct {
		Name       string `yaml:"name"`
		Categories []struct {
			Name         string `yaml:"name"`
			DashboardURL string `yaml:"dashboard_url"`
		} `yaml:"categories"`
	} `yaml:"groups"`
}

// LoadCategories reads the category table from a YAML file, or returns the
// built-in table when path is empty
func LoadCategories(path string) (*CategoryTable, error) {
	if path == "" {
		return DefaultCategories(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read categories file: %w", err)
	}

	return ParseCategories(data)
}

// ParseCategories decodes a YAML category table
func ParseCategories(data []byte) (*CategoryTable, error) {
	var file categoriesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse categories: %w", err)
	}

	var categories []models.Category
	for _, g := range file.Groups {
		for _, c := range g.Categories {
			categories = append(categories, models.Category{
				Name:         strings.TrimSpace(c.Name),
				Group:        strings.TrimSpace(g.Name),
				DashboardURL: strings.TrimSpace(c.DashboardURL),
			})
		}
	}

	return NewCategoryTable(categories)
}

// NewCategoryTable validates and indexes categories
func NewCategoryTable(categories []models.Category) (*CategoryTable, error) {
	t := &CategoryTable{
		byName: make(map[string]models.Category, len(categories)),
	}

	seenGroup := make(map[string]bool)
	for _, c := range categories {
		if c.Name == "" {
			return nil, fmt.Errorf("category name is required")
		}
		if strings.ContainsAny(c.Name, `/\`) || c.Name == "." || c.Name == ".." {
			return nil, fmt.Errorf("category name %q is not a valid folder name", c.Name)
		}
		if _, dup := t.byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate category: %s", c.Name)
		}
		t.byName[c.Name] = c
		t.ordered = append(t.ordered, c)
		if !seenGroup[c.Group] {
			seenGroup[c.Group] = true
			t.groups = append(t.groups, c.Group)
		}
	}

	return t, nil
}

// Lookup returns the category with the given name
func (t *CategoryTable) Lookup(name string) (models.Category, bool) {
	c, ok := t.byName[name]
	return c, ok
}

// Len returns the number of categories
func (t *CategoryTable) Len() int {
	return len(t.ordered)
}

// All returns the categories in configuration order
func (t *CategoryTable) All() []models.Category {
	out := make([]models.Category, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// Names returns the category names sorted alphabetically
func (t *CategoryTable) Names() []string {
	names := make([]string, 0, len(t.ordered))
	for _, c := range t.ordered {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// Groups returns the categories of each group, groups in configuration order
func (t *CategoryTable) Groups() []models.CategoryGroup {
	out := make([]models.CategoryGroup, 0, len(t.groups))
	for _, g := range t.groups {
		group := models.CategoryGroup{Name: g}
		for _, c := range t.ordered {
			if c.Group == g {
				group.Categories = append(group.Categories, c)
			}
		}
		out = append(out, group)
	}
	return out
}

const spotfireBase = "https://spotfiremypn.wdc.com/spotfire/wp/analysis?file=/ADHOC/RELIABILITY/"

// DefaultCategories returns the MI and Chemlab test table
func DefaultCategories() *CategoryTable {
	mi := []string{"TRH", "HACT", "HEAD WEAR", "FLYABILITY", "HBOT", "SBT", "ADT"}
	chemlab := []string{"AD COBALT", "ICA", "GCMS", "LCQTOF", "FTIR"}

	var categories []models.Category
	for _, name := range mi {
		categories = append(categories, models.Category{
			Name:         name,
			Group:        "MI",
			DashboardURL: spotfireBase + strings.ReplaceAll(name, " ", ""),
		})
	}
	for _, name := range chemlab {
		categories = append(categories, models.Category{
			Name:         name,
			Group:        "Chemlab",
			DashboardURL: spotfireBase + strings.ReplaceAll(name, " ", ""),
		})
	}

	t, err := NewCategoryTable(categories)
	if err != nil {
		panic(fmt.Sprintf("built-in category table is invalid: %v", err))
	}
	return t
}
