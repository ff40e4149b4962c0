package content

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

const (
	JoinUnion        = ","
	JoinIntersection = "+"
)

type Taxonomy struct {
	Name        string   `yaml:"name"`
	QueryVar    string   `yaml:"query_var"`
	Join        string   `yaml:"join"`
	ObjectTypes []string `yaml:"object_types"`
}

// JoinSeparator returns the separator used when combining several selected
// terms of this taxonomy into one query var.
func (t Taxonomy) JoinSeparator() string {
	if t.Join == JoinIntersection {
		return JoinIntersection
	}
	return JoinUnion
}

func (t Taxonomy) queryVar() string {
	if t.QueryVar != "" {
		return t.QueryVar
	}
	return t.Name
}

type PostType struct {
	Name              string `yaml:"name"`
	SingularLabel     string `yaml:"singular_label"`
	ExcludeFromSearch bool   `yaml:"exclude_from_search"`
}

type Registry struct {
	Taxonomies []Taxonomy `yaml:"taxonomies"`
	PostTypes  []PostType `yaml:"post_types"`
}

// DefaultRegistry mirrors the taxonomies and post types every site has.
func DefaultRegistry() *Registry {
	return &Registry{
		Taxonomies: []Taxonomy{
			{Name: "category", QueryVar: "category_name", Join: JoinUnion, ObjectTypes: []string{"post"}},
			{Name: "post_tag", QueryVar: "tag", Join: JoinUnion, ObjectTypes: []string{"post"}},
		},
		PostTypes: []PostType{
			{Name: "post", SingularLabel: "Post"},
			{Name: "page", SingularLabel: "Page"},
			{Name: "attachment", SingularLabel: "Media", ExcludeFromSearch: true},
		},
	}
}

func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	registry := &Registry{}
	if err := yaml.Unmarshal(data, registry); err != nil {
		return nil, fmt.Errorf("failed to parse registry file %s: %w", path, err)
	}
	for i := range registry.Taxonomies {
		registry.Taxonomies[i].QueryVar = registry.Taxonomies[i].queryVar()
	}

	return registry, nil
}

func (r *Registry) Taxonomy(name string) (Taxonomy, bool) {
	for _, taxonomy := range r.Taxonomies {
		if taxonomy.Name == name {
			return taxonomy, true
		}
	}
	return Taxonomy{}, false
}

// TaxonomyByQueryVar resolves the taxonomy owning an external query var.
func (r *Registry) TaxonomyByQueryVar(queryVar string) (Taxonomy, bool) {
	for _, taxonomy := range r.Taxonomies {
		if taxonomy.queryVar() == queryVar {
			return taxonomy, true
		}
	}
	return Taxonomy{}, false
}

// TaxonomiesFor returns the names of the taxonomies registered for a post type.
func (r *Registry) TaxonomiesFor(postType string) []string {
	var names []string
	for _, taxonomy := range r.Taxonomies {
		if slices.Contains(taxonomy.ObjectTypes, postType) {
			names = append(names, taxonomy.Name)
		}
	}
	return names
}

func (r *Registry) PostType(name string) (PostType, bool) {
	for _, postType := range r.PostTypes {
		if postType.Name == name {
			return postType, true
		}
	}
	return PostType{}, false
}
