package vector

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

const DefaultCollection = "DocumentChunk"

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// PropertySpec declares an additional payload property stored with every point.
type PropertySpec struct {
	Name string `yaml:"name" json:"name"`
	// Type is one of text, keyword, int, number, boolean, date.
	Type string `yaml:"type" json:"type"`
}

// CollectionSpec describes the class holding the points.
type CollectionSpec struct {
	Name  string
	Extra []PropertySpec
}

func (c CollectionSpec) className() string {
	if c.Name == "" {
		return DefaultCollection
	}
	return c.Name
}

// Properties returns the fixed payload properties followed by the extra ones.
func (c CollectionSpec) Properties() ([]*models.Property, error) {
	props := []*models.Property{
		{Name: PayloadContent, DataType: []string{"text"}},
		{Name: PayloadDocID, DataType: []string{"text"}, Tokenization: "field"},
		{Name: PayloadSource, DataType: []string{"text"}, Tokenization: "field"},
		{Name: PayloadSyncedAt, DataType: []string{"date"}},
		{Name: PayloadChunkIndex, DataType: []string{"int"}},
		{Name: PayloadStartOffset, DataType: []string{"int"}},
		{Name: PayloadEndOffset, DataType: []string{"int"}},
	}
	seen := make(map[string]bool, len(props))
	for _, p := range props {
		seen[p.Name] = true
	}
	for _, e := range c.Extra {
		if seen[e.Name] {
			continue
		}
		p, err := e.property()
		if err != nil {
			return nil, err
		}
		seen[e.Name] = true
		props = append(props, p)
	}
	return props, nil
}

func (p PropertySpec) property() (*models.Property, error) {
	switch p.Type {
	case "text":
		return &models.Property{Name: p.Name, DataType: []string{"text"}}, nil
	case "keyword", "":
		// exact match
		return &models.Property{Name: p.Name, DataType: []string{"text"}, Tokenization: "field"}, nil
	case "int":
		return &models.Property{Name: p.Name, DataType: []string{"int"}}, nil
	case "number":
		return &models.Property{Name: p.Name, DataType: []string{"number"}}, nil
	case "boolean":
		return &models.Property{Name: p.Name, DataType: []string{"boolean"}}, nil
	case "date":
		return &models.Property{Name: p.Name, DataType: []string{"date"}}, nil
	}
	return nil, fmt.Errorf("unsupported property type %q for %q", p.Type, p.Name)
}

// EnsureSchema checks if the collection exists and creates it when asked to.
// Existing collections get any missing properties added. It reports whether
// the collection exists once it returns.
func EnsureSchema(ctx context.Context, client SchemaClient, spec CollectionSpec, createIfMissing bool) (bool, error) {
	className := spec.className()
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return false, err
	}

	properties, err := spec.Properties()
	if err != nil {
		return false, err
	}

	if !exists {
		if !createIfMissing {
			return false, nil
		}
		class := &models.Class{
			Class:       className,
			Description: "A chunk of a synchronized document",
			Vectorizer:  "none",
			Properties:  properties,
		}
		if err := client.CreateClass(ctx, class); err != nil {
			return false, err
		}
		return true, nil
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return true, err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return true, err
			}
		}
	}

	return true, nil
}
