package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"vecsync/internal/reconcile"
	"vecsync/internal/text"
	"vecsync/internal/vector"
)

// Profile describes how source documents map onto the index.
type Profile struct {
	TextField      string                `yaml:"text_field"`
	SourceTag      string                `yaml:"source_tag"`
	MetadataFields []vector.PropertySpec `yaml:"metadata_fields"`
	Chunking       text.Options          `yaml:"chunking"`
}

func DefaultProfile() Profile {
	return Profile{
		TextField: "content",
		Chunking:  text.DefaultOptions(),
	}
}

// LoadProfile reads a YAML profile. An empty path yields DefaultProfile.
// Chunking keys absent from the file keep their defaults.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: profile %s: %v", ErrInvalid, path, err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func (p Profile) Validate() error {
	if p.TextField == "" {
		return fmt.Errorf("%w: profile text_field", ErrMissingRequired)
	}
	seen := make(map[string]bool, len(p.MetadataFields))
	for _, f := range p.MetadataFields {
		if f.Name == "" {
			return fmt.Errorf("%w: metadata field without name", ErrInvalid)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: metadata field %q listed twice", ErrInvalid, f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case "", "text", "keyword", "int", "number", "boolean", "date":
		default:
			return fmt.Errorf("%w: metadata field %q has unknown type %q", ErrInvalid, f.Name, f.Type)
		}
	}
	c := p.Chunking
	if c.TargetTokens < 1 {
		return fmt.Errorf("%w: chunking target_tokens must be at least 1", ErrInvalid)
	}
	if c.OverlapPercent < 0 || c.OverlapPercent > text.MaxOverlapPercent {
		return fmt.Errorf("%w: chunking overlap_percent must be between 0 and %d", ErrInvalid, text.MaxOverlapPercent)
	}
	if c.MinChunkChars < 0 {
		return fmt.Errorf("%w: chunking min_chunk_chars must not be negative", ErrInvalid)
	}
	// zero falls back to the chunker default
	minChars := c.MinChunkChars
	if minChars == 0 {
		minChars = text.DefaultMinChunkChars
	}
	if window := c.TargetTokens * text.CharsPerToken; minChars > window {
		return fmt.Errorf("%w: chunking min_chunk_chars %d exceeds the %d character window of target_tokens", ErrInvalid, minChars, window)
	}
	return nil
}

// Mapping is the field mapping handed to the sync engine.
func (p Profile) Mapping() reconcile.FieldMapping {
	fields := make([]string, len(p.MetadataFields))
	for i, f := range p.MetadataFields {
		fields[i] = f.Name
	}
	return reconcile.FieldMapping{TextField: p.TextField, MetadataFields: fields, SourceTag: p.SourceTag}
}

// Collection is the index schema implied by the profile.
func (p Profile) Collection(name string) vector.CollectionSpec {
	return vector.CollectionSpec{Name: name, Extra: p.MetadataFields}
}
