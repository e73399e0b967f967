package entity

import (
	"fmt"

	"github.com/google/uuid"
)

// FieldType classifies a searchable field for clause validation
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldDate   FieldType = "date"
	FieldBool   FieldType = "bool"
)

// Reference declares a named attribute pointing at another entity from which
// access may be inherited.
type Reference struct {
	Name    string
	Kind    string
	Extract func(Record) *uuid.UUID
}

// Description declares an entity kind: its traits, references, searchable
// fields and relations. One Description is registered per kind.
type Description struct {
	Kind   string
	Plural string
	// System kinds are only mutable by ROOT/SYSTEM.
	System bool

	References []Reference
	// CreateReference names the single reference whose EDIT access governs
	// creation. Empty when creation is not reference-governed.
	CreateReference string

	// Mutable column whitelist for update diffs and list filters.
	Fields []string
	// Searchable maps exposed search fields to their clause type.
	Searchable map[string]FieldType
	// Relations that may be eagerly hydrated (gorm association names).
	Relations []string

	// Validators run against the draft/record before create and update.
	Validators []func(Record) error

	// SeedRecords optionally declares idempotent seeds for this kind.
	SeedRecords func() []Record
}

// Validate checks the description's internal consistency
func (d *Description) Validate() error {
	if d.Kind == "" {
		return fmt.Errorf("entity description requires a kind")
	}
	if d.Plural == "" {
		d.Plural = d.Kind + "s"
	}
	names := make(map[string]struct{}, len(d.References))
	for _, r := range d.References {
		if r.Name == "" || r.Kind == "" || r.Extract == nil {
			return fmt.Errorf("kind %s: reference declarations require name, kind and extractor", d.Kind)
		}
		if _, dup := names[r.Name]; dup {
			return fmt.Errorf("kind %s: duplicate reference %q", d.Kind, r.Name)
		}
		names[r.Name] = struct{}{}
	}
	if d.CreateReference != "" {
		if _, ok := names[d.CreateReference]; !ok {
			return fmt.Errorf("kind %s: create reference %q is not a declared reference", d.Kind, d.CreateReference)
		}
	}
	return nil
}

func (d *Description) reference(name string) *Reference {
	for i := range d.References {
		if d.References[i].Name == name {
			return &d.References[i]
		}
	}
	return nil
}

func (d *Description) hasField(name string) bool {
	for _, f := range d.Fields {
		if f == name {
			return true
		}
	}
	return false
}

func (d *Description) hasRelation(name string) bool {
	for _, r := range d.Relations {
		if r == name {
			return true
		}
	}
	return false
}
