// Package schema generates JSON schemas from Go types and validates documents against them.
//
// A schema is generated once per Go type and cached for the life of the process, so
// prompt templates and the result store share the same schema text and validator.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrInvalid is returned when a document does not conform to its schema.
var ErrInvalid = errors.New("document does not match schema")

// Schema is a resolved JSON schema bound to the Go type it was generated from.
type Schema struct {
	name     string
	typ      reflect.Type
	resolved *jsonschema.Resolved
	text     string
}

var cache sync.Map // reflect.Type -> *Schema

// For returns the schema for T, generating and caching it on first use.
func For[T any]() (*Schema, error) {
	t := reflect.TypeFor[T]()
	if s, ok := cache.Load(t); ok {
		return s.(*Schema), nil
	}

	js, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for %s: %w", t, err)
	}

	resolved, err := js.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve schema for %s: %w", t, err)
	}

	text, err := json.MarshalIndent(js, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render schema for %s: %w", t, err)
	}

	s := &Schema{
		name:     t.Name(),
		typ:      t,
		resolved: resolved,
		text:     string(text),
	}

	actual, _ := cache.LoadOrStore(t, s)
	return actual.(*Schema), nil
}

// MustFor is like For but panics on error. Intended for package-level bindings.
func MustFor[T any]() *Schema {
	s, err := For[T]()
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the Go type name the schema was generated from.
func (s *Schema) Name() string {
	return s.name
}

// Text returns the indented JSON form of the schema.
func (s *Schema) Text() string {
	return s.text
}

// Validate checks that data is a JSON document conforming to the schema.
func (s *Schema) Validate(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: %s: empty document", ErrInvalid, s.name)
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, s.name, err)
	}

	if err := s.resolved.Validate(instance); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, s.name, err)
	}
	return nil
}

// Decode validates data against the schema for T and unmarshals it.
func Decode[T any](data []byte) (T, error) {
	var v T

	s, err := For[T]()
	if err != nil {
		return v, err
	}
	if err := s.Validate(data); err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", ErrInvalid, s.name, err)
	}
	return v, nil
}
