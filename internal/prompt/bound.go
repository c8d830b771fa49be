package prompt

import (
	"fmt"

	"github.com/alsksssass/deepagent/internal/schema"
)

// Bound associates a template with the Go type of its response. The schema
// text injected into the prompt is generated from T once and cached, so the
// prompt and the parser can never disagree about the shape of the answer.
type Bound[T any] struct {
	tmpl   *Template
	schema *schema.Schema
	strict func(reason string) (string, error)
}

// Bind looks up name in c and binds it to T.
func Bind[T any](c *Catalog, name string) (*Bound[T], error) {
	tmpl, err := c.Lookup(name)
	if err != nil {
		return nil, err
	}

	s, err := schema.For[T]()
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", name, err)
	}

	return &Bound[T]{tmpl: tmpl, schema: s, strict: c.StrictRetry}, nil
}

// MustBind is like Bind but panics on error.
func MustBind[T any](c *Catalog, name string) *Bound[T] {
	b, err := Bind[T](c, name)
	if err != nil {
		panic(err)
	}
	return b
}

// Name returns the template name.
func (b *Bound[T]) Name() string {
	return b.tmpl.Name
}

// Schema returns the response schema.
func (b *Bound[T]) Schema() *schema.Schema {
	return b.schema
}

// Render renders the prompt with the response schema injected.
func (b *Bound[T]) Render(data any) (Rendered, error) {
	return b.tmpl.Render(b.schema.Text(), data)
}

// StrictRetry renders the follow-up instruction for an unparsable answer.
func (b *Bound[T]) StrictRetry(reason string) (string, error) {
	return b.strict(reason)
}
