// Package prompt loads the prompt catalog and binds each template to the Go
// type of the response it asks for.
package prompt

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"

	"go.yaml.in/yaml/v3"
)

//go:embed templates.yaml
var builtin []byte

// ErrUnknownTemplate is returned when a template name is not in the catalog.
var ErrUnknownTemplate = errors.New("unknown prompt template")

// Rendered is a prompt ready to send to a model.
type Rendered struct {
	Template string
	System   string
	User     string
}

// Template is one named prompt of the catalog.
type Template struct {
	Name        string
	Description string
	system      *template.Template
	user        *template.Template
}

// Catalog holds every prompt template by name.
type Catalog struct {
	templates map[string]*Template
	strict    *template.Template
}

type catalogFile struct {
	StrictRetry string                  `yaml:"strict_retry"`
	Templates   map[string]templateFile `yaml:"templates"`
}

type templateFile struct {
	Description string `yaml:"description"`
	System      string `yaml:"system"`
	User        string `yaml:"user"`
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"truncate": func(n int, s string) string {
		if n <= 0 || len(s) <= n {
			return s
		}
		return s[:n] + "\n... (truncated)"
	},
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the catalog embedded in the binary. It is parsed once.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Parse(builtin)
	})
	return defaultCatalog, defaultErr
}

// Parse builds a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse prompt catalog: %w", err)
	}
	if len(file.Templates) == 0 {
		return nil, fmt.Errorf("prompt catalog has no templates")
	}

	c := &Catalog{templates: make(map[string]*Template, len(file.Templates))}

	strictText := file.StrictRetry
	if strictText == "" {
		strictText = "Your previous answer could not be used: {{.Reason}}\nReply with exactly one JSON object that conforms to the schema.\n"
	}
	strict, err := template.New("strict_retry").Option("missingkey=error").Parse(strictText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse strict_retry: %w", err)
	}
	c.strict = strict

	for name, tf := range file.Templates {
		if tf.System == "" || tf.User == "" {
			return nil, fmt.Errorf("template %q must define system and user prompts", name)
		}

		system, err := template.New(name + ".system").Funcs(funcs).Option("missingkey=error").Parse(tf.System)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s system prompt: %w", name, err)
		}
		user, err := template.New(name + ".user").Funcs(funcs).Option("missingkey=error").Parse(tf.User)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s user prompt: %w", name, err)
		}

		c.templates[name] = &Template{
			Name:        name,
			Description: tf.Description,
			system:      system,
			user:        user,
		}
	}

	return c, nil
}

// Lookup returns the named template.
func (c *Catalog) Lookup(name string) (*Template, error) {
	t, ok := c.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	return t, nil
}

// Names returns the template names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StrictRetry renders the follow-up instruction sent after an unparsable answer.
func (c *Catalog) StrictRetry(reason string) (string, error) {
	var b strings.Builder
	if err := c.strict.Execute(&b, struct{ Reason string }{reason}); err != nil {
		return "", fmt.Errorf("failed to render strict_retry: %w", err)
	}
	return b.String(), nil
}

// Render executes the template. schemaText is injected into the system prompt;
// data feeds the user prompt.
func (t *Template) Render(schemaText string, data any) (Rendered, error) {
	var system, user strings.Builder

	if err := t.system.Execute(&system, struct{ Schema string }{schemaText}); err != nil {
		return Rendered{}, fmt.Errorf("failed to render %s system prompt: %w", t.Name, err)
	}
	if err := t.user.Execute(&user, data); err != nil {
		return Rendered{}, fmt.Errorf("failed to render %s user prompt: %w", t.Name, err)
	}

	return Rendered{
		Template: t.Name,
		System:   strings.TrimSpace(system.String()),
		User:     strings.TrimSpace(user.String()),
	}, nil
}
