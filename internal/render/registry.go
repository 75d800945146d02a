/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

// Package render contains the template registry used to turn settings into configuration files,
// together with the helper functions available inside templates.
package render

import (
	"errors"
	"log/slog"
	"strings"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/spf13/afero"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// RegistryBuilder contains the data and logic needed to create a template registry. Don't create
// instances of this directly, use the NewRegistry function instead.
type RegistryBuilder struct {
	logger *slog.Logger
	fs     afero.Fs
	strict bool
}

// Registry holds the parsed templates of the configuration files being rendered, under their
// logical names.
type Registry struct {
	logger    *slog.Logger
	fs        afero.Fs
	strict    bool
	templates map[string]*template.Template
}

// NewRegistry creates a builder that can then be used to configure and create a template
// registry.
func NewRegistry() *RegistryBuilder {
	return &RegistryBuilder{
		strict: true,
	}
}

// SetLogger sets the logger that the registry will use to write to the log. This is mandatory.
func (b *RegistryBuilder) SetLogger(value *slog.Logger) *RegistryBuilder {
	b.logger = value
	return b
}

// SetFs sets the filesystem that template files are read from. This is mandatory.
func (b *RegistryBuilder) SetFs(value afero.Fs) *RegistryBuilder {
	b.fs = value
	return b
}

// SetStrict sets whether rendering fails when a template references a missing key. Strict
// rendering is the default; non-strict rendering writes nothing for missing keys and is used at
// boot, when ordering may mean some keys aren't populated yet.
func (b *RegistryBuilder) SetStrict(value bool) *RegistryBuilder {
	b.strict = value
	return b
}

// Build uses the data stored in the builder to create a new template registry.
func (b *RegistryBuilder) Build() (result *Registry, err error) {
	// Check parameters:
	if b.logger == nil {
		err = errors.New("logger is mandatory")
		return
	}
	if b.fs == nil {
		err = errors.New("filesystem is mandatory")
		return
	}

	// Create and populate the object:
	result = &Registry{
		logger:    b.logger,
		fs:        b.fs,
		strict:    b.strict,
		templates: map[string]*template.Template{},
	}
	return
}

// RegisterTemplate parses the given template source and stores it under the given logical name.
func (r *Registry) RegisterTemplate(name, source string) error {
	option := "missingkey=error"
	if !r.strict {
		option = "missingkey=zero"
	}
	parsed, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Funcs(helperFuncs()).
		Option(option).
		Parse(source)
	if err != nil {
		return typederrors.NewTemplateRenderError(err, "can't parse template %q: %v", name, err)
	}
	r.templates[name] = parsed
	return nil
}

// RegisterTemplateFile reads the template at the given path and stores it under the given
// logical name.
func (r *Registry) RegisterTemplateFile(name, path string) error {
	source, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return typederrors.NewTemplateRenderError(
			err, "can't read template %q from %q: %v", name, path, err,
		)
	}
	return r.RegisterTemplate(name, string(source))
}

// Render renders the template with the given logical name against the given data. Whitespace in
// the template is preserved exactly, including trailing newlines.
func (r *Registry) Render(name string, data any) (string, error) {
	parsed, ok := r.templates[name]
	if !ok {
		return "", typederrors.NewMissingResourceError(nil, "no template registered as %q", name)
	}
	builder := &strings.Builder{}
	if err := parsed.Execute(builder, data); err != nil {
		return "", typederrors.NewTemplateRenderError(
			err, "can't render template %q: %v", name, err,
		)
	}
	output := builder.String()
	if !r.strict {
		// With missingkey=zero an untyped missing value still renders as a placeholder;
		// non-strict mode promises missing keys render empty.
		output = strings.ReplaceAll(output, "<no value>", "")
	}
	return output, nil
}

// Names returns the logical names of the registered templates.
func (r *Registry) Names() []string {
	result := make([]string, 0, len(r.templates))
	for name := range r.templates {
		result = append(result, name)
	}
	return result
}
