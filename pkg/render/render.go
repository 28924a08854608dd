package render

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Engine renders templates embedded in the package.
type Engine struct {
	templates *template.Template
}

// New initialises an Engine by parsing all embedded templates. Missing keys in
// the data passed to Render are treated as errors rather than rendered as
// "<no value>", which would otherwise reach a booting machine verbatim.
func New() (*Engine, error) {
	t, err := template.New("render").
		Option("missingkey=error").
		ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Engine{templates: t}, nil
}

// Has reports whether a template with the given name was parsed.
func (e *Engine) Has(name string) bool {
	if e == nil || e.templates == nil {
		return false
	}
	return e.templates.Lookup(name) != nil
}

// Render executes the named template with the provided data and returns the rendered string.
func (e *Engine) Render(name string, data any) (string, error) {
	if e == nil || e.templates == nil {
		return "", fmt.Errorf("nil engine")
	}

	buf := bytes.NewBuffer(nil)
	if err := e.templates.ExecuteTemplate(buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}

	return buf.String(), nil
}
