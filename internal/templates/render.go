// Package templates renders the HTML fragments the viewer stream patches
// into the page: legend, info card, date options and search result.
package templates

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"os"
	"sync"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed fragments/*.html
var fragments embed.FS

var printer = message.NewPrinter(language.BritishEnglish)

var funcMap = template.FuncMap{
	// count: 12345 -> 12,345. Accepts int or *int; nil renders empty.
	"count": func(v any) string {
		switch n := v.(type) {
		case *int:
			if n != nil {
				return printer.Sprintf("%d", *n)
			}
		case int:
			return printer.Sprintf("%d", n)
		}
		return ""
	},
	// decimal: one decimal place with separators.
	"decimal": func(v any) string {
		switch n := v.(type) {
		case *float64:
			if n != nil {
				return printer.Sprintf("%.1f", *n)
			}
		case float64:
			return printer.Sprintf("%.1f", n)
		}
		return ""
	},
	"longDate": func(date string) string {
		t, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return date
		}
		return t.Format("02 January 2006")
	},
}

func parse(fsys fs.FS, pattern string) (*template.Template, error) {
	return template.New("").Funcs(funcMap).ParseFS(fsys, pattern)
}

// Renderer executes named fragments. It is safe for concurrent use.
type Renderer struct {
	mu        sync.RWMutex
	templates *template.Template
}

// NewEmbedded returns a renderer over the fragments compiled into the binary.
func NewEmbedded() (*Renderer, error) {
	tmpl, err := parse(fragments, "fragments/*.html")
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl}, nil
}

// New returns a renderer over the *.html files in dir.
func New(dir string) (*Renderer, error) {
	tmpl, err := parse(os.DirFS(dir), "*.html")
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl}, nil
}

// Render executes the fragment name with data.
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.RenderToBuffer(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderToBuffer appends the fragment name to buf.
func (r *Renderer) RenderToBuffer(buf *bytes.Buffer, name string, data any) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.templates.ExecuteTemplate(buf, name, data)
}

// MustRender is Render for fragments known to exist; it panics on error.
func (r *Renderer) MustRender(name string, data any) string {
	s, err := r.Render(name, data)
	if err != nil {
		panic(err)
	}
	return s
}

// Reload re-reads the fragments in dir. The old set stays in use on error.
func (r *Renderer) Reload(dir string) error {
	tmpl, err := parse(os.DirFS(dir), "*.html")
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.templates = tmpl
	r.mu.Unlock()
	return nil
}
