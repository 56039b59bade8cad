// Package assets bundles the storefront page scripts with esbuild and renders
// the HTML shells that load them. Each page under ui/pages is an entry point,
// built once at startup, and the esbuild metafile tells the shell which chunk
// files a page needs.
package assets

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"sync"
)

// BuildMetadata is the slice of the esbuild metafile needed to resolve an
// entry point to its output bundles.
type BuildMetadata struct {
	Outputs map[string]OutputInfo `json:"outputs"`
}

type OutputInfo struct {
	EntryPoint string       `json:"entryPoint"`
	Imports    []ImportInfo `json:"imports"`
}

type ImportInfo struct {
	Path string `json:"path"`
}

// Pipeline builds the page bundles and renders page shells from the parsed
// template set.
type Pipeline struct {
	config   Config
	metadata *BuildMetadata
	tmpl     *template.Template
	mu       sync.RWMutex
}

// NewWithTemplateDir creates a pipeline and parses every HTML template in the
// directory. Templates get a marshal function for embedding the page context
// as JSON and a safe function for trusted markup.
func NewWithTemplateDir(config Config, templateDir string) (*Pipeline, error) {
	funcs := template.FuncMap{
		"marshal": marshal,
		"safe": func(s string) template.HTML {
			return template.HTML(s) //nolint:gosec
		},
	}

	tmpl, err := template.New(templateDir).Funcs(funcs).ParseGlob(templateDir + "/*.html")
	if err != nil {
		return nil, err
	}

	return &Pipeline{config: config, tmpl: tmpl}, nil
}

func marshal(value any) string {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(value); err != nil {
		panic(errors.New("page context must be json serializable"))
	}
	return buf.String()
}
