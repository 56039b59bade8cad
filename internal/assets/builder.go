package assets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
)

// Build bundles every entry point matching the configured glob and caches the
// metafile for script resolution.
func (p *Pipeline) Build() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entryPoints, err := filepath.Glob(p.config.EntryPointGlob)
	if err != nil {
		return err
	}
	if len(entryPoints) == 0 {
		return errors.New("no entry points match " + p.config.EntryPointGlob)
	}

	log.Info().Strs("entrypoints", entryPoints).Msg("building page bundles")

	sourceMap := api.SourceMapNone
	if p.config.SourceMap {
		sourceMap = api.SourceMapLinked
	}

	result := api.Build(api.BuildOptions{
		EntryPoints:       entryPoints,
		Bundle:            true,
		Splitting:         true,
		Write:             true,
		JSX:               api.JSXAutomatic,
		Outdir:            p.config.OutputDir,
		Format:            api.FormatESModule,
		MinifyWhitespace:  p.config.Minify,
		MinifyIdentifiers: p.config.Minify,
		MinifySyntax:      p.config.Minify,
		TreeShaking:       api.TreeShakingTrue,
		Sourcemap:         sourceMap,
		Metafile:          true,
	})

	if len(result.Errors) > 0 {
		for _, msg := range result.Errors {
			log.Error().Str("error", msg.Text).Msg("bundle error")
		}
		return errors.New("esbuild failed")
	}

	if err := os.WriteFile(p.config.MetafilePath, []byte(result.Metafile), 0600); err != nil {
		return err
	}

	var metadata BuildMetadata
	if err := json.Unmarshal([]byte(result.Metafile), &metadata); err != nil {
		return err
	}

	p.metadata = &metadata
	return nil
}

// LoadScripts resolves an entry point to the ordered script paths its page
// needs, the entry bundle first and the shared chunks it imports after.
func (p *Pipeline) LoadScripts(entryPointPath string) ([]string, string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.metadata == nil {
		return nil, "", errors.New("assets not built yet, call Build first")
	}

	for outputPath, info := range p.metadata.Outputs {
		if info.EntryPoint != entryPointPath {
			continue
		}

		entrypoint := "/" + outputPath
		scripts := []string{entrypoint}
		visited := map[string]bool{outputPath: true}

		queue := info.Imports
		for len(queue) > 0 {
			imp := queue[0]
			queue = queue[1:]
			if visited[imp.Path] {
				continue
			}
			visited[imp.Path] = true
			scripts = append(scripts, "/"+imp.Path)
			if chunk, ok := p.metadata.Outputs[imp.Path]; ok {
				queue = append(queue, chunk.Imports...)
			}
		}

		return scripts, entrypoint, nil
	}

	return nil, "", errors.New("entrypoint not built: " + entryPointPath)
}

// Handler renders the named template shell for one page: the title, the
// page's script tags and the context payload produced per request. The entry
// point is resolved once up front so a bad route fails at registration.
func (p *Pipeline) Handler(templateName, title, entryPointPath string, contextFn func(ctx context.Context) any) (http.HandlerFunc, error) {
	if _, _, err := p.LoadScripts(entryPointPath); err != nil {
		return nil, err
	}

	if contextFn == nil {
		contextFn = func(ctx context.Context) any { return nil }
	}

	return func(w http.ResponseWriter, r *http.Request) {
		scripts, _, err := p.LoadScripts(entryPointPath)
		if err != nil {
			log.Error().Err(err).Str("entrypoint", entryPointPath).Msg("failed to load scripts")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		data := map[string]any{
			"Title":   title,
			"Scripts": scripts,
			"Context": contextFn(r.Context()),
		}

		if err := p.tmpl.ExecuteTemplate(w, templateName, data); err != nil {
			log.Error().Err(err).Str("template", templateName).Msg("failed to render page shell")
		}
	}, nil
}
