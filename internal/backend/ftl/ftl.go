// Package ftl implements the default template engine: a FreeMarker style
// template language with <#if>, <#list>, <#assign> directives, ${...}
// interpolations and ?built-ins. Expressions are compiled with expr.
package ftl

import (
	gocache "github.com/patrickmn/go-cache"

	"github.com/seantiz/anvil/internal/backend"
	"github.com/seantiz/anvil/internal/settings"
)

const (
	// Name is the registry name of the engine.
	Name = "ftl"

	// Version is reported by the .version special variable.
	Version = "2.3.34"
)

// Engine compiles ftl templates. It is safe for concurrent use.
type Engine struct {
	programs *gocache.Cache
}

// New returns an Engine with an empty expression cache.
func New() *Engine {
	return &Engine{programs: newExprCache()}
}

// Compile implements backend.Backend.
func (e *Engine) Compile(src string, opts backend.Options) (backend.Template, error) {
	cfg := newConfig(opts)
	p := newParser(src, cfg, newExprCompiler(e.programs, cfg))
	nodes, err := p.parse()
	if err != nil {
		return nil, err
	}
	return &Template{nodes: nodes, cfg: cfg}, nil
}

// Capabilities implements backend.Backend.
func (e *Engine) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:        Name,
		Description: "FreeMarker style templates with directives, interpolations and built-ins",
		OutputFormats: []string{
			settings.OutputFormatUndefined,
			settings.OutputFormatHTML,
			settings.OutputFormatXML,
			settings.OutputFormatXHTML,
			settings.OutputFormatRTF,
			settings.OutputFormatPlainText,
		},
		TagSyntaxes: []string{
			settings.TagSyntaxAngleBracket,
			settings.TagSyntaxSquareBracket,
			settings.TagSyntaxAutoDetect,
		},
		InterpolationSyntaxes: []string{
			settings.InterpolationLegacy,
			settings.InterpolationDollar,
			settings.InterpolationSquareBracket,
		},
		Interruptible: true,
	}
}

// CachedPrograms reports how many compiled expressions are cached.
func (e *Engine) CachedPrograms() int {
	return e.programs.ItemCount()
}
