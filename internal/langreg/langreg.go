// Package langreg maps files to language ids and constructs/caches the
// plugin instance responsible for indexing that language.
package langreg

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/css"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/html"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Language describes one registered language: how files are recognized and,
// when available, the tree-sitter grammar backing it.
type Language struct {
	ID         string
	Extensions []string
	Filenames  []string // exact basename matches, e.g. "Dockerfile"
	Shebangs   []string // interpreter names found on a "#!" first line
	TSLanguage *sitter.Language
	// Priority biases plugin-cache eviction toward keeping common
	// languages resident.
	Priority int
}

// HasTreeSitter reports whether a grammar is registered for this language,
// i.e. whether a Generic plugin can parse it at all.
func (l *Language) HasTreeSitter() bool {
	return l.TSLanguage != nil
}

// Registry maps extensions, filenames and shebangs to Language, and
// Language ids to tree-sitter grammars.
type Registry struct {
	languages map[string]*Language
	byExt     map[string]string
	byName    map[string]string
	byShebang map[string]string
}

// NewRegistry builds a registry pre-populated with the languages this
// binary ships tree-sitter grammars for, plus common extension-only
// languages that fall back to the plaintext plugin.
func NewRegistry() *Registry {
	r := &Registry{
		languages: make(map[string]*Language),
		byExt:     make(map[string]string),
		byName:    make(map[string]string),
		byShebang: make(map[string]string),
	}

	r.register(&Language{ID: "go", Extensions: []string{".go"}, TSLanguage: golang.GetLanguage(), Priority: 10})
	r.register(&Language{ID: "python", Extensions: []string{".py", ".pyw", ".pyi"}, Shebangs: []string{"python", "python3", "python2"}, TSLanguage: python.GetLanguage(), Priority: 10})
	r.register(&Language{ID: "typescript", Extensions: []string{".ts"}, TSLanguage: typescript.GetLanguage(), Priority: 9})
	r.register(&Language{ID: "tsx", Extensions: []string{".tsx"}, TSLanguage: tsx.GetLanguage(), Priority: 8})
	r.register(&Language{ID: "javascript", Extensions: []string{".js", ".mjs", ".cjs"}, Shebangs: []string{"node"}, TSLanguage: javascript.GetLanguage(), Priority: 9})
	r.register(&Language{ID: "jsx", Extensions: []string{".jsx"}, TSLanguage: javascript.GetLanguage(), Priority: 7})
	r.register(&Language{ID: "java", Extensions: []string{".java"}, TSLanguage: java.GetLanguage(), Priority: 7})
	r.register(&Language{ID: "c", Extensions: []string{".c", ".h"}, TSLanguage: c.GetLanguage(), Priority: 6})
	r.register(&Language{ID: "cpp", Extensions: []string{".cpp", ".hpp", ".cc", ".cxx", ".hh"}, TSLanguage: cpp.GetLanguage(), Priority: 6})
	r.register(&Language{ID: "rust", Extensions: []string{".rs"}, TSLanguage: rust.GetLanguage(), Priority: 6})
	r.register(&Language{ID: "ruby", Extensions: []string{".rb", ".rake"}, Shebangs: []string{"ruby"}, TSLanguage: ruby.GetLanguage(), Priority: 5})
	r.register(&Language{ID: "bash", Extensions: []string{".sh", ".bash"}, Shebangs: []string{"bash", "sh", "zsh"}, TSLanguage: bash.GetLanguage(), Priority: 5})
	r.register(&Language{ID: "html", Extensions: []string{".html", ".htm"}, TSLanguage: html.GetLanguage(), Priority: 4})
	r.register(&Language{ID: "css", Extensions: []string{".css", ".scss", ".sass", ".less"}, TSLanguage: css.GetLanguage(), Priority: 4})

	r.register(&Language{ID: "markdown", Extensions: []string{".md", ".mdx", ".markdown"}, Priority: 6})
	r.register(&Language{ID: "text", Extensions: []string{".txt", ".rst"}, Priority: 1})
	r.register(&Language{ID: "json", Extensions: []string{".json"}, Priority: 3})
	r.register(&Language{ID: "yaml", Extensions: []string{".yaml", ".yml"}, Priority: 3})
	r.register(&Language{ID: "toml", Extensions: []string{".toml"}, Priority: 2})
	r.register(&Language{ID: "dockerfile", Filenames: []string{"Dockerfile"}, Priority: 3})
	r.register(&Language{ID: "makefile", Filenames: []string{"Makefile", "makefile", "GNUmakefile"}, Priority: 3})

	return r
}

func (r *Registry) register(lang *Language) {
	r.languages[lang.ID] = lang
	for _, ext := range lang.Extensions {
		r.byExt[strings.ToLower(ext)] = lang.ID
	}
	for _, name := range lang.Filenames {
		r.byName[name] = lang.ID
	}
	for _, interp := range lang.Shebangs {
		r.byShebang[interp] = lang.ID
	}
}

// ByID returns the registered Language for a language id.
func (r *Registry) ByID(id string) (*Language, bool) {
	lang, ok := r.languages[id]
	return lang, ok
}

// Languages returns every registered Language keyed by id, for callers that
// need to wire a plugin factory for each one (see plugin.RegisterAll).
func (r *Registry) Languages() map[string]*Language {
	return r.languages
}

// TreeSitterLanguage returns the tree-sitter grammar for a language id, if
// one is registered.
func (r *Registry) TreeSitterLanguage(id string) (*sitter.Language, bool) {
	lang, ok := r.languages[id]
	if !ok || lang.TSLanguage == nil {
		return nil, false
	}
	return lang.TSLanguage, true
}

// DetectLanguage detects a file's language in order: exact filename first,
// then extension, then shebang line of firstBytes. Returns ("", false)
// for unrecognized content, which callers route to the plaintext plugin.
func (r *Registry) DetectLanguage(path string, firstBytes []byte) (string, bool) {
	base := basename(path)
	if id, ok := r.byName[base]; ok {
		return id, true
	}

	if ext := extension(base); ext != "" {
		if id, ok := r.byExt[strings.ToLower(ext)]; ok {
			return id, true
		}
	}

	if interp := shebangInterpreter(firstBytes); interp != "" {
		if id, ok := r.byShebang[interp]; ok {
			return id, true
		}
	}

	return "", false
}

func basename(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func extension(base string) string {
	if i := strings.LastIndex(base, "."); i > 0 {
		return base[i:]
	}
	return ""
}

// shebangInterpreter extracts the interpreter name from a "#!/usr/bin/env
// python3" or "#!/bin/bash" first line, or "" if firstBytes isn't one.
func shebangInterpreter(firstBytes []byte) string {
	if len(firstBytes) < 3 || firstBytes[0] != '#' || firstBytes[1] != '!' {
		return ""
	}
	line := string(firstBytes)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line[2:])
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	last := fields[len(fields)-1]
	return basename(last)
}
