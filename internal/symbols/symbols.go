// Package symbols is the SymbolProviderAdapter contract (spec.md §4.G):
// thin glue to an external parser producing [SymbolInfo] records, plus an
// AST cache keyed by (path, content CRC32C) so repeated symbol-aware reads
// of an unchanged file don't reparse.
//
// spec.md scopes this component as "contract only" (3% of the system) —
// the corpus carries no Go source exercising a tree-sitter binding (the
// retrieval pack's tree-sitter entries are bare go.mod manifests with no
// accompanying implementation to learn an idiom from), so rather than
// fabricate cgo bindings nothing in this repo actually calls, the
// contract ships with a dependency-free heuristic [Provider] and leaves
// the production parser pluggable behind the interface.
package symbols

import (
	"fmt"
	"sync"

	"github.com/agentfs/broker/pkg/digest"
)

// LanguageId identifies a source language, detected from a file extension.
type LanguageId string

const (
	LangGo         LanguageId = "go"
	LangPython     LanguageId = "python"
	LangJavaScript LanguageId = "javascript"
	LangTypeScript LanguageId = "typescript"
	LangUnknown    LanguageId = ""
)

// SymbolKind enumerates the symbol kinds spec.md §3's SymbolInfo allows.
type SymbolKind string

const (
	KindClass       SymbolKind = "class"
	KindInterface   SymbolKind = "interface"
	KindStruct      SymbolKind = "struct"
	KindEnum        SymbolKind = "enum"
	KindMethod      SymbolKind = "method"
	KindFunction    SymbolKind = "function"
	KindConstructor SymbolKind = "constructor"
	KindProperty    SymbolKind = "property"
	KindField       SymbolKind = "field"
	KindVariable    SymbolKind = "variable"
	KindNamespace   SymbolKind = "namespace"
	KindTrait       SymbolKind = "trait"
	KindObject      SymbolKind = "object"
	KindEvent       SymbolKind = "event"
	KindTypeAlias   SymbolKind = "type_alias"
	KindImport      SymbolKind = "import"
)

// specificity orders kinds from most to least specific, per spec.md
// §4.H.1's "prefer more-specific kinds (method/function > field/property >
// variable > class/...)" symbol-read tie-break rule.
var specificity = map[SymbolKind]int{
	KindMethod:      0,
	KindFunction:    1,
	KindConstructor: 1,
	KindField:       2,
	KindProperty:    2,
	KindVariable:    3,
	KindClass:       4,
	KindInterface:   4,
	KindStruct:      4,
	KindEnum:        4,
	KindTrait:       4,
	KindObject:      4,
	KindNamespace:   5,
	KindEvent:       5,
	KindTypeAlias:   5,
	KindImport:      6,
}

// Specificity returns a kind's tie-break rank; lower is more specific.
// Unknown kinds sort last.
func Specificity(k SymbolKind) int {
	if rank, ok := specificity[k]; ok {
		return rank
	}

	return len(specificity)
}

// Location is a 1-based source span, matching the token model (spec.md
// §4.G: "Line numbers here are 1-based, matching the token model").
type Location struct {
	Path      string
	StartLine uint32
	StartCol  uint32
	EndLine   uint32
	EndCol    uint32
}

// Parameter is one entry of a SymbolInfo's parameter list.
type Parameter struct {
	Name    string
	Type    string
	Varargs bool
}

// SymbolInfo is the external record spec.md §3 defines.
type SymbolInfo struct {
	Name          string
	Kind          SymbolKind
	Parent        string
	Signature     string
	ReturnType    string
	Parameters    []Parameter
	Documentation string
	Location      Location
}

// AstHandle is an opaque parse result, cached by (path, content CRC32C).
type AstHandle struct {
	lang    LanguageId
	path    string
	crc     uint32
	content string
}

// Provider is the SymbolProviderAdapter contract (spec.md §4.G).
// Implementations must return 1-based positions and must not mutate the
// filesystem.
type Provider interface {
	// DetectLanguage returns the language for path, or LangUnknown if it
	// cannot be determined from the extension.
	DetectLanguage(path string) LanguageId

	// Parse produces an AstHandle for content. Callers should route calls
	// through a [Cache] rather than call this directly, so repeated reads
	// of an unchanged file reuse the parse.
	Parse(path, content string, lang LanguageId) (*AstHandle, error)

	// ExtractSymbols returns every symbol in ast, stably sorted by
	// StartLine then StartCol.
	ExtractSymbols(ast *AstHandle) ([]SymbolInfo, error)

	// FindReferences locates references to the symbol at (line, col).
	// scope is "file" or "project"; includeDecl controls whether the
	// declaration site itself is included.
	FindReferences(path string, line, col uint32, scope string, includeDecl bool) ([]Location, error)
}

// Cache wraps a [Provider]'s Parse with the (path, content_crc32c) memo
// spec.md §4.G requires: "must be cached by (path, content_crc32c); cache
// invalidation on CRC change."
type Cache struct {
	provider Provider

	mu      sync.Mutex
	entries map[string]*AstHandle // keyed by path; invalidated on CRC mismatch
}

// NewCache wraps provider with a per-path AST cache.
func NewCache(provider Provider) *Cache {
	return &Cache{provider: provider, entries: make(map[string]*AstHandle)}
}

// DetectLanguage delegates to the wrapped provider.
func (c *Cache) DetectLanguage(path string) LanguageId {
	return c.provider.DetectLanguage(path)
}

// Parse returns the cached AST for (path, content) if the content's
// CRC32C matches what's cached, else reparses and replaces the entry.
func (c *Cache) Parse(path, content string, lang LanguageId) (*AstHandle, error) {
	crc := digest.String(content)

	c.mu.Lock()
	if h, ok := c.entries[path]; ok && h.crc == crc {
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	h, err := c.provider.Parse(path, content, lang)
	if err != nil {
		return nil, fmt.Errorf("symbols: parsing %q: %w", path, err)
	}

	h.crc = crc

	c.mu.Lock()
	c.entries[path] = h
	c.mu.Unlock()

	return h, nil
}

// ExtractSymbols delegates to the wrapped provider.
func (c *Cache) ExtractSymbols(ast *AstHandle) ([]SymbolInfo, error) {
	return c.provider.ExtractSymbols(ast)
}

// FindReferences delegates to the wrapped provider.
func (c *Cache) FindReferences(path string, line, col uint32, scope string, includeDecl bool) ([]Location, error) {
	return c.provider.FindReferences(path, line, col, scope, includeDecl)
}

// Drop evicts path's cached AST, e.g. after ExternalChangeTracker detects
// an out-of-band edit.
func (c *Cache) Drop(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}
