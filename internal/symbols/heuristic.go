package symbols

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// HeuristicProvider is the default [Provider]: line-oriented regexp
// matching per language, good enough to resolve a `symbol` read selector
// (spec.md §4.H.1) without a native parser dependency. FindReferences is
// a same-file textual-match fallback; it does not resolve scope=project
// or cross-file bindings. It remembers the text last passed to Parse for
// each path, since spec.md's find_references(path, line, col, scope,
// include_decl) contract carries no content parameter of its own.
type HeuristicProvider struct {
	mu      sync.Mutex
	content map[string]string
}

// NewHeuristicProvider returns the default heuristic [Provider].
func NewHeuristicProvider() *HeuristicProvider {
	return &HeuristicProvider{content: make(map[string]string)}
}

var extLangs = map[string]LanguageId{
	".go":  LangGo,
	".py":  LangPython,
	".js":  LangJavaScript,
	".jsx": LangJavaScript,
	".mjs": LangJavaScript,
	".ts":  LangTypeScript,
	".tsx": LangTypeScript,
}

func (*HeuristicProvider) DetectLanguage(path string) LanguageId {
	if lang, ok := extLangs[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}

	return LangUnknown
}

func (p *HeuristicProvider) Parse(path, content string, lang LanguageId) (*AstHandle, error) {
	p.mu.Lock()
	p.content[path] = content
	p.mu.Unlock()

	return &AstHandle{lang: lang, path: path, content: content}, nil
}

type lineRule struct {
	pattern *regexp.Regexp
	kind    SymbolKind
	name    int // capture group index for the symbol name
}

var rulesByLang = map[LanguageId][]lineRule{
	LangGo: {
		{regexp.MustCompile(`^func\s+\([^)]+\)\s+([A-Za-z_]\w*)\s*\(`), KindMethod, 1},
		{regexp.MustCompile(`^func\s+([A-Za-z_]\w*)\s*\(`), KindFunction, 1},
		{regexp.MustCompile(`^type\s+([A-Za-z_]\w*)\s+struct\b`), KindStruct, 1},
		{regexp.MustCompile(`^type\s+([A-Za-z_]\w*)\s+interface\b`), KindInterface, 1},
		{regexp.MustCompile(`^type\s+([A-Za-z_]\w*)\s+`), KindTypeAlias, 1},
		{regexp.MustCompile(`^const\s+([A-Za-z_]\w*)\s*`), KindVariable, 1},
		{regexp.MustCompile(`^var\s+([A-Za-z_]\w*)\s*`), KindVariable, 1},
		{regexp.MustCompile(`^import\s+"([^"]+)"`), KindImport, 1},
	},
	LangPython: {
		{regexp.MustCompile(`^class\s+([A-Za-z_]\w*)`), KindClass, 1},
		{regexp.MustCompile(`^\s*def\s+([A-Za-z_]\w*)\s*\(`), KindFunction, 1},
		{regexp.MustCompile(`^import\s+([A-Za-z_][\w.]*)`), KindImport, 1},
		{regexp.MustCompile(`^from\s+([A-Za-z_][\w.]*)\s+import`), KindImport, 1},
	},
	LangJavaScript: {
		{regexp.MustCompile(`^class\s+([A-Za-z_$]\w*)`), KindClass, 1},
		{regexp.MustCompile(`^function\s+([A-Za-z_$]\w*)\s*\(`), KindFunction, 1},
		{regexp.MustCompile(`^const\s+([A-Za-z_$]\w*)\s*=\s*\(?.*=>`), KindFunction, 1},
		{regexp.MustCompile(`^import\b.*from\s+['"]([^'"]+)['"]`), KindImport, 1},
	},
}

func init() {
	rulesByLang[LangTypeScript] = append(append([]lineRule(nil), rulesByLang[LangJavaScript]...),
		lineRule{regexp.MustCompile(`^interface\s+([A-Za-z_$]\w*)`), KindInterface, 1},
		lineRule{regexp.MustCompile(`^type\s+([A-Za-z_$]\w*)\s*=`), KindTypeAlias, 1},
		lineRule{regexp.MustCompile(`^enum\s+([A-Za-z_$]\w*)`), KindEnum, 1},
	)
}

// ExtractSymbols scans ast.content line by line against the language's
// rule set, returning matches stably sorted by (start_line, start_col),
// per spec.md §4.G.
func (*HeuristicProvider) ExtractSymbols(ast *AstHandle) ([]SymbolInfo, error) {
	rules := rulesByLang[ast.lang]
	if rules == nil {
		return nil, nil
	}

	var out []SymbolInfo

	lines := strings.Split(ast.content, "\n")

	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		indent := len(line) - len(trimmed)

		for _, rule := range rules {
			m := rule.pattern.FindStringSubmatchIndex(trimmed)
			if m == nil {
				continue
			}

			name := trimmed[m[2*rule.name]:m[2*rule.name+1]]
			startCol := indent + m[2*rule.name] + 1
			endCol := indent + m[2*rule.name+1] + 1

			out = append(out, SymbolInfo{
				Name: name,
				Kind: rule.kind,
				Location: Location{
					Path:      ast.path,
					StartLine: uint32(i + 1), //nolint:gosec // source files bounded by sandbox size limit
					StartCol:  uint32(startCol),
					EndLine:   uint32(i + 1), //nolint:gosec
					EndCol:    uint32(endCol),
				},
			})

			break
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Location.StartLine != out[b].Location.StartLine {
			return out[a].Location.StartLine < out[b].Location.StartLine
		}

		return out[a].Location.StartCol < out[b].Location.StartCol
	})

	return out, nil
}

// FindReferences is a same-file textual fallback: it locates the
// identifier spanning (line, col) in the text last seen by Parse for
// path, then returns every line containing that identifier as a whole
// word. scope="project" is not supported by this provider: cross-file
// resolution needs real binding information a regexp pass can't recover.
func (p *HeuristicProvider) FindReferences(path string, line, col uint32, scope string, includeDecl bool) ([]Location, error) {
	if scope == "project" {
		return nil, fmt.Errorf("symbols: heuristic provider does not support project-scope references for %q", path)
	}

	p.mu.Lock()
	content, ok := p.content[path]
	p.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("symbols: %q was never parsed; call Parse before FindReferences", path)
	}

	lines := strings.Split(content, "\n")
	if line == 0 || int(line) > len(lines) {
		return nil, fmt.Errorf("symbols: line %d out of range for %q", line, path)
	}

	word := identifierAt(lines[line-1], int(col)-1)
	if word == "" {
		return nil, fmt.Errorf("symbols: no identifier at %s:%d:%d", path, line, col)
	}

	wordRe := regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)

	var out []Location

	for i, l := range lines {
		isDecl := uint32(i+1) == line //nolint:gosec // line count bounded by sandbox size limit
		if isDecl && !includeDecl {
			continue
		}

		for _, m := range wordRe.FindAllStringIndex(l, -1) {
			out = append(out, Location{
				Path:      path,
				StartLine: uint32(i + 1), //nolint:gosec
				StartCol:  uint32(m[0] + 1),
				EndLine:   uint32(i + 1), //nolint:gosec
				EndCol:    uint32(m[1] + 1),
			})
		}
	}

	return out, nil
}

// identifierAt returns the identifier-like run of characters containing
// byte offset col in line, or "" if col doesn't land on one.
func identifierAt(line string, col int) string {
	if col < 0 || col >= len(line) {
		return ""
	}

	isIdent := func(r rune) bool { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }

	if !isIdent(rune(line[col])) {
		return ""
	}

	start, end := col, col
	for start > 0 && isIdent(rune(line[start-1])) {
		start--
	}

	for end < len(line) && isIdent(rune(line[end])) {
		end++
	}

	return line[start:end]
}
