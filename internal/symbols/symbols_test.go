package symbols_test

import (
	"testing"

	"github.com/agentfs/broker/internal/symbols"
)

const goSample = `package sample

type Widget struct {
	Name string
}

func NewWidget(name string) *Widget {
	return &Widget{Name: name}
}

func (w *Widget) Describe() string {
	return w.Name
}
`

func TestDetectLanguage_FromExtension(t *testing.T) {
	t.Parallel()

	p := symbols.NewHeuristicProvider()

	if got := p.DetectLanguage("main.go"); got != symbols.LangGo {
		t.Fatalf("DetectLanguage(main.go)=%q, want go", got)
	}

	if got := p.DetectLanguage("script.sh"); got != symbols.LangUnknown {
		t.Fatalf("DetectLanguage(script.sh)=%q, want unknown", got)
	}
}

func TestExtractSymbols_FindsFunctionsAndStruct(t *testing.T) {
	t.Parallel()

	p := symbols.NewHeuristicProvider()

	ast, err := p.Parse("sample.go", goSample, symbols.LangGo)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	syms, err := p.ExtractSymbols(ast)
	if err != nil {
		t.Fatalf("ExtractSymbols: %v", err)
	}

	var names []string
	for _, s := range syms {
		names = append(names, s.Name)
	}

	wantAny := map[string]symbols.SymbolKind{
		"Widget":    symbols.KindStruct,
		"NewWidget": symbols.KindFunction,
		"Describe":  symbols.KindMethod,
	}

	found := make(map[string]symbols.SymbolKind)
	for _, s := range syms {
		found[s.Name] = s.Kind
	}

	for name, kind := range wantAny {
		if found[name] != kind {
			t.Errorf("symbol %q: kind=%v, want %v (all symbols: %v)", name, found[name], kind, names)
		}
	}
}

func TestExtractSymbols_StableSortByLineThenColumn(t *testing.T) {
	t.Parallel()

	p := symbols.NewHeuristicProvider()

	ast, _ := p.Parse("sample.go", goSample, symbols.LangGo)

	syms, err := p.ExtractSymbols(ast)
	if err != nil {
		t.Fatalf("ExtractSymbols: %v", err)
	}

	for i := 1; i < len(syms); i++ {
		prev, cur := syms[i-1].Location, syms[i].Location
		if cur.StartLine < prev.StartLine || (cur.StartLine == prev.StartLine && cur.StartCol < prev.StartCol) {
			t.Fatalf("symbols not sorted: %+v before %+v", prev, cur)
		}
	}
}

func TestCache_ReturnsSameHandleWhenCRCUnchanged(t *testing.T) {
	t.Parallel()

	c := symbols.NewCache(symbols.NewHeuristicProvider())

	h1, err := c.Parse("sample.go", goSample, symbols.LangGo)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	h2, err := c.Parse("sample.go", goSample, symbols.LangGo)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if h1 != h2 {
		t.Fatalf("Parse returned a new handle for unchanged content")
	}
}

func TestCache_InvalidatesOnCRCChange(t *testing.T) {
	t.Parallel()

	c := symbols.NewCache(symbols.NewHeuristicProvider())

	h1, _ := c.Parse("sample.go", goSample, symbols.LangGo)
	h2, _ := c.Parse("sample.go", goSample+"\nfunc Extra() {}\n", symbols.LangGo)

	if h1 == h2 {
		t.Fatalf("Parse returned the same handle after content changed")
	}
}

func TestCache_DropForcesReparse(t *testing.T) {
	t.Parallel()

	c := symbols.NewCache(symbols.NewHeuristicProvider())

	h1, _ := c.Parse("sample.go", goSample, symbols.LangGo)
	c.Drop("sample.go")
	h2, _ := c.Parse("sample.go", goSample, symbols.LangGo)

	if h1 == h2 {
		t.Fatalf("Drop did not force a reparse")
	}
}

func TestFindReferences_LocatesWholeWordMatches(t *testing.T) {
	t.Parallel()

	p := symbols.NewHeuristicProvider()

	_, err := p.Parse("sample.go", goSample, symbols.LangGo)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	// "Name" appears in the struct field (line 4) and in NewWidget's
	// composite literal (line 8); declaration excluded by includeDecl=false.
	refs, err := p.FindReferences("sample.go", 4, 2, "file", false)
	if err != nil {
		t.Fatalf("FindReferences: %v", err)
	}

	for _, r := range refs {
		if r.StartLine == 4 {
			t.Fatalf("FindReferences returned the declaration line despite includeDecl=false: %+v", r)
		}
	}
}

func TestFindReferences_RejectsProjectScope(t *testing.T) {
	t.Parallel()

	p := symbols.NewHeuristicProvider()
	_, _ = p.Parse("sample.go", goSample, symbols.LangGo)

	if _, err := p.FindReferences("sample.go", 4, 2, "project", true); err == nil {
		t.Fatalf("FindReferences(scope=project) succeeded, want error")
	}
}

func TestSpecificity_MethodMoreSpecificThanClass(t *testing.T) {
	t.Parallel()

	if symbols.Specificity(symbols.KindMethod) >= symbols.Specificity(symbols.KindClass) {
		t.Fatalf("Specificity(method)=%d should be lower (more specific) than Specificity(class)=%d",
			symbols.Specificity(symbols.KindMethod), symbols.Specificity(symbols.KindClass))
	}
}
