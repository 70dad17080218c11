package symbols

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/GTWhalley/Refactorio/internal/model"
)

func TestIndexExtractsGoSymbols(t *testing.T) {
	dir := t.TempDir()
	src := "package main\n\nfunc Hello() string {\n\treturn \"hi\"\n}\n\ntype Greeter struct{}\n\nfunc (g Greeter) Greet() {}\n"
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte(src), 0644); err != nil {
		t.Fatal(err)
	}

	registry, err := NewExtractor(dir, nil).Index()
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if registry.FileCount != 1 {
		t.Fatalf("FileCount = %d, want 1", registry.FileCount)
	}

	var names []string
	for _, s := range registry.Symbols {
		names = append(names, s.Name)
	}
	assertContains(t, names, "Hello")
	assertContains(t, names, "Greeter")
	assertContains(t, names, "Greet")

	if registry.SymbolsByKind[model.SymbolFunction] == 0 {
		t.Error("expected at least one function symbol")
	}
}

func TestIndexExcludesVendorDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "node_modules", "pkg"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "node_modules", "pkg", "index.js"), []byte("function x() {}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("function main() {}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	registry, err := NewExtractor(dir, nil).Index()
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if registry.FileCount != 1 {
		t.Fatalf("FileCount = %d, want 1 (node_modules should be excluded)", registry.FileCount)
	}
}

func TestFindSymbol(t *testing.T) {
	registry := model.SymbolRegistry{
		Symbols: []model.Symbol{
			{Name: "ParseConfig", Kind: model.SymbolFunction, File: "config.go"},
			{Name: "ParseArgs", Kind: model.SymbolFunction, File: "args.go"},
			{Name: "Serve", Kind: model.SymbolFunction, File: "server.go"},
		},
	}
	matches := FindSymbol(registry, "parse")
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
}

func assertContains(t *testing.T, haystack []string, needle string) {
	t.Helper()
	for _, s := range haystack {
		if s == needle {
			return
		}
	}
	t.Errorf("expected %v to contain %q", haystack, needle)
}
