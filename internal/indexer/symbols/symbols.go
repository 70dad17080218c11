// Package symbols walks a repository and extracts function, class,
// and other top-level declarations using per-language regular
// expressions — a shallow, fast substitute for a real parser that is
// good enough to steer a planner, not to refactor by itself.
package symbols

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/GTWhalley/Refactorio/internal/model"
)

type pattern struct {
	kind model.SymbolKind
	re   *regexp.Regexp
}

// patterns holds, per language, the ordered list of symbol patterns
// tried against every line of a file.
var patterns = map[string][]pattern{
	"python": {
		{model.SymbolFunction, regexp.MustCompile(`^def\s+(\w+)\s*\(`)},
		{model.SymbolClass, regexp.MustCompile(`^class\s+(\w+)\s*[\(:]`)},
		{model.SymbolMethod, regexp.MustCompile(`^\s+def\s+(\w+)\s*\(`)},
		{model.SymbolConstant, regexp.MustCompile(`^([A-Z][A-Z_0-9]+)\s*=`)},
	},
	"javascript": {
		{model.SymbolFunction, regexp.MustCompile(`^(?:export\s+)?(?:async\s+)?function\s+(\w+)\s*\(`)},
		{model.SymbolFunction, regexp.MustCompile(`^(?:export\s+)?const\s+(\w+)\s*=\s*(?:async\s+)?\(`)},
		{model.SymbolFunction, regexp.MustCompile(`^(?:export\s+)?const\s+(\w+)\s*=\s*(?:async\s+)?function`)},
		{model.SymbolClass, regexp.MustCompile(`^(?:export\s+)?class\s+(\w+)`)},
		{model.SymbolConstant, regexp.MustCompile(`^(?:export\s+)?const\s+([A-Z][A-Z_0-9]+)\s*=`)},
	},
	"typescript": {
		{model.SymbolFunction, regexp.MustCompile(`^(?:export\s+)?(?:async\s+)?function\s+(\w+)`)},
		{model.SymbolFunction, regexp.MustCompile(`^(?:export\s+)?const\s+(\w+)\s*=\s*(?:async\s+)?\(`)},
		{model.SymbolClass, regexp.MustCompile(`^(?:export\s+)?class\s+(\w+)`)},
		{model.SymbolInterface, regexp.MustCompile(`^(?:export\s+)?interface\s+(\w+)`)},
		{model.SymbolType, regexp.MustCompile(`^(?:export\s+)?type\s+(\w+)\s*=`)},
		{model.SymbolEnum, regexp.MustCompile(`^(?:export\s+)?enum\s+(\w+)`)},
	},
	"rust": {
		{model.SymbolFunction, regexp.MustCompile(`^(?:pub\s+)?(?:async\s+)?fn\s+(\w+)`)},
		{model.SymbolClass, regexp.MustCompile(`^(?:pub\s+)?struct\s+(\w+)`)},
		{model.SymbolInterface, regexp.MustCompile(`^(?:pub\s+)?trait\s+(\w+)`)},
		{model.SymbolEnum, regexp.MustCompile(`^(?:pub\s+)?enum\s+(\w+)`)},
		{model.SymbolType, regexp.MustCompile(`^(?:pub\s+)?type\s+(\w+)\s*=`)},
		{model.SymbolConstant, regexp.MustCompile(`^(?:pub\s+)?const\s+(\w+):`)},
	},
	"go": {
		{model.SymbolFunction, regexp.MustCompile(`^func\s+(\w+)\s*\(`)},
		{model.SymbolMethod, regexp.MustCompile(`^func\s+\([^)]+\)\s+(\w+)\s*\(`)},
		{model.SymbolClass, regexp.MustCompile(`^type\s+(\w+)\s+struct`)},
		{model.SymbolInterface, regexp.MustCompile(`^type\s+(\w+)\s+interface`)},
		{model.SymbolConstant, regexp.MustCompile(`^const\s+(\w+)\s*=`)},
		{model.SymbolVariable, regexp.MustCompile(`^var\s+(\w+)\s+`)},
	},
	"java": {
		{model.SymbolClass, regexp.MustCompile(`^(?:public\s+)?(?:abstract\s+)?class\s+(\w+)`)},
		{model.SymbolInterface, regexp.MustCompile(`^(?:public\s+)?interface\s+(\w+)`)},
		{model.SymbolEnum, regexp.MustCompile(`^(?:public\s+)?enum\s+(\w+)`)},
		{model.SymbolMethod, regexp.MustCompile(`^\s+(?:public|private|protected)?\s*(?:static\s+)?(?:\w+\s+)+(\w+)\s*\(`)},
	},
	"gdscript": {
		{model.SymbolClass, regexp.MustCompile(`^class_name\s+(\w+)`)},
		{model.SymbolClass, regexp.MustCompile(`^class\s+(\w+)`)},
		{model.SymbolFunction, regexp.MustCompile(`^func\s+(\w+)\s*\(`)},
		{model.SymbolMethod, regexp.MustCompile(`^\t+func\s+(\w+)\s*\(`)},
		{model.SymbolVariable, regexp.MustCompile(`^(?:@export\s+)?var\s+(\w+)`)},
		{model.SymbolVariable, regexp.MustCompile(`^(?:@onready\s+)?var\s+(\w+)`)},
		{model.SymbolConstant, regexp.MustCompile(`^const\s+(\w+)\s*=`)},
		{model.SymbolConstant, regexp.MustCompile(`^enum\s+(\w+)\s*\{`)},
		{model.SymbolFunction, regexp.MustCompile(`^signal\s+(\w+)`)},
	},
}

// extensionMap maps a lowercased file extension to a language key used
// to look up patterns.
var extensionMap = map[string]string{
	".py":       "python",
	".pyi":      "python",
	".js":       "javascript",
	".jsx":      "javascript",
	".mjs":      "javascript",
	".ts":       "typescript",
	".tsx":      "typescript",
	".rs":       "rust",
	".go":       "go",
	".java":     "java",
	".kt":       "kotlin",
	".scala":    "scala",
	".rb":       "ruby",
	".php":      "php",
	".c":        "c",
	".h":        "c",
	".cpp":      "cpp",
	".hpp":      "cpp",
	".cs":       "csharp",
	".gd":       "gdscript",
	".tscn":     "godot_scene",
	".tres":     "godot_resource",
	".gdshader": "gdshader",
}

// textOnlyExtensions are indexed (file metadata only, no symbol
// extraction patterns exist for them) because they carry useful
// project structure even without a recognized symbol grammar.
var textOnlyExtensions = map[string]bool{
	".tscn": true, ".tres": true, ".cfg": true, ".import": true, ".gdshader": true,
}

var defaultExcludes = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/dist/**",
	"**/build/**",
	"**/__pycache__/**",
	"**/.venv/**",
	"**/venv/**",
}

// Extractor walks a repository and builds its symbol index.
type Extractor struct {
	RepoPath string
	Excludes []string

	matcher *gitignore.GitIgnore
}

// NewExtractor builds an Extractor with the given exclude patterns, or
// the default set if none are supplied.
func NewExtractor(repoPath string, excludes []string) *Extractor {
	if len(excludes) == 0 {
		excludes = defaultExcludes
	}
	return &Extractor{
		RepoPath: repoPath,
		Excludes: excludes,
		matcher:  gitignore.CompileIgnoreLines(excludes...),
	}
}

// Index walks every file under RepoPath, detects its language, and
// extracts symbols for languages with a known pattern set. Files whose
// extension only carries structural metadata (no parseable symbols)
// are still indexed with an empty symbol list.
func (x *Extractor) Index() (model.SymbolRegistry, error) {
	var files []model.FileIndexEntry
	var allSymbols []model.Symbol

	err := filepath.Walk(x.RepoPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(x.RepoPath, path)
		if err != nil {
			return err
		}
		if x.matcher.MatchesPath(rel) {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		language, known := extensionMap[ext]
		if !known {
			if !textOnlyExtensions[ext] {
				return nil
			}
			language = strings.TrimPrefix(ext, ".")
		}

		hash, err := hashFile(path)
		if err != nil {
			return nil
		}

		lineCount := countLines(path)
		fileSymbols := extractSymbols(path, rel, language)

		files = append(files, model.FileIndexEntry{
			RelativePath: rel,
			ContentHash:  hash,
			Size:         info.Size(),
			LineCount:    lineCount,
			Language:     language,
			Symbols:      fileSymbols,
		})
		allSymbols = append(allSymbols, fileSymbols...)

		return nil
	})
	if err != nil {
		return model.SymbolRegistry{}, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelativePath < files[j].RelativePath })

	byKind := make(map[model.SymbolKind]int)
	for _, s := range allSymbols {
		byKind[s.Kind]++
	}

	return model.SymbolRegistry{
		Version:       1,
		FileCount:     len(files),
		SymbolCount:   len(allSymbols),
		SymbolsByKind: byKind,
		Files:         files,
		Symbols:       allSymbols,
	}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func countLines(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	count := 0
	for scanner.Scan() {
		count++
	}
	return count
}

func extractSymbols(path, relPath, language string) []model.Symbol {
	langPatterns, ok := patterns[language]
	if !ok {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var symbols []model.Symbol
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		for _, p := range langPatterns {
			m := p.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			name := m[1]
			exported := strings.Contains(strings.ToLower(line), "export") ||
				(language == "python" && !strings.HasPrefix(name, "_"))

			symbols = append(symbols, model.Symbol{
				Name:      name,
				Kind:      p.kind,
				File:      relPath,
				Line:      lineNum,
				Signature: strings.TrimSpace(line),
				Exported:  exported,
			})
			break
		}
	}

	return symbols
}

// FindSymbol returns every symbol whose name contains name
// (case-insensitive).
func FindSymbol(registry model.SymbolRegistry, name string) []model.Symbol {
	needle := strings.ToLower(name)
	var out []model.Symbol
	for _, s := range registry.Symbols {
		if strings.Contains(strings.ToLower(s.Name), needle) {
			out = append(out, s)
		}
	}
	return out
}

// FileSymbols returns every symbol recorded for a specific relative
// file path.
func FileSymbols(registry model.SymbolRegistry, relPath string) []model.Symbol {
	var out []model.Symbol
	for _, s := range registry.Symbols {
		if s.File == relPath {
			out = append(out, s)
		}
	}
	return out
}
