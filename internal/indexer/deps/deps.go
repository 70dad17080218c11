// Package deps builds an import graph over a repository so the
// planner can weigh a batch's risk by how many other files would be
// affected by touching it.
package deps

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/GTWhalley/Refactorio/internal/model"
)

// importPattern matches one import-statement shape; moduleGroup names
// which capture group holds the module/path being imported (1-indexed
// into FindStringSubmatch's result).
type importPattern struct {
	re          *regexp.Regexp
	moduleGroup int
}

var importPatterns = map[string][]importPattern{
	"python": {
		{regexp.MustCompile(`^from\s+([\w.]+)\s+import\s+(.+)$`), 1},
		{regexp.MustCompile(`^import\s+([\w., ]+)$`), 1},
	},
	"javascript": {
		{regexp.MustCompile(`^import\s+(?:(\w+)(?:\s*,\s*)?)?(?:\{([^}]+)\})?\s*from\s*['"]([^'"]+)['"]`), 3},
		{regexp.MustCompile(`^import\s*['"]([^'"]+)['"]`), 1},
		{regexp.MustCompile(`(?:const|let|var)\s+(?:(\w+)|\{([^}]+)\})\s*=\s*require\(['"]([^'"]+)['"]\)`), 3},
	},
	"typescript": {
		{regexp.MustCompile(`^import\s+(?:(\w+)(?:\s*,\s*)?)?(?:\{([^}]+)\})?\s*from\s*['"]([^'"]+)['"]`), 3},
		{regexp.MustCompile(`^import\s*['"]([^'"]+)['"]`), 1},
		{regexp.MustCompile(`^import\s+type\s+\{([^}]+)\}\s*from\s*['"]([^'"]+)['"]`), 2},
	},
	"rust": {
		{regexp.MustCompile(`^use\s+((?:crate|super|self)?(?:::\w+)+)(?:::(?:\{([^}]+)\}|\*|(\w+)))?`), 1},
		{regexp.MustCompile(`^extern\s+crate\s+(\w+)`), 1},
	},
	"go": {
		{regexp.MustCompile(`^import\s+"([^"]+)"`), 1},
		{regexp.MustCompile(`^\s+"([^"]+)"`), 1},
	},
}

var extensionMap = map[string]string{
	".py":  "python",
	".pyi": "python",
	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".ts":  "typescript",
	".tsx": "typescript",
	".rs":  "rust",
	".go":  "go",
}

var defaultExcludes = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/dist/**",
	"**/build/**",
	"**/__pycache__/**",
	"**/.venv/**",
}

type rawImport struct {
	module     string
	file       string
	isRelative bool
}

// Analyzer builds an import graph over a repository using
// language-specific regex patterns on raw source lines.
type Analyzer struct {
	RepoPath string
	Excludes []string

	matcher *gitignore.GitIgnore
}

// NewAnalyzer builds an Analyzer with the given exclude patterns, or
// the default set if none are supplied.
func NewAnalyzer(repoPath string, excludes []string) *Analyzer {
	if len(excludes) == 0 {
		excludes = defaultExcludes
	}
	return &Analyzer{
		RepoPath: repoPath,
		Excludes: excludes,
		matcher:  gitignore.CompileIgnoreLines(excludes...),
	}
}

// Analyze walks the repository and returns the resulting dependency
// graph, resolving relative imports to in-repo file paths where
// possible and recording everything else as an external dependency.
func (a *Analyzer) Analyze() (model.DependencyGraph, error) {
	nodes := make(map[string]*model.DependencyNode)
	var allImports []rawImport

	err := filepath.Walk(a.RepoPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(a.RepoPath, path)
		if err != nil {
			return err
		}
		if a.matcher.MatchesPath(rel) {
			return nil
		}

		language, ok := extensionMap[strings.ToLower(filepath.Ext(path))]
		if !ok {
			return nil
		}

		if _, exists := nodes[rel]; !exists {
			nodes[rel] = &model.DependencyNode{Path: rel}
		}

		fileImports := extractImports(path, rel, language)
		allImports = append(allImports, fileImports...)

		for _, imp := range fileImports {
			resolved := resolveImport(a.RepoPath, imp.module, rel, language)
			if resolved != "" {
				nodes[rel].Imports = append(nodes[rel].Imports, resolved)
				if _, exists := nodes[resolved]; !exists {
					nodes[resolved] = &model.DependencyNode{Path: resolved}
				}
				nodes[resolved].ImportedBy = append(nodes[resolved].ImportedBy, rel)
			} else if !imp.isRelative {
				nodes[rel].ExternalDeps = append(nodes[rel].ExternalDeps, imp.module)
			}
		}

		return nil
	})
	if err != nil {
		return model.DependencyGraph{}, err
	}

	return model.DependencyGraph{Nodes: nodes}, nil
}

func extractImports(path, relPath, language string) []rawImport {
	langPatterns, ok := importPatterns[language]
	if !ok {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var imports []rawImport
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		for _, p := range langPatterns {
			m := p.re.FindStringSubmatch(line)
			if m == nil || p.moduleGroup >= len(m) {
				continue
			}

			module := strings.TrimSpace(m[p.moduleGroup])
			if language == "python" {
				module = strings.TrimSpace(strings.Split(module, ",")[0])
			}
			if module == "" {
				break
			}

			imports = append(imports, rawImport{
				module:     module,
				file:       relPath,
				isRelative: isRelativeImport(module, language),
			})
			break
		}
	}

	return imports
}

func isRelativeImport(module, language string) bool {
	switch language {
	case "python":
		return strings.HasPrefix(module, ".")
	case "javascript", "typescript":
		return strings.HasPrefix(module, ".") || strings.HasPrefix(module, "/")
	case "rust":
		return strings.HasPrefix(module, "crate") || strings.HasPrefix(module, "super") || strings.HasPrefix(module, "self")
	case "go":
		return !strings.HasPrefix(module, "github.com") && strings.Contains(module, "/")
	default:
		return false
	}
}

// resolveImport tries to map a raw module reference onto an in-repo
// file path, the same best-effort, extension-probing strategy across
// Python and JS/TS that the indexer uses to decide internal vs.
// external dependencies.
func resolveImport(repoPath, module string, fromFile, language string) string {
	switch language {
	case "python":
		return resolvePython(repoPath, module, fromFile)
	case "javascript", "typescript":
		return resolveJS(repoPath, module, fromFile)
	default:
		return ""
	}
}

func resolvePython(repoPath, module, fromFile string) string {
	var target string
	if strings.HasPrefix(module, ".") {
		levels := len(module) - len(strings.TrimLeft(module, "."))
		parts := strings.Split(strings.TrimLeft(module, "."), ".")
		base := filepath.Dir(fromFile)
		for i := 0; i < levels-1; i++ {
			base = filepath.Dir(base)
		}
		target = filepath.Join(base, filepath.Join(parts...))
	} else {
		target = strings.Join(strings.Split(module, "."), "/")
	}

	for _, suffix := range []string{".py", string(filepath.Separator) + "__init__.py"} {
		candidate := filepath.Join(repoPath, target+suffix)
		if fileExists(candidate) {
			rel, err := filepath.Rel(repoPath, candidate)
			if err == nil {
				return rel
			}
		}
	}
	return ""
}

func resolveJS(repoPath, module, fromFile string) string {
	if !strings.HasPrefix(module, ".") {
		return ""
	}
	base := filepath.Join(repoPath, filepath.Dir(fromFile))
	target := filepath.Join(base, module)

	for _, suffix := range []string{"", ".js", ".jsx", ".ts", ".tsx", "/index.js", "/index.ts"} {
		candidate := target + suffix
		if fileExists(candidate) {
			rel, err := filepath.Rel(repoPath, candidate)
			if err == nil {
				return rel
			}
		}
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Hotspots returns nodes with at least minFanIn dependents, ordered by
// descending fan-in — files risky to modify because many others rely
// on them.
func Hotspots(graph model.DependencyGraph, minFanIn int) []*model.DependencyNode {
	var hotspots []*model.DependencyNode
	for _, node := range graph.Nodes {
		if node.FanIn() >= minFanIn {
			hotspots = append(hotspots, node)
		}
	}
	sort.Slice(hotspots, func(i, j int) bool { return hotspots[i].FanIn() > hotspots[j].FanIn() })
	return hotspots
}

// Leaves returns nodes with no dependents — safe to modify in
// isolation.
func Leaves(graph model.DependencyGraph) []*model.DependencyNode {
	var leaves []*model.DependencyNode
	for _, node := range graph.Nodes {
		if node.FanIn() == 0 {
			leaves = append(leaves, node)
		}
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].Path < leaves[j].Path })
	return leaves
}

// ExternalDependencies returns every external package referenced
// anywhere in the graph, with its usage count, most-used first.
func ExternalDependencies(graph model.DependencyGraph) []ExternalDep {
	counts := make(map[string]int)
	for _, node := range graph.Nodes {
		for _, dep := range node.ExternalDeps {
			counts[dep]++
		}
	}

	deps := make([]ExternalDep, 0, len(counts))
	for name, count := range counts {
		deps = append(deps, ExternalDep{Name: name, Count: count})
	}
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Count != deps[j].Count {
			return deps[i].Count > deps[j].Count
		}
		return deps[i].Name < deps[j].Name
	})
	return deps
}

// ExternalDep is one external package and how many files reference it.
type ExternalDep struct {
	Name  string
	Count int
}

// DependencyChain returns every file transitively affected by changing
// path (its dependents, and their dependents, and so on), excluding
// path itself.
func DependencyChain(graph model.DependencyGraph, path string) []string {
	affected := make(map[string]bool)
	toVisit := []string{path}

	for len(toVisit) > 0 {
		current := toVisit[0]
		toVisit = toVisit[1:]
		if affected[current] {
			continue
		}
		affected[current] = true

		if node, ok := graph.Nodes[current]; ok {
			toVisit = append(toVisit, node.ImportedBy...)
		}
	}

	delete(affected, path)

	out := make([]string, 0, len(affected))
	for p := range affected {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
