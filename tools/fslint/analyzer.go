// Package fslint reports disk access that bypasses afero in tfvc packages.
package fslint

import (
	"fmt"
	"go/ast"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/tools/go/analysis"
)

var configFile string

// Config selects the packages to scan and the calls they may not make.
type Config struct {
	ScanDirs        []string            `toml:"scan_dirs"`
	AllowedPackages []string            `toml:"allowed_packages"`
	ForbiddenCalls  map[string][]string `toml:"forbidden_calls"`
}

// DefaultConfig scans internal/ and lets only the environment package
// touch the host filesystem.
func DefaultConfig() *Config {
	return &Config{
		ScanDirs:        []string{"internal/"},
		AllowedPackages: []string{"internal/util"},
		ForbiddenCalls: map[string][]string{
			"os": {
				"Chmod", "Chtimes", "Create", "CreateTemp", "DirFS", "Lstat", "Mkdir", "MkdirAll",
				"MkdirTemp", "Open", "OpenFile", "ReadDir", "ReadFile", "Remove", "RemoveAll",
				"Rename", "Stat", "Truncate", "WriteFile",
			},
			"io/ioutil":     {"ReadAll", "ReadDir", "ReadFile", "TempDir", "TempFile", "WriteFile"},
			"path/filepath": {"Glob", "Walk", "WalkDir"},
		},
	}
}

// Analyzer is the fslint analyzer.
var Analyzer = &analysis.Analyzer{
	Name: "fslint",
	Doc:  "reports direct filesystem calls in packages that must go through afero",
	Run:  run,
}

func init() {
	Analyzer.Flags.StringVar(&configFile, "config", "", "path to an fslint TOML file (default: built-in rules)")
}

// loadConfig reads path, or returns DefaultConfig when path is empty.
// Keys missing from the file keep their default.
func loadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fslint config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse fslint config: %w", err)
	}
	return cfg, nil
}

func run(pass *analysis.Pass) (any, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	pkgPath := pass.Pkg.Path()
	if !shouldScanPackage(pkgPath, cfg.ScanDirs) || isAllowedPackage(pkgPath, cfg.AllowedPackages) {
		return nil, nil
	}

	forbidden := forbiddenSet(cfg.ForbiddenCalls)
	for _, file := range pass.Files {
		if isTestFile(pass, file) {
			continue
		}
		imports := buildImportMap(file)
		ast.Inspect(file, func(n ast.Node) bool {
			sel, ok := n.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			ident, ok := sel.X.(*ast.Ident)
			if !ok {
				return true
			}
			importPath, ok := imports[ident.Name]
			if !ok {
				return true
			}
			// Method values such as `read := os.ReadFile` count as well.
			if forbidden[importPath][sel.Sel.Name] {
				pass.Reportf(sel.Pos(), "%s.%s reaches the host filesystem; use the afero.Fs of the component", ident.Name, sel.Sel.Name)
			}
			return true
		})
	}
	return nil, nil
}

func forbiddenSet(calls map[string][]string) map[string]map[string]bool {
	set := make(map[string]map[string]bool, len(calls))
	for pkg, funcs := range calls {
		set[pkg] = make(map[string]bool, len(funcs))
		for _, fn := range funcs {
			set[pkg][fn] = true
		}
	}
	return set
}

// Test files are not checked.
func isTestFile(pass *analysis.Pass, file *ast.File) bool {
	name := pass.Fset.Position(file.Pos()).Filename
	return strings.HasSuffix(name, "_test.go")
}

func shouldScanPackage(pkgPath string, scanDirs []string) bool {
	for _, dir := range scanDirs {
		if strings.Contains(pkgPath, "/"+dir) || strings.HasPrefix(pkgPath, dir) {
			return true
		}
	}
	return false
}

func isAllowedPackage(pkgPath string, allowedPackages []string) bool {
	for _, allowed := range allowedPackages {
		if matchesPackagePath(pkgPath, allowed) {
			return true
		}
	}
	return false
}

// matchesPackagePath reports whether pkgPath is pattern or one of its
// subpackages, with or without the module prefix.
func matchesPackagePath(pkgPath, pattern string) bool {
	return strings.HasSuffix(pkgPath, "/"+pattern) ||
		strings.Contains(pkgPath, "/"+pattern+"/") ||
		pkgPath == pattern ||
		strings.HasPrefix(pkgPath, pattern+"/")
}

// buildImportMap maps the local names of a file's imports to their paths.
// Blank and dot imports are skipped.
func buildImportMap(file *ast.File) map[string]string {
	imports := make(map[string]string)
	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		name := path[strings.LastIndex(path, "/")+1:]
		if imp.Name != nil {
			name = imp.Name.Name
		}
		if name == "_" || name == "." {
			continue
		}
		imports[name] = path
	}
	return imports
}
