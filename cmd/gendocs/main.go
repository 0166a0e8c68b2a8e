// Command gendocs generates the tfvc manual pages, markdown reference and
// shell completions.
//
//	gendocs <markdown|man|completions> [out-dir]
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/bolasblack/tfvc/internal/cli"
)

var defaultDirs = map[string]string{
	"markdown":    "docs/commands",
	"man":         "out/man",
	"completions": "out/completions",
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: gendocs <markdown|man|completions> [out-dir]")
		os.Exit(1)
	}
	format := os.Args[1]
	dir, ok := defaultDirs[format]
	if !ok {
		fmt.Printf("Unknown format: %s\n", format)
		os.Exit(1)
	}
	if len(os.Args) > 2 {
		dir = os.Args[2]
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("Failed to create %s: %v", dir, err)
	}

	cmd := cli.GetRootCmd()
	cmd.DisableAutoGenTag = true

	switch format {
	case "markdown":
		generateMarkdown(cmd, dir)
	case "man":
		generateMan(cmd, dir)
	case "completions":
		generateCompletions(cmd, dir)
	}
}

func generateMarkdown(cmd *cobra.Command, dir string) {
	today := time.Now().Format("2006-01-02")
	frontMatter := func(filename string) string {
		base := strings.TrimSuffix(filepath.Base(filename), ".md")
		return fmt.Sprintf("---\ntitle: %q\ndate: %s\n---\n\n", strings.ReplaceAll(base, "_", " "), today)
	}
	link := func(name string) string {
		return "./" + strings.TrimSuffix(name, ".md") + ".md"
	}
	if err := doc.GenMarkdownTreeCustom(cmd, dir, frontMatter, link); err != nil {
		log.Fatalf("Failed to generate markdown: %v", err)
	}
	fmt.Printf("Generated markdown documentation in %s/\n", dir)
}

func generateMan(cmd *cobra.Command, dir string) {
	header := &doc.GenManHeader{
		Title:   "TFVC",
		Section: "1",
		Source:  "tfvc " + cli.Version,
		Manual:  "Team Foundation Version Control",
	}
	if err := doc.GenManTree(cmd, header, dir); err != nil {
		log.Fatalf("Failed to generate man pages: %v", err)
	}
	fmt.Printf("Generated man pages in %s/\n", dir)
}

func generateCompletions(cmd *cobra.Command, dir string) {
	shells := []struct {
		file string
		gen  func(f *os.File) error
	}{
		{"tfvc.bash", func(f *os.File) error { return cmd.GenBashCompletionV2(f, true) }},
		{"tfvc.zsh", func(f *os.File) error { return cmd.GenZshCompletion(f) }},
		{"tfvc.fish", func(f *os.File) error { return cmd.GenFishCompletion(f, true) }},
		{"tfvc.ps1", func(f *os.File) error { return cmd.GenPowerShellCompletionWithDesc(f) }},
	}
	for _, sh := range shells {
		writeCompletion(filepath.Join(dir, sh.file), sh.gen)
	}
	fmt.Printf("Generated shell completions in %s/\n", dir)
}

func writeCompletion(path string, gen func(*os.File) error) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatalf("Failed to create %s: %v", path, err)
	}
	if err := gen(f); err != nil {
		_ = f.Close()
		log.Fatalf("Failed to generate %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("Failed to close %s: %v", path, err)
	}
}
