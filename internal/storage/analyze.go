// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/haven-tui/internal/model"
)

// =============================================================================
// REPOSITORY ANALYSIS
// =============================================================================

var languageByExt = map[string]string{
	".go":    "Go",
	".rs":    "Rust",
	".py":    "Python",
	".js":    "JavaScript",
	".jsx":   "JavaScript",
	".ts":    "TypeScript",
	".tsx":   "TypeScript",
	".java":  "Java",
	".kt":    "Kotlin",
	".c":     "C",
	".h":     "C",
	".cpp":   "C++",
	".cc":    "C++",
	".hpp":   "C++",
	".cs":    "C#",
	".rb":    "Ruby",
	".php":   "PHP",
	".swift": "Swift",
	".sh":    "Shell",
	".sql":   "SQL",
	".md":    "Markdown",
	".toml":  "TOML",
	".yaml":  "YAML",
	".yml":   "YAML",
	".json":  "JSON",
}

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	"dist":         true,
	"__pycache__":  true,
	".venv":        true,
}

// AnalyzeRepo walks a repository and summarizes its shape: file count
// and the languages present, ordered by prevalence.
func AnalyzeRepo(path string) (model.RepoAnalysis, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.RepoAnalysis{}, fmt.Errorf("failed to stat repo: %w", err)
	}
	if !info.IsDir() {
		return model.RepoAnalysis{}, fmt.Errorf("repo path %s is not a directory", path)
	}

	files := 0
	langCounts := map[string]int{}

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		files++
		if lang, ok := languageByExt[strings.ToLower(filepath.Ext(p))]; ok {
			langCounts[lang]++
		}
		return nil
	})
	if err != nil {
		return model.RepoAnalysis{}, fmt.Errorf("failed to walk repo: %w", err)
	}

	languages := make([]string, 0, len(langCounts))
	for lang := range langCounts {
		languages = append(languages, lang)
	}
	sort.Slice(languages, func(i, j int) bool {
		if langCounts[languages[i]] != langCounts[languages[j]] {
			return langCounts[languages[i]] > langCounts[languages[j]]
		}
		return languages[i] < languages[j]
	})

	summary := fmt.Sprintf("%s: %d files", filepath.Base(path), files)
	if len(languages) > 0 {
		top := languages
		if len(top) > 3 {
			top = top[:3]
		}
		summary += ", mostly " + strings.Join(top, ", ")
	}

	return model.RepoAnalysis{
		Path:       path,
		Summary:    summary,
		Languages:  languages,
		FileCount:  files,
		AnalyzedAt: time.Now().UTC(),
	}, nil
}
