package planner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/CLIAIMONITOR/internal/env"
)

// projectMarkers maps a recognizable config/manifest filename to the
// project type it indicates, per spec.md §4.5 step 1.
var projectMarkers = map[string]string{
	"package.json":     "Node.js",
	"go.mod":           "Go",
	"Cargo.toml":       "Rust",
	"requirements.txt": "Python",
	"pyproject.toml":   "Python",
	"pom.xml":          "Java (Maven)",
	"build.gradle":     "Java/Kotlin (Gradle)",
	"Gemfile":          "Ruby",
	"composer.json":    "PHP",
	"CMakeLists.txt":   "C/C++ (CMake)",
	"Dockerfile":       "Docker",
}

// commonTools is the set of binaries routinely needed by generated
// subtasks, probed via Environment.ToolAvailable, per spec.md §4.5
// step 1.
var commonTools = []string{"git", "python3", "node", "npm", "go", "cargo", "docker"}

// ProbeSummary is the compact textual description fed into the
// decomposition prompt.
type ProbeSummary struct {
	ProjectTypes   []string
	ConfigFiles    []string
	AvailableTools []string
	MissingTools   []string
	Text           string
}

// ProbeEnvironment scans cwd to depth 3, detects project type/config
// files, and enumerates tool availability, per spec.md §4.5 step 1.
func ProbeEnvironment(ctx context.Context, environment *env.Environment, cwd string) (*ProbeSummary, error) {
	scan, err := environment.ScanDirectory(cwd, 3, false)
	if err != nil {
		return nil, err
	}

	summary := &ProbeSummary{}
	seenTypes := map[string]bool{}
	for _, entry := range scan.Entries {
		if entry.IsDir {
			continue
		}
		base := filepath.Base(entry.Path)
		if kind, ok := projectMarkers[base]; ok {
			summary.ConfigFiles = append(summary.ConfigFiles, entry.Path)
			if !seenTypes[kind] {
				seenTypes[kind] = true
				summary.ProjectTypes = append(summary.ProjectTypes, kind)
			}
		}
	}

	for _, tool := range commonTools {
		if environment.ToolAvailable(ctx, tool) {
			summary.AvailableTools = append(summary.AvailableTools, tool)
		} else {
			summary.MissingTools = append(summary.MissingTools, tool)
		}
	}

	summary.Text = renderProbeSummary(summary)
	return summary, nil
}

func renderProbeSummary(s *ProbeSummary) string {
	var sb strings.Builder
	if len(s.ProjectTypes) == 0 {
		sb.WriteString("Project type: unrecognized\n")
	} else {
		fmt.Fprintf(&sb, "Project type: %s\n", strings.Join(s.ProjectTypes, ", "))
	}
	if len(s.ConfigFiles) > 0 {
		fmt.Fprintf(&sb, "Config files: %s\n", strings.Join(s.ConfigFiles, ", "))
	}
	fmt.Fprintf(&sb, "Available tools: %s\n", strings.Join(s.AvailableTools, ", "))
	if len(s.MissingTools) > 0 {
		fmt.Fprintf(&sb, "Missing tools: %s\n", strings.Join(s.MissingTools, ", "))
	}
	return sb.String()
}
