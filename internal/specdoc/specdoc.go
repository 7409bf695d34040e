// Package specdoc owns the spec directory: the structured JSON artifacts the
// phases write (requirements, research, plan, tasks), schema validation of
// those artifacts, and the bounded repair loop that asks the execution agent
// to fix invalid ones.
package specdoc

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Kind names one phase artifact family.
type Kind string

const (
	KindRequirements Kind = "requirements"
	KindResearch     Kind = "research"
	KindPlan         Kind = "plan"
	KindTasks        Kind = "tasks"
)

// patterns are resolved relative to the spec directory. Tasks may be sharded
// into one file per task under tasks/.
var patterns = map[Kind][]string{
	KindRequirements: {"requirements.json"},
	KindResearch:     {"research.json"},
	KindPlan:         {"plan.json"},
	KindTasks:        {"tasks.json", "tasks/*.json"},
}

// Patterns returns the glob patterns for a kind, relative to the spec dir.
func Patterns(kind Kind) []string {
	return patterns[kind]
}

// Discover lists existing artifact files for a kind, sorted. An empty result
// with a nil error means no artifact has been written yet.
func Discover(specDir string, kind Kind) ([]string, error) {
	pats, ok := patterns[kind]
	if !ok {
		return nil, fmt.Errorf("unknown artifact kind %q", kind)
	}
	var files []string
	for _, pat := range pats {
		matches, err := doublestar.FilepathGlob(filepath.Join(specDir, pat))
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pat, err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

// FileError collects the validation errors for one artifact file.
type FileError struct {
	Path   string
	Errors []string
}

func (fe FileError) String() string {
	return fmt.Sprintf("%s: %s", fe.Path, strings.Join(fe.Errors, "; "))
}

// ValidationFailure is the fatal error produced when the repair loop
// exhausts its attempts. It carries the last round of concrete errors so the
// run record can surface them verbatim.
type ValidationFailure struct {
	SpecDir string
	Files   []FileError
}

func (e *ValidationFailure) Error() string {
	parts := make([]string, 0, len(e.Files))
	for _, fe := range e.Files {
		parts = append(parts, fe.String())
	}
	return fmt.Sprintf("spec validation failed in %s: %s", e.SpecDir, strings.Join(parts, " | "))
}

// Messages flattens the per-file errors into one list for RunState.
func (e *ValidationFailure) Messages() []string {
	var out []string
	for _, fe := range e.Files {
		for _, msg := range fe.Errors {
			out = append(out, fe.Path+": "+msg)
		}
	}
	return out
}
