// Package source names and writes a job's source units into its workspace.
package source

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"compilebox/internal/sandbox/workspace"
	appErr "compilebox/pkg/errors"
)

const maxNameLen = 255

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_$][A-Za-z0-9_$.\-]*$`)

// Unit is one caller supplied source file. Name may be empty.
type Unit struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Options controls naming and the input limits.
type Options struct {
	SourceExt   string
	DefaultMain string
	MaxFiles    int
	MaxBytes    int64
}

// File is a unit after naming and validation.
type File struct {
	Name    string // slash separated, relative to the workspace
	Content string
	Derived bool
	Entry   string // qualified type name, set for source files
}

// Plan is the validated layout of a job, computed without touching disk.
type Plan struct {
	Files   []File
	Primary File
}

// Materialized describes the files written for a job.
type Materialized struct {
	Primary File
	Entry   string
	// Sources are the compile inputs, relative to the workspace.
	Sources []string
	// Paths are the absolute paths of every written file.
	Paths []string
}

// Prepare names and validates units. It returns an input error for empty
// input, limit violations, unsafe names and duplicates.
func Prepare(units []Unit, opts Options) (Plan, error) {
	opts = opts.withDefaults()
	if len(units) == 0 || allBlank(units) {
		return Plan{}, appErr.InputError(appErr.NoCodeProvided, "code")
	}
	if opts.MaxFiles > 0 && len(units) > opts.MaxFiles {
		return Plan{}, appErr.InputError(appErr.TooManyFiles, "files").
			WithMessagef("Too many files: %d (max %d)", len(units), opts.MaxFiles)
	}
	var total int64
	for _, u := range units {
		total += int64(len(u.Content))
	}
	if opts.MaxBytes > 0 && total > opts.MaxBytes {
		return Plan{}, appErr.InputError(appErr.CodeTooLarge, "code").
			WithMessagef("Source too large: %d bytes (max %d)", total, opts.MaxBytes)
	}

	plan := Plan{Files: make([]File, 0, len(units))}
	seen := make(map[string]bool, len(units))
	primarySet := false
	for i, u := range units {
		f := File{Content: u.Content}
		name := strings.TrimSpace(u.Name)
		if name == "" {
			name, f.Derived = DeriveName(u.Content, opts.DefaultMain)
		}
		if path.Ext(name) == "" {
			name += opts.SourceExt
		}
		if err := ValidateName(name); err != nil {
			return Plan{}, appErr.InputError(appErr.InvalidFileName, fmt.Sprintf("files[%d].name", i)).
				WithMessagef("Invalid file name %q: %v", name, err)
		}
		if seen[name] {
			return Plan{}, appErr.InputError(appErr.DuplicateFileName, fmt.Sprintf("files[%d].name", i)).
				WithMessagef("Duplicate file name %q", name)
		}
		seen[name] = true
		f.Name = name

		if strings.EqualFold(path.Ext(name), opts.SourceExt) {
			base := strings.TrimSuffix(path.Base(name), path.Ext(name))
			f.Entry = EntryPoint(PackageOf(u.Content), base)
			if !primarySet {
				plan.Primary = f
				primarySet = true
			}
		}
		plan.Files = append(plan.Files, f)
	}
	if !primarySet {
		return Plan{}, appErr.InputError(appErr.InvalidFileName, "files").
			WithMessagef("No %s source file provided", opts.SourceExt)
	}
	return plan, nil
}

// Materialize prepares units and writes them into ws.
func Materialize(ws *workspace.Workspace, units []Unit, opts Options) (Materialized, error) {
	plan, err := Prepare(units, opts)
	if err != nil {
		return Materialized{}, err
	}
	return Write(ws, plan)
}

// Write puts a prepared plan on disk.
func Write(ws *workspace.Workspace, plan Plan) (Materialized, error) {
	out := Materialized{
		Primary: plan.Primary,
		Entry:   plan.Primary.Entry,
		Paths:   make([]string, 0, len(plan.Files)),
	}
	for _, f := range plan.Files {
		full, err := ws.Resolve(f.Name)
		if err != nil {
			return Materialized{}, appErr.InputError(appErr.InvalidFileName, "files").
				WithMessagef("Invalid file name %q: %v", f.Name, err)
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return Materialized{}, appErr.Wrapf(err, appErr.WorkspaceError, "Sandbox error: write %s: %v", f.Name, err)
		}
		if err := os.WriteFile(full, []byte(f.Content), 0o644); err != nil {
			return Materialized{}, appErr.Wrapf(err, appErr.WorkspaceError, "Sandbox error: write %s: %v", f.Name, err)
		}
		out.Paths = append(out.Paths, full)
		if f.Entry != "" {
			out.Sources = append(out.Sources, f.Name)
		}
	}
	return out, nil
}

// ValidateName accepts slash separated relative names made of safe segments.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty name")
	case len(name) > maxNameLen:
		return fmt.Errorf("name longer than %d bytes", maxNameLen)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("NUL byte")
	case strings.ContainsRune(name, '\\'):
		return fmt.Errorf("backslash separator")
	case strings.HasPrefix(name, "/"):
		return fmt.Errorf("absolute path")
	case path.Clean(name) != name:
		return fmt.Errorf("path is not clean")
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "." || seg == ".." {
			return fmt.Errorf("relative segment %q", seg)
		}
		if !segmentPattern.MatchString(seg) {
			return fmt.Errorf("unsafe segment %q", seg)
		}
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.SourceExt == "" {
		o.SourceExt = ".java"
	}
	if o.DefaultMain == "" {
		o.DefaultMain = "Main"
	}
	return o
}

func allBlank(units []Unit) bool {
	for _, u := range units {
		if strings.TrimSpace(u.Content) != "" {
			return false
		}
	}
	return true
}
