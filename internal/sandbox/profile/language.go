// Package profile describes the toolchains a job can be built and run with.
package profile

import "compilebox/internal/sandbox/spec"

// LanguageSpec describes how to build and launch one language.
//
// Command templates are split with shell-like quoting after placeholder
// expansion:
//
//	{sources}  space separated compile sources, relative to the workspace
//	{main}     the entry identifier of the primary unit
//	{debug}    DebugArgs when debug is enabled for the job, otherwise empty
type LanguageSpec struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	SourceExt     string   `yaml:"sourceExt"`
	DefaultMain   string   `yaml:"defaultMain"`
	CompileCmdTpl string   `yaml:"compileCmd"`
	RunCmdTpl     string   `yaml:"runCmd"`
	VersionCmdTpl string   `yaml:"versionCmd"`
	DebugArgs     string   `yaml:"debugArgs"`
	Env           []string `yaml:"env"`
	// LaunchFailurePatterns are stderr prefixes the runtime prints when the
	// entry point cannot be started at all.
	LaunchFailurePatterns []string `yaml:"launchFailurePatterns"`
}

// TaskType identifies the job phase a profile applies to.
type TaskType string

const (
	TaskTypeCompile TaskType = "compile"
	TaskTypeRun     TaskType = "run"
)

// TaskProfile holds the default limits for one task type.
type TaskProfile struct {
	TaskType      TaskType           `yaml:"taskType"`
	DefaultLimits spec.ResourceLimit `yaml:"defaultLimits"`
}

// Java returns the built-in Java toolchain definition.
func Java() LanguageSpec {
	return LanguageSpec{
		ID:            "java",
		Name:          "Java",
		SourceExt:     ".java",
		DefaultMain:   "Main",
		CompileCmdTpl: "javac -encoding UTF-8 -d . {sources}",
		RunCmdTpl:     "java -cp . {debug} {main}",
		VersionCmdTpl: "java --version",
		DebugArgs:     "-agentlib:jdwp=transport=dt_socket,server=y,suspend=n,address=*:5005",
		LaunchFailurePatterns: []string{
			"Error: Could not find or load main class",
			"Error: Main method not found",
			"Error: Could not create the Java Virtual Machine",
			"Error: LinkageError occurred while loading main class",
		},
	}
}

// Merge fills empty fields of l from base.
func (l LanguageSpec) Merge(base LanguageSpec) LanguageSpec {
	if l.ID == "" {
		l.ID = base.ID
	}
	if l.Name == "" {
		l.Name = base.Name
	}
	if l.SourceExt == "" {
		l.SourceExt = base.SourceExt
	}
	if l.DefaultMain == "" {
		l.DefaultMain = base.DefaultMain
	}
	if l.CompileCmdTpl == "" {
		l.CompileCmdTpl = base.CompileCmdTpl
	}
	if l.RunCmdTpl == "" {
		l.RunCmdTpl = base.RunCmdTpl
	}
	if l.VersionCmdTpl == "" {
		l.VersionCmdTpl = base.VersionCmdTpl
	}
	if l.DebugArgs == "" {
		l.DebugArgs = base.DebugArgs
	}
	if l.Env == nil {
		l.Env = base.Env
	}
	if l.LaunchFailurePatterns == nil {
		l.LaunchFailurePatterns = base.LaunchFailurePatterns
	}
	return l
}
